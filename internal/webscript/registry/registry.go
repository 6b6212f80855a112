// Package registry indexes web script descriptions by id and by URL, and
// resolves requests to a script.
package registry

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conduit-lang/webscript/internal/webscript/description"
	"go.uber.org/zap"
)

// ConflictError reports two scripts claiming the same method and URL prefix
type ConflictError struct {
	Key       string
	Existing  string
	Candidate string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("url %s of web script %s is already claimed by %s", e.Key, e.Candidate, e.Existing)
}

// Match is the result of resolving a request
type Match struct {
	Description *description.Description
	URL         description.URL
	// Prefix is the static prefix of the matched URL template
	Prefix string
	// Extension is the part of the path beyond the static prefix
	Extension string
	// Args holds the values of the {tokens} of the URL template
	Args map[string]string
}

// QueryArgs resolves the tokens declared in the query part of the URL
// template, e.g. q={term} in /search?q={term}. Absent parameters are omitted.
func (m *Match) QueryArgs(values url.Values) map[string]string {
	out := map[string]string{}
	_, query, ok := strings.Cut(m.URL.Template, "?")
	if !ok {
		return out
	}
	for _, pair := range strings.Split(query, "&") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		sub := tokenPattern.FindStringSubmatch(value)
		if sub == nil || !values.Has(name) {
			continue
		}
		out[strings.TrimSuffix(sub[1], "?")] = values.Get(name)
	}
	return out
}

type entry struct {
	key     string
	prefix  string
	desc    *description.Description
	url     description.URL
	pattern *regexp.Regexp
	names   []string
}

// index is an immutable snapshot
type index struct {
	byID   map[string]*description.Description
	ids    []string
	byKey  map[string]*entry
	keys   []string
	loaded time.Time
}

func emptyIndex() *index {
	return &index{byID: map[string]*description.Description{}, byKey: map[string]*entry{}}
}

// Registry holds the current index. Lookups are lock free; Reset builds a new
// index and swaps it in only when every store loaded cleanly.
type Registry struct {
	stores  []description.Store
	current atomic.Pointer[index]
	mu      sync.Mutex
	logger  *zap.Logger
}

// New creates an empty registry over stores in priority order
func New(logger *zap.Logger, stores ...description.Store) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{stores: stores, logger: logger}
	r.current.Store(emptyIndex())
	return r
}

// StaticPrefix returns the part of a URL template before any query or token
func StaticPrefix(template string) string {
	if i := strings.Index(template, "?"); i >= 0 {
		template = template[:i]
	}
	if i := strings.Index(template, "{"); i >= 0 {
		template = template[:i]
	}
	return template
}

func key(method, path string) string {
	return method + ":" + path
}

var tokenPattern = regexp.MustCompile(`\{([^}]+)\}`)

// compileTemplate turns the path part of a URL template into a pattern
// capturing its tokens. A token ending the template captures the rest of the path.
func compileTemplate(template string) (*regexp.Regexp, []string) {
	if i := strings.Index(template, "?"); i >= 0 {
		template = template[:i]
	}
	locs := tokenPattern.FindAllStringSubmatchIndex(template, -1)
	if len(locs) == 0 {
		return nil, nil
	}

	var (
		b     strings.Builder
		names []string
		last  int
	)
	b.WriteString("^")
	for _, loc := range locs {
		b.WriteString(regexp.QuoteMeta(template[last:loc[0]]))
		names = append(names, template[loc[2]:loc[3]])
		if loc[1] == len(template) {
			b.WriteString("(.+)")
		} else {
			b.WriteString("([^/]+)")
		}
		last = loc[1]
	}
	b.WriteString(regexp.QuoteMeta(template[last:]))
	b.WriteString("(?:/.*)?$")
	return regexp.MustCompile(b.String()), names
}

// Reset rebuilds the index from all stores. On any failure the previous
// index stays in place.
func (r *Registry) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := emptyIndex()
	for _, store := range r.stores {
		descs, err := store.Load(ctx)
		if err != nil {
			r.logger.Error("web script reset failed", zap.String("store", store.Name()), zap.Error(err))
			return err
		}
		for _, d := range descs {
			if prev, ok := next.byID[d.ID]; ok {
				r.logger.Warn("duplicate web script id skipped",
					zap.String("id", d.ID),
					zap.String("store", store.Name()),
					zap.String("kept", prev.Store))
				continue
			}
			if err := next.add(d); err != nil {
				r.logger.Error("web script reset failed", zap.String("store", store.Name()), zap.Error(err))
				return err
			}
		}
	}
	next.seal()

	r.current.Store(next)
	r.logger.Info("web scripts registered", zap.Int("scripts", len(next.ids)), zap.Int("urls", len(next.keys)))
	return nil
}

func (x *index) add(d *description.Description) error {
	staged := make(map[string]*entry, len(d.URLs))
	for _, u := range d.URLs {
		prefix := StaticPrefix(u.Template)
		k := key(d.Method, prefix)
		if existing, ok := x.byKey[k]; ok && existing.desc.ID != d.ID {
			return &ConflictError{Key: k, Existing: existing.desc.ID, Candidate: d.ID}
		}
		if _, ok := staged[k]; ok {
			continue
		}
		pattern, names := compileTemplate(u.Template)
		staged[k] = &entry{key: k, prefix: prefix, desc: d, url: u, pattern: pattern, names: names}
	}
	for k, e := range staged {
		if _, ok := x.byKey[k]; !ok {
			x.byKey[k] = e
		}
	}
	x.byID[d.ID] = d
	return nil
}

func (x *index) seal() {
	x.ids = make([]string, 0, len(x.byID))
	for id := range x.byID {
		x.ids = append(x.ids, id)
	}
	sort.Strings(x.ids)

	x.keys = make([]string, 0, len(x.byKey))
	for k := range x.byKey {
		x.keys = append(x.keys, k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(x.keys)))
	x.loaded = time.Now()
}

// Lookup resolves a method and path. The first key in descending order that
// prefixes METHOD:path wins.
func (r *Registry) Lookup(method, path string) (*Match, bool) {
	x := r.current.Load()
	target := key(strings.ToUpper(method), path)
	for _, k := range x.keys {
		if !strings.HasPrefix(target, k) {
			continue
		}
		e := x.byKey[k]
		m := &Match{
			Description: e.desc,
			URL:         e.url,
			Prefix:      e.prefix,
			Extension:   path[len(e.prefix):],
			Args:        map[string]string{},
		}
		if e.pattern != nil {
			if sub := e.pattern.FindStringSubmatch(path); sub != nil {
				for i, name := range e.names {
					m.Args[name] = sub[i+1]
				}
			}
		}
		return m, true
	}
	return nil, false
}

// AllowedMethods returns the methods that would match path, sorted
func (r *Registry) AllowedMethods(path string) []string {
	x := r.current.Load()
	seen := map[string]bool{}
	var methods []string
	for _, k := range x.keys {
		method, prefix, _ := strings.Cut(k, ":")
		if strings.HasPrefix(path, prefix) && !seen[method] {
			seen[method] = true
			methods = append(methods, method)
		}
	}
	sort.Strings(methods)
	return methods
}

// ByID returns a description by id
func (r *Registry) ByID(id string) (*description.Description, bool) {
	d, ok := r.current.Load().byID[id]
	return d, ok
}

// Scripts returns every registered description ordered by id
func (r *Registry) Scripts() []*description.Description {
	x := r.current.Load()
	out := make([]*description.Description, len(x.ids))
	for i, id := range x.ids {
		out[i] = x.byID[id]
	}
	return out
}

// URLKeys returns the METHOD:prefix keys in lookup order
func (r *Registry) URLKeys() []string {
	x := r.current.Load()
	return append([]string(nil), x.keys...)
}

// Stores returns the stores in priority order
func (r *Registry) Stores() []description.Store {
	return r.stores
}

// LoadedAt returns the time of the last successful reset
func (r *Registry) LoadedAt() time.Time {
	return r.current.Load().loaded
}
