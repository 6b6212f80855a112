package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/conduit-lang/webscript/internal/repo"
)

// resultSet is a materialized result; rows are read before the query returns
type resultSet struct {
	refs []repo.NodeRef
}

func (r *resultSet) Len() int { return len(r.refs) }
func (r *resultSet) NodeRef(i int) repo.NodeRef { return r.refs[i] }
func (r *resultSet) NodeRefs() []repo.NodeRef { return r.refs }

// Close drops the rows; the set is empty afterwards
func (r *resultSet) Close() error {
	r.refs = nil
	return nil
}

// Query executes a path or full-text query
func (s *Store) Query(ctx context.Context, q repo.Query) (repo.ResultSet, error) {
	var (
		refs []repo.NodeRef
		err  error
	)
	switch q.Language {
	case repo.LanguagePath:
		refs, err = s.queryPath(ctx, q)
	case repo.LanguageFTS:
		refs, err = s.queryFTS(ctx, q)
	default:
		err = fmt.Errorf("unsupported query language %q", q.Language)
	}
	if err != nil {
		var qe *repo.QueryError
		if errors.As(err, &qe) {
			return nil, err
		}
		return nil, &repo.QueryError{Language: q.Language, Query: q.Statement, Err: err}
	}

	visible := make([]repo.NodeRef, 0, len(refs))
	for _, ref := range refs {
		ok, err := s.HasPermission(ctx, ref, repo.PermissionRead)
		if err != nil {
			return nil, &repo.QueryError{Language: q.Language, Query: q.Statement, Err: err}
		}
		if ok {
			visible = append(visible, ref)
		}
		if q.Limit > 0 && len(visible) >= q.Limit {
			break
		}
	}
	return &resultSet{refs: visible}, nil
}

// queryPath walks one equality predicate per step below the root
func (s *Store) queryPath(ctx context.Context, q repo.Query) ([]repo.NodeRef, error) {
	root := q.Root
	if root.IsZero() {
		store := q.Store
		if store == (repo.StoreRef{}) {
			store = repo.SpacesStore
		}
		var err error
		if root, err = s.GetRootNode(ctx, store); err != nil {
			return nil, err
		}
	}

	current := []string{root.ID}
	for _, step := range strings.Split(strings.Trim(q.Statement, "/"), "/") {
		if step == "" || step == "." {
			continue
		}
		name := step
		if strings.HasPrefix(step, "$") {
			v, ok := q.Params[step[1:]]
			if !ok {
				return nil, fmt.Errorf("unbound query parameter %s", step)
			}
			name = v
		}

		var next []string
		for _, parentID := range current {
			ids, err := s.ids(ctx, `SELECT id FROM ws_nodes WHERE parent_id = ? AND name = ? ORDER BY id`, parentID, name)
			if err != nil {
				return nil, err
			}
			next = append(next, ids...)
		}
		if len(next) == 0 {
			return nil, nil
		}
		current = next
	}

	refs := make([]repo.NodeRef, 0, len(current))
	for _, id := range current {
		refs = append(refs, repo.NodeRef{Store: root.Store, ID: id})
	}
	return refs, nil
}

// queryFTS supports bare terms, TYPE:x, ASPECT:x and @prop:value tokens, ANDed together
func (s *Store) queryFTS(ctx context.Context, q repo.Query) ([]repo.NodeRef, error) {
	store := q.Store
	if store == (repo.StoreRef{}) {
		store = repo.SpacesStore
	}

	var (
		where = []string{"n.store = ?", "n.parent_id IS NOT NULL"}
		args  = []any{store.String()}
	)
	tokens := tokenize(q.Statement)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty query")
	}
	for _, tok := range tokens {
		key, value, hasKey := strings.Cut(tok, ":")
		switch {
		case hasKey && strings.EqualFold(key, "TYPE"):
			where = append(where, "n.type = ?")
			args = append(args, unquote(value))
		case hasKey && strings.EqualFold(key, "ASPECT"):
			where = append(where, "EXISTS (SELECT 1 FROM ws_aspects a WHERE a.node_id = n.id AND a.aspect = ?)")
			args = append(args, unquote(value))
		case hasKey && strings.HasPrefix(key, "@"):
			prop, val := splitPropToken(tok[1:])
			where = append(where,
				`EXISTS (SELECT 1 FROM ws_properties p WHERE p.node_id = n.id AND p.name = ? AND LOWER(p.value) LIKE ? ESCAPE '\')`)
			args = append(args, prop, containsPattern(val))
		default:
			like := containsPattern(unquote(tok))
			where = append(where, `(LOWER(n.name) LIKE ? ESCAPE '\'
				OR EXISTS (SELECT 1 FROM ws_properties p WHERE p.node_id = n.id AND p.name IN (?, ?) AND LOWER(p.value) LIKE ? ESCAPE '\')
				OR EXISTS (SELECT 1 FROM ws_content c WHERE c.node_id = n.id AND LOWER(c.text) LIKE ? ESCAPE '\'))`)
			args = append(args, like, repo.PropTitle, repo.PropDescription, like, like)
		}
	}

	query := "SELECT DISTINCT n.id, n.name FROM ws_nodes n WHERE " + strings.Join(where, " AND ") + " ORDER BY n.name, n.id"
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []repo.NodeRef
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		refs = append(refs, repo.NodeRef{Store: store, ID: id})
	}
	return refs, rows.Err()
}

func (s *Store) ids(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// tokenize splits on whitespace while keeping double-quoted phrases together
func tokenize(statement string) []string {
	var (
		tokens  []string
		current strings.Builder
		quoted  bool
	)
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	for _, r := range statement {
		switch {
		case r == '"':
			quoted = !quoted
			current.WriteRune(r)
		case (r == ' ' || r == '\t' || r == '\n') && !quoted:
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// splitPropToken splits cm\:name:value (escaped prefix colon) into property and value
func splitPropToken(tok string) (string, string) {
	tok = strings.ReplaceAll(tok, `\:`, "\x00")
	prop, val, _ := strings.Cut(tok, ":")
	return strings.ReplaceAll(prop, "\x00", ":"), unquote(strings.ReplaceAll(val, "\x00", ":"))
}

func unquote(s string) string {
	return strings.Trim(s, `"`)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// containsPattern builds a case-insensitive LIKE pattern matching term
// literally anywhere in the value
func containsPattern(term string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(term)) + "%"
}
