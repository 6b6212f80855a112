package templating

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	htmltemplate "html/template"
	"io"
	"strconv"
	texttemplate "text/template"

	lru "github.com/hashicorp/golang-lru"
)

// Processor kinds accepted in Config.Processors
const (
	KindText = "text"
	KindHTML = "html"
)

// literalCacheSize bounds the compiled cache for ProcessString
const literalCacheSize = 16

type compiled interface {
	execute(w io.Writer, funcs map[string]any, data any) error
}

type textCompiled struct{ t *texttemplate.Template }

func (c textCompiled) execute(w io.Writer, funcs map[string]any, data any) error {
	t, err := c.t.Clone()
	if err != nil {
		return err
	}
	return t.Funcs(funcs).Execute(w, data)
}

type htmlCompiled struct{ t *htmltemplate.Template }

func (c htmlCompiled) execute(w io.Writer, funcs map[string]any, data any) error {
	t, err := c.t.Clone()
	if err != nil {
		return err
	}
	return t.Funcs(funcs).Execute(w, data)
}

// Processor compiles and executes templates of one kind
type Processor struct {
	kind     string
	loader   *Loader
	compiled *lru.Cache
	literals *lru.Cache
}

func newProcessor(kind string, loader *Loader, cacheSize int) (*Processor, error) {
	if kind != KindText && kind != KindHTML {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrNoProcessor, kind)
	}
	compiledCache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	literals, err := lru.New(literalCacheSize)
	if err != nil {
		return nil, err
	}
	return &Processor{kind: kind, loader: loader, compiled: compiledCache, literals: literals}, nil
}

// Kind returns the processor kind
func (p *Processor) Kind() string {
	return p.kind
}

func (p *Processor) compile(name, text string) (compiled, error) {
	funcs := placeholderFuncs()
	switch p.kind {
	case KindHTML:
		t, err := htmltemplate.New(name).Funcs(funcs).Parse(text)
		if err != nil {
			return nil, err
		}
		return htmlCompiled{t}, nil
	default:
		t, err := texttemplate.New(name).Funcs(funcs).Parse(text)
		if err != nil {
			return nil, err
		}
		return textCompiled{t}, nil
	}
}

func (p *Processor) load(ctx context.Context, src *Source) (compiled, error) {
	key := src.Name + "@" + strconv.FormatInt(src.Modified.UnixNano(), 10)
	if c, ok := p.compiled.Get(key); ok {
		return c.(compiled), nil
	}
	text, err := src.Read(ctx)
	if err != nil {
		return nil, err
	}
	c, err := p.compile(src.Name, text)
	if err != nil {
		return nil, &TemplateError{Name: src.Name, Err: err}
	}
	p.compiled.Add(key, c)
	return c, nil
}

// Process renders a located template
func (p *Processor) Process(ctx context.Context, s *Session, src *Source, data any, w io.Writer) error {
	c, err := p.load(ctx, src)
	if err != nil {
		return err
	}
	if err := c.execute(w, s.funcs(ctx, p, src), data); err != nil {
		return &TemplateError{Name: src.Name, Err: err}
	}
	return nil
}

// ProcessString renders template text supplied by the caller
func (p *Processor) ProcessString(ctx context.Context, s *Session, text string, data any, w io.Writer) error {
	sum := sha256.Sum256([]byte(text))
	key := hex.EncodeToString(sum[:])

	var c compiled
	if v, ok := p.literals.Get(key); ok {
		c = v.(compiled)
	} else {
		var err error
		if c, err = p.compile("string", text); err != nil {
			return &TemplateError{Name: "string", Err: err}
		}
		p.literals.Add(key, c)
	}
	if err := c.execute(w, s.funcs(ctx, p, nil), data); err != nil {
		return &TemplateError{Name: "string", Err: err}
	}
	return nil
}

// include renders a template relative to from and returns its output
func (p *Processor) include(ctx context.Context, s *Session, from *Source, name string, data any) (any, error) {
	var (
		src *Source
		err error
	)
	if from != nil {
		src, err = from.Relative(ctx, name)
	} else {
		src, err = p.loader.Find(ctx, name)
	}
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := p.Process(ctx, s, src, data, &buf); err != nil {
		return nil, err
	}
	if p.kind == KindHTML {
		return htmltemplate.HTML(buf.String()), nil
	}
	return buf.String(), nil
}
