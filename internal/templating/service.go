// Package templating renders text and HTML templates against repository
// models. Templates are located by a Loader on the classpath or in the
// repository and compiled once per source revision.
package templating

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/conduit-lang/webscript/internal/model"
	"github.com/conduit-lang/webscript/internal/repo"
	"go.uber.org/zap"
)

// Config declares the available engines
type Config struct {
	// Processors maps an engine name to a processor kind (text or html)
	Processors map[string]string `mapstructure:"processors"`
	// DefaultEngine is used when a caller passes an empty engine name
	DefaultEngine string `mapstructure:"default_engine"`
	// CacheSize bounds the compiled template cache of each processor
	CacheSize int `mapstructure:"cache_size"`
}

// DefaultConfig registers a text and an html engine
func DefaultConfig() Config {
	return Config{
		Processors:    map[string]string{"text": KindText, "html": KindHTML},
		DefaultEngine: "text",
		CacheSize:     256,
	}
}

// Service owns the configured processors
type Service struct {
	cfg        Config
	loader     *Loader
	services   repo.ServiceRegistry
	processors map[string]*Processor
	logger     *zap.Logger
}

// NewService creates the processors named by cfg. An unknown kind fails with ErrNoProcessor.
func NewService(cfg Config, loader *Loader, services repo.ServiceRegistry, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultConfig().CacheSize
	}
	s := &Service{
		cfg:        cfg,
		loader:     loader,
		services:   services,
		processors: make(map[string]*Processor, len(cfg.Processors)),
		logger:     logger,
	}
	for engine, kind := range cfg.Processors {
		p, err := newProcessor(kind, loader, cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("engine %s: %w", engine, err)
		}
		s.processors[engine] = p
	}
	if cfg.DefaultEngine != "" {
		if _, ok := s.processors[cfg.DefaultEngine]; !ok {
			return nil, fmt.Errorf("%w: default engine %q", ErrNoProcessor, cfg.DefaultEngine)
		}
	}
	return s, nil
}

// Loader returns the template loader
func (s *Service) Loader() *Loader {
	return s.loader
}

// Engines returns the configured engine names, sorted
func (s *Service) Engines() []string {
	names := make([]string, 0, len(s.processors))
	for name := range s.processors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewSession starts a request-scoped session
func (s *Service) NewSession(images model.ImageResolver) *Session {
	return &Session{svc: s, images: images, resolved: make(map[string]*Processor)}
}

// Session is a request-scoped view of the Service. It caches resolved
// processors by engine name and is not safe for concurrent use.
type Session struct {
	svc      *Service
	images   model.ImageResolver
	resolved map[string]*Processor
	context  string
}

// WithServiceContext roots the service URLs of converted nodes at prefix
func (s *Session) WithServiceContext(prefix string) *Session {
	s.context = prefix
	return s
}

// Processor resolves the processor for an engine name
func (s *Session) Processor(engine string) (*Processor, error) {
	if engine == "" {
		engine = s.svc.cfg.DefaultEngine
	}
	if p, ok := s.resolved[engine]; ok {
		return p, nil
	}
	p, ok := s.svc.processors[engine]
	if !ok {
		return nil, fmt.Errorf("%w: engine %q", ErrNoProcessor, engine)
	}
	s.resolved[engine] = p
	return p, nil
}

// Model converts a template model for this session's request
func (s *Session) Model(ctx context.Context, m map[string]any) map[string]any {
	env := model.NewEnv(ctx, s.svc.services, s.images, s.svc.logger).WithServiceContext(s.context)
	return env.ConvertModel(m)
}

// Process renders the template at location with the converted model
func (s *Session) Process(ctx context.Context, engine, location string, m map[string]any, w io.Writer) error {
	p, err := s.Processor(engine)
	if err != nil {
		return err
	}
	src, err := s.svc.loader.Find(ctx, location)
	if err != nil {
		return err
	}
	return p.Process(ctx, s, src, s.Model(ctx, m), w)
}

// ProcessString renders template text with the converted model
func (s *Session) ProcessString(ctx context.Context, engine, text string, m map[string]any, w io.Writer) error {
	p, err := s.Processor(engine)
	if err != nil {
		return err
	}
	return p.ProcessString(ctx, s, text, s.Model(ctx, m), w)
}

// Exists reports whether a template location resolves
func (s *Session) Exists(ctx context.Context, location string) bool {
	_, err := s.svc.loader.Find(ctx, location)
	return err == nil
}
