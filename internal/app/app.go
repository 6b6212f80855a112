// Package app assembles the repository, registry, template service, runtime
// and router from a loaded configuration.
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"

	"github.com/conduit-lang/webscript/internal/cache"
	"github.com/conduit-lang/webscript/internal/cli/config"
	"github.com/conduit-lang/webscript/internal/repo"
	"github.com/conduit-lang/webscript/internal/repo/sqlstore"
	"github.com/conduit-lang/webscript/internal/templating"
	"github.com/conduit-lang/webscript/internal/web/auth"
	"github.com/conduit-lang/webscript/internal/web/router"
	"github.com/conduit-lang/webscript/internal/webscript/builtin"
	"github.com/conduit-lang/webscript/internal/webscript/description"
	"github.com/conduit-lang/webscript/internal/webscript/registry"
	"github.com/conduit-lang/webscript/internal/webscript/runtime"
	"go.uber.org/zap"
)

// App holds the wired components
type App struct {
	Config        *config.Config
	Logger        *zap.Logger
	Store         *sqlstore.Store
	Layout        *sqlstore.Layout
	Sources       cache.Cache
	Registry      *registry.Registry
	Templates     *templating.Service
	Authenticator *auth.Authenticator
	Runtime       *runtime.Runtime
	Handler       http.Handler

	watcher *registry.Watcher
}

// New opens the repository, bootstraps it and loads every web script. The
// caller must Close the returned App.
func New(ctx context.Context, cfg *config.Config, version string, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.Store, err = OpenStore(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if a.Layout, err = a.Store.Bootstrap(ctx, cfg.Database.AdminPassword); err != nil {
		return nil, fmt.Errorf("failed to bootstrap repository: %w", err)
	}

	if a.Sources, err = cache.New(cfg.Templates.SourceCache); err != nil {
		return nil, err
	}

	loader := templating.NewLoader(Classpath(cfg), a.Store, a.Sources, logger.Named("templates"))
	if a.Templates, err = templating.NewService(cfg.Templates.Config, loader, a.Store, logger.Named("templates")); err != nil {
		return nil, err
	}

	a.Registry = registry.New(logger.Named("registry"), Stores(cfg, a.Store, logger)...)
	if err = a.Registry.Reset(ctx); err != nil {
		return nil, fmt.Errorf("failed to load web scripts: %w", err)
	}

	a.Authenticator = auth.NewAuthenticator(
		auth.NewTicketService(ticketSecret(cfg, logger), cfg.Auth.TicketTTL),
		a.Store.Authentication(),
		a.Store.Authorities(),
	)

	a.Runtime = runtime.New(runtime.Config{
		ServicePrefix: cfg.Server.ServicePrefix,
		Engines:       cfg.Templates.Engines,
		ServerVersion: version,
		IconBase:      cfg.Server.IconBase,
	}, a.Registry, a.Templates, a.Store, a.Authenticator,
		runtime.WithTransactor(a.Store.Transactions()),
		runtime.WithLogger(logger.Named("webscript")),
	)
	builtin.Register(a.Runtime)

	a.Handler = router.New(router.Config{
		ServicePrefix:    cfg.Server.ServicePrefix,
		RequestTimeout:   cfg.Server.RequestTimeout,
		ShowErrorDetails: cfg.Server.ShowErrorDetails,
		StaticDir:        cfg.Server.StaticDir,
		StaticPrefix:     cfg.Server.StaticPrefix,
		Profiling:        cfg.Server.Profiling,
	}, router.Handlers{
		Scripts:       a.Runtime,
		Content:       router.NewContentHandler(a.Store, a.Authenticator, logger.Named("content")),
		Authenticator: a.Authenticator,
	}, logger)

	if cfg.WebScripts.Watch {
		if a.watcher, err = registry.Watch(a.Registry, cfg.WebScripts.WatchDelay); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// OpenStore connects to the configured database
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*sqlstore.Store, error) {
	store, err := sqlstore.Open(ctx, cfg.Database.Store(), logger.Named("repo"))
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	return store, nil
}

// Stores returns the description stores in priority order: file directories,
// the repository folder, then the built-in scripts
func Stores(cfg *config.Config, services repo.ServiceRegistry, logger *zap.Logger) []description.Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	var stores []description.Store
	for _, dir := range cfg.WebScripts.Dirs {
		stores = append(stores, description.NewFileStore(dir))
	}
	if cfg.WebScripts.Repository && services != nil {
		stores = append(stores, description.NewRepositoryStore(services, repo.SpacesStore, cfg.WebScripts.RepositoryFolder, logger.Named("registry")))
	}
	return append(stores, builtin.Store())
}

// Classpath returns the template overlay used for file and built-in templates
func Classpath(cfg *config.Config) fs.FS {
	o := templating.Overlay{}
	for _, dir := range cfg.WebScripts.Dirs {
		o = append(o, os.DirFS(dir))
	}
	return append(o, builtin.FS())
}

func ticketSecret(cfg *config.Config, logger *zap.Logger) string {
	if cfg.Auth.TicketSecret != "" {
		return cfg.Auth.TicketSecret
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	logger.Warn("auth.ticket_secret is not set; tickets will not survive a restart")
	return hex.EncodeToString(b)
}

// Close releases the watcher, cache and database
func (a *App) Close() error {
	var errs []error
	if a.watcher != nil {
		errs = append(errs, a.watcher.Close())
	}
	if a.Sources != nil {
		errs = append(errs, a.Sources.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
