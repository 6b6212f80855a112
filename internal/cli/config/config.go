// Package config loads webscript.yaml with viper, layering defaults, the
// config file and WEBSCRIPT_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conduit-lang/webscript/internal/cache"
	"github.com/conduit-lang/webscript/internal/logging"
	"github.com/conduit-lang/webscript/internal/repo/sqlstore"
	"github.com/conduit-lang/webscript/internal/templating"
	"github.com/conduit-lang/webscript/internal/web/server"
	"github.com/spf13/viper"
)

// FileName is the config file name without extension
const FileName = "webscript"

// EnvPrefix prefixes environment overrides, e.g. WEBSCRIPT_SERVER_ADDRESS
const EnvPrefix = "WEBSCRIPT"

// Config is the complete server configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Templates  TemplatesConfig  `mapstructure:"templates"`
	WebScripts WebScriptsConfig `mapstructure:"webscripts"`
	Logging    logging.Config   `mapstructure:"logging"`
}

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	server.Config    `mapstructure:",squash"`
	ServicePrefix    string        `mapstructure:"service_prefix"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	ShowErrorDetails bool          `mapstructure:"show_error_details"`
	IconBase         string        `mapstructure:"icon_base"`
	// StaticDir is served under StaticPrefix, e.g. a directory holding filetypes/*.gif icons
	StaticDir    string `mapstructure:"static_dir"`
	StaticPrefix string `mapstructure:"static_prefix"`
	// Profiling exposes pprof to administrators under /debug/pprof
	Profiling bool `mapstructure:"profiling"`
}

// DatabaseConfig selects the repository database
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	// AdminPassword creates the admin user on first bootstrap
	AdminPassword string `mapstructure:"admin_password"`
}

// Store returns the sqlstore connection settings
func (c DatabaseConfig) Store() sqlstore.Config {
	return sqlstore.Config{Driver: c.Driver, DSN: c.DSN, MaxOpenConns: c.MaxOpenConns}
}

// AuthConfig configures tickets
type AuthConfig struct {
	// TicketSecret signs tickets; when empty a random secret is generated per process
	TicketSecret string        `mapstructure:"ticket_secret"`
	TicketTTL    time.Duration `mapstructure:"ticket_ttl"`
}

// TemplatesConfig configures template processing
type TemplatesConfig struct {
	templating.Config `mapstructure:",squash"`
	// Engines maps response formats to template engines
	Engines map[string]string `mapstructure:"engines"`
	// SourceCache caches repository template sources
	SourceCache cache.Config `mapstructure:"source_cache"`
}

// WebScriptsConfig lists the description stores
type WebScriptsConfig struct {
	// Dirs are file stores, searched before the built-in scripts in order
	Dirs []string `mapstructure:"dirs"`
	// Repository enables the store below RepositoryFolder
	Repository       bool          `mapstructure:"repository"`
	RepositoryFolder string        `mapstructure:"repository_folder"`
	Watch            bool          `mapstructure:"watch"`
	WatchDelay       time.Duration `mapstructure:"watch_delay"`
}

func setDefaults(v *viper.Viper) {
	srv := server.DefaultConfig()
	v.SetDefault("server.address", srv.Address)
	v.SetDefault("server.read_timeout", srv.ReadTimeout)
	v.SetDefault("server.write_timeout", srv.WriteTimeout)
	v.SetDefault("server.idle_timeout", srv.IdleTimeout)
	v.SetDefault("server.read_header_timeout", srv.ReadHeaderTimeout)
	v.SetDefault("server.max_header_bytes", srv.MaxHeaderBytes)
	v.SetDefault("server.tls_cert_file", "")
	v.SetDefault("server.tls_key_file", "")
	v.SetDefault("server.service_prefix", "/service")
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.show_error_details", false)
	v.SetDefault("server.icon_base", "/images/filetypes")
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.static_prefix", "/images")
	v.SetDefault("server.profiling", false)

	v.SetDefault("database.driver", sqlstore.DriverSQLite)
	v.SetDefault("database.dsn", "file:webscript.db?_foreign_keys=on")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.admin_password", "")

	v.SetDefault("auth.ticket_secret", "")
	v.SetDefault("auth.ticket_ttl", time.Hour)

	tc := templating.DefaultConfig()
	v.SetDefault("templates.processors", tc.Processors)
	v.SetDefault("templates.default_engine", tc.DefaultEngine)
	v.SetDefault("templates.cache_size", tc.CacheSize)
	v.SetDefault("templates.engines", map[string]string{"html": "html"})
	cc := cache.DefaultConfig()
	v.SetDefault("templates.source_cache.backend", cc.Backend)
	v.SetDefault("templates.source_cache.default_ttl", cc.DefaultTTL)
	v.SetDefault("templates.source_cache.prefix", cc.Prefix)
	v.SetDefault("templates.source_cache.redis.addr", cc.Redis.Addr)
	v.SetDefault("templates.source_cache.redis.password", "")
	v.SetDefault("templates.source_cache.redis.db", 0)

	v.SetDefault("webscripts.dirs", []string{})
	v.SetDefault("webscripts.repository", true)
	v.SetDefault("webscripts.repository_folder", "Company Home/Data Dictionary/Web Scripts")
	v.SetDefault("webscripts.watch", false)
	v.SetDefault("webscripts.watch_delay", 250*time.Millisecond)

	lc := logging.DefaultConfig()
	v.SetDefault("logging.level", lc.Level)
	v.SetDefault("logging.format", lc.Format)
}

// Load reads the configuration. An empty path searches for webscript.yaml in
// the working directory; a missing file there is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	prefix := cfg.Server.ServicePrefix
	if !strings.HasPrefix(prefix, "/") {
		return fmt.Errorf("server.service_prefix must start with '/', got: %s", prefix)
	}
	if len(prefix) > 1 && strings.HasSuffix(prefix, "/") {
		return fmt.Errorf("server.service_prefix must not end with '/', got: %s", prefix)
	}

	switch cfg.Database.Driver {
	case sqlstore.DriverSQLite, sqlstore.DriverPostgres, sqlstore.DriverPgx:
	default:
		return fmt.Errorf("database.driver must be one of %s, %s, %s, got: %s",
			sqlstore.DriverSQLite, sqlstore.DriverPostgres, sqlstore.DriverPgx, cfg.Database.Driver)
	}

	if s := cfg.Auth.TicketSecret; s != "" && len(s) < 16 {
		return fmt.Errorf("auth.ticket_secret must be at least 16 characters")
	}
	if cfg.Auth.TicketTTL <= 0 {
		return fmt.Errorf("auth.ticket_ttl must be positive, got: %s", cfg.Auth.TicketTTL)
	}

	switch cfg.Templates.SourceCache.Backend {
	case cache.BackendMemory, cache.BackendRedis:
	default:
		return fmt.Errorf("templates.source_cache.backend must be %s or %s, got: %s",
			cache.BackendMemory, cache.BackendRedis, cfg.Templates.SourceCache.Backend)
	}
	if _, ok := cfg.Templates.Processors[cfg.Templates.DefaultEngine]; !ok {
		return fmt.Errorf("templates.default_engine %q is not a configured processor", cfg.Templates.DefaultEngine)
	}
	for format, engine := range cfg.Templates.Engines {
		if _, ok := cfg.Templates.Processors[engine]; !ok {
			return fmt.Errorf("templates.engines.%s names unknown processor %q", format, engine)
		}
	}
	return nil
}
