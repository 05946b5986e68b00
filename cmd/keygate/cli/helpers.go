package cli

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/octopushq/keygate/internal/config"
	"github.com/octopushq/keygate/internal/service"
	"github.com/octopushq/keygate/internal/store"
)

// cliSourceIP marks audit entries produced by local commands rather than
// HTTP requests.
const cliSourceIP = "cli"

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from the --data-dir flag,
// KEYGATE_DATA_DIR env var, or ~/.keygate as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("KEYGATE_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".keygate")
}

// loadConfig reads the config file named by --config or found by viper, and
// falls back to defaults when none exists.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		initViper()
		path = viper.ConfigFileUsed()
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// openStore opens the key store described by the config. The default SQLite
// deployment lands in the data directory.
func openStore(cfg *config.Config) (*store.Store, error) {
	dsn := cfg.Store.DSN
	if cfg.Store.Driver == store.DriverSQLite && dsn == "" {
		dir := resolveDataDir()
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		dsn = filepath.Join(dir, "keygate.db")
	}
	return store.Open(cfg.Store.Driver, dsn)
}

// newLogger builds the process logger from the logging config. Commands that
// only print results pass quiet to suppress service-level output.
func newLogger(cfg *config.Config, quiet bool) *slog.Logger {
	if quiet {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Logging.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// services bundles everything a command needs against an open store.
type services struct {
	store     *store.Store
	audit     *service.AuditService
	auth      *service.AuthService
	keys      *service.KeyService
	bootstrap *service.BootstrapService
}

func newServices(st *store.Store, logger *slog.Logger) services {
	audit := service.NewAuditService(st, logger)
	keys := service.NewKeyService(st, audit, logger)
	return services{
		store:     st,
		audit:     audit,
		auth:      service.NewAuthService(st, audit, logger),
		keys:      keys,
		bootstrap: service.NewBootstrapService(st, keys, logger),
	}
}

// openServices loads config, opens the store, and wires the service layer.
// The caller must Close the returned store.
func openServices(quiet bool) (services, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return services{}, nil, err
	}
	st, err := openStore(cfg)
	if err != nil {
		return services{}, nil, err
	}
	return newServices(st, newLogger(cfg, quiet)), cfg, nil
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
