package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/artpar/cookiestash/internal/config"
	"github.com/artpar/cookiestash/internal/cookies"
	"github.com/artpar/cookiestash/internal/cookies/filestore"
	"github.com/artpar/cookiestash/internal/cookies/redis"
	"github.com/artpar/cookiestash/internal/cookies/sqlite"
)

// RootOptions holds the persistent flags shared by every subcommand.
type RootOptions struct {
	ConfigPath string
	DataDir    string
	Storage    string
	Verbose    bool
}

// NewRootCommand creates the root command.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "cookiestash",
		Short:         "cookiestash - a persistent HTTP cookie jar",
		Long:          "cookiestash keeps HTTP cookies across runs and shares them with requests, a proxy and script surfaces.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "Config file (default: user config dir/cookiestash/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "Directory for cookie storage")
	cmd.PersistentFlags().StringVar(&opts.Storage, "storage", "", "Storage backend: sqlite, redis or file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(NewSendCommand(opts))
	cmd.AddCommand(NewProxyCommand(opts))
	cmd.AddCommand(NewCookiesCommand(opts))

	return cmd
}

// session is an opened jar with the config and logger it was built from.
type session struct {
	cfg    *config.Config
	logger *slog.Logger
	jar    *cookies.Jar
	store  cookies.Store
}

func (s *session) Close() error {
	return s.store.Close()
}

// loadConfig reads the config file and applies flag overrides.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.DataDir != "" {
		cfg.DataDir = o.DataDir
	}
	if o.Storage != "" {
		cfg.Storage = o.Storage
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// setup loads config and builds the logger.
func (o *RootOptions) setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return cfg, newLogger(cmd.ErrOrStderr(), cfg), nil
}

// open loads config, opens the configured store and initializes a jar on
// it.
func (o *RootOptions) open(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg, logger, err := o.setup(cmd)
	if err != nil {
		return nil, err
	}
	return openSession(ctx, cfg, logger)
}

// openSession opens the configured store and initializes a jar on it.
// Extra jar options are applied after the logger.
func openSession(ctx context.Context, cfg *config.Config, logger *slog.Logger, jarOpts ...cookies.Option) (*session, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	jar := cookies.New(append([]cookies.Option{cookies.WithLogger(logger)}, jarOpts...)...)
	if err := jar.Init(ctx, store); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load cookies: %w", err)
	}

	return &session{cfg: cfg, logger: logger, jar: jar, store: store}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (cookies.Store, error) {
	switch cfg.Storage {
	case config.StorageSQLite:
		if err := afero.NewOsFs().MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := sqlite.New(cfg.SQLitePath())
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StorageRedis:
		store, err := redis.Open(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StorageFile:
		store, err := filestore.Open(afero.NewOsFs(), cfg.FilePath())
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown storage %q", config.ErrInvalidConfig, cfg.Storage)
	}
}
