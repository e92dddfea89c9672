// Package cli builds the autocache-mongo command line: one-shot cache operations
// against a MongoDB-backed store plus status and config inspection.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nimburion/autocache-mongo/pkg/cache/mongostore"
	"github.com/nimburion/autocache-mongo/pkg/config"
	"github.com/nimburion/autocache-mongo/pkg/health"
	"github.com/nimburion/autocache-mongo/pkg/observability/logger"
	"github.com/nimburion/autocache-mongo/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const defaultWaitTimeout = 10 * time.Second

// ErrKeyNotFound is returned by the get command on a cache miss.
var ErrKeyNotFound = errors.New("key not found")

// ErrUnhealthy is returned by the status command when the store is not healthy.
var ErrUnhealthy = errors.New("store is not healthy")

// CommandOptions configures NewCommand.
type CommandOptions struct {
	Name       string
	ConfigPath string
	EnvPrefix  string

	// Optional: replaces the MongoDB backend, e.g. with mongostore.NewMemoryConnector.
	Connector mongostore.Connector
	// Optional: log destination. Defaults to stderr.
	LogOutput io.Writer
}

type storeFlags struct {
	configPath string
	prefix     string
	url        string
	database   string
	wait       time.Duration
}

// NewCommand creates the root command with get, set, destroy, clear, status, config and version subcommands.
func NewCommand(opts CommandOptions) *cobra.Command {
	if opts.Name == "" {
		opts.Name = "autocache-mongo"
	}
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = config.DefaultEnvPrefix
	}

	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         "Inspect and manage a MongoDB-backed autocache store",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Every invocation gets its own operation_id in the logs.
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.SetContext(logger.ContextWithOperationID(cmd.Context(), uuid.NewString()))
		},
	}

	flags := &storeFlags{}
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config-file", "c", opts.ConfigPath, "config file path")
	pf.StringVar(&flags.prefix, "prefix", "", "key prefix override")
	pf.StringVar(&flags.url, "url", "", "MongoDB connection string override")
	pf.StringVar(&flags.database, "database", "", "database name override")
	pf.DurationVar(&flags.wait, "wait", defaultWaitTimeout, "how long to wait for the store to connect")

	load := func(cmd *cobra.Command) (*config.Config, logger.Logger, error) {
		cfg, log, err := LoadConfigAndLogger(flags.configPath, opts.EnvPrefix, cmd.Flags(), opts.LogOutput)
		if err != nil {
			return nil, nil, err
		}
		return cfg, log.WithContext(cmd.Context()), nil
	}

	withStore := func(cmd *cobra.Command, fn func(ctx context.Context, store *mongostore.Store) error) error {
		cfg, log, err := load(cmd)
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), cfg, log, opts.Connector, flags.wait)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := store.Close(); cerr != nil {
				log.Warn("failed to close store", "error", cerr)
			}
		}()
		return fn(cmd.Context(), store)
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Current(opts.Name)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Service:    %s\n", info.Service)
			fmt.Fprintf(out, "Version:    %s\n", info.Version)
			fmt.Fprintf(out, "Commit:     %s\n", info.Commit)
			if ts, ok := info.ParseBuildTime(); ok {
				fmt.Fprintf(out, "Build Time: %s\n", ts.UTC().Format(time.RFC1123))
			} else {
				fmt.Fprintf(out, "Build Time: %s\n", info.BuildTime)
			}
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print the JSON value stored under key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *mongostore.Store) error {
				var raw json.RawMessage
				found, err := store.Load(ctx, args[0], &raw)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("%w: %s", ErrKeyNotFound, args[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(raw))
				return nil
			})
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store value under key; value is parsed as JSON, falling back to a plain string",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *mongostore.Store) error {
				return store.Set(ctx, args[0], parseValue(args[1]))
			})
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "destroy <key>",
		Short: "Remove key from the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *mongostore.Store) error {
				removed, err := store.Destroy(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed: %t\n", removed)
				return nil
			})
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every entry in the store's collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *mongostore.Store) error {
				return store.Clear(ctx)
			})
		},
	})

	var checkName string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Report store health as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load(cmd)
			if err != nil {
				return err
			}
			storeCfg := storeConfig(cfg, opts.Connector)
			store, err := mongostore.New(storeCfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			waitCtx, cancel := context.WithTimeout(cmd.Context(), flags.wait)
			defer cancel()
			if err := store.WaitReady(waitCtx); err != nil {
				log.Warn("store not ready", "error", err)
			}

			registry := health.NewRegistry()
			registry.Register(health.NewStoreChecker(storeCfg.Collection, store, flags.wait))
			registry.Register(health.NewAdapterChecker("mongodb", store, flags.wait))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			if checkName != "" {
				res, err := registry.CheckOne(cmd.Context(), checkName)
				if err != nil {
					return fmt.Errorf("%w (available: %s)", err, strings.Join(registry.List(), ", "))
				}
				if err := enc.Encode(res); err != nil {
					return fmt.Errorf("encode status: %w", err)
				}
				if res.Status != health.StatusHealthy {
					return ErrUnhealthy
				}
				return nil
			}

			result := registry.Check(cmd.Context())
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("encode status: %w", err)
			}
			if !result.IsHealthy() {
				return ErrUnhealthy
			}
			return nil
		},
	}
	statusCmd.Flags().StringVar(&checkName, "check", "", "run only the named check (the collection name or mongodb)")
	rootCmd.AddCommand(statusCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := load(cmd)
			if err != nil {
				return err
			}
			out, err := formatConfig(cfg)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	})
	rootCmd.AddCommand(configCmd)

	return rootCmd
}

// LoadConfigAndLogger loads configuration, applies flag overrides and builds the zap logger.
func LoadConfigAndLogger(cfgPath, envPrefix string, flags *pflag.FlagSet, logOutput io.Writer) (*config.Config, logger.Logger, error) {
	cfg, err := config.NewViperLoader(cfgPath, envPrefix).Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	applyFlagOverrides(cfg, flags)
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}

	log, err := logger.NewZapLogger(logger.Config{
		Level:  logger.LogLevel(strings.ToLower(cfg.Log.Level)),
		Format: logger.LogFormat(strings.ToLower(cfg.Log.Format)),
		Output: logOutput,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, log, nil
}

func applyFlagOverrides(cfg *config.Config, flags *pflag.FlagSet) {
	if flags == nil {
		return
	}
	if f := flags.Lookup("prefix"); f != nil && f.Changed {
		cfg.Store.Prefix = f.Value.String()
	}
	if f := flags.Lookup("url"); f != nil && f.Changed {
		cfg.Store.URL = f.Value.String()
	}
	if f := flags.Lookup("database"); f != nil && f.Changed {
		cfg.Store.Database = f.Value.String()
	}
}

func storeConfig(cfg *config.Config, connector mongostore.Connector) mongostore.Config {
	storeCfg := cfg.Store.MongoStore()
	storeCfg.Connector = connector
	storeCfg.Collection = storeCfg.CollectionName()
	return storeCfg
}

func openStore(ctx context.Context, cfg *config.Config, log logger.Logger, connector mongostore.Connector, wait time.Duration) (*mongostore.Store, error) {
	store, err := mongostore.New(storeConfig(cfg, connector), log)
	if err != nil {
		return nil, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := store.WaitReady(waitCtx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("store not ready: %w", err)
	}
	return store, nil
}

// parseValue decodes raw as JSON; anything that is not valid JSON is kept as a string.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func formatConfig(cfg *config.Config) (string, error) {
	redacted := *cfg
	if redacted.Store.URL != "" {
		redacted.Store.URL = mongostore.RedactURL(redacted.Store.URL)
	}
	out, err := yaml.Marshal(redacted)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(out), nil
}
