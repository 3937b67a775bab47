package main

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/orbit/pkg/config"
	"github.com/ajitpratap0/orbit/pkg/dataapi"
	"github.com/ajitpratap0/orbit/pkg/logger"
	"github.com/ajitpratap0/orbit/pkg/observability"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newViper reads settings from ORBIT_* variables, e.g. ORBIT_ACCESS_TOKEN
// for --access-token.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("ORBIT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func newRootCommand() *cobra.Command {
	v := newViper()

	root := &cobra.Command{
		Use:   "orbit",
		Short: "Orbit - record data API client",
		Long: `Orbit talks to a record data API: it runs queries, commits units of work
and loads large record sets through bulk ingest jobs.

Settings come from the YAML file named by --config, then ORBIT_* environment
variables, then flags.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "Path to client configuration YAML file")
	flags.String("instance-url", "", "Instance URL, e.g. https://example.my.salesforce.com")
	flags.String("access-token", "", "Bearer access token")
	flags.String("api-version", "", "Data API version")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	_ = v.BindPFlags(flags)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Orbit v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(newConfigCommand(v))
	root.AddCommand(newQueryCommand(v))
	root.AddCommand(newBulkCommand(v))
	return root
}

// loadConfig reads the configuration file, if any, and applies environment
// and flag overrides on top.
func loadConfig(v *viper.Viper) (*config.ClientConfig, error) {
	cfg := config.NewClientConfig()
	if path := v.GetString("config"); path != "" {
		if err := config.Load(path, cfg); err != nil {
			return nil, err
		}
	}
	if s := v.GetString("instance-url"); s != "" {
		cfg.Connection.InstanceURL = s
	}
	if s := v.GetString("access-token"); s != "" {
		cfg.Connection.AccessToken = s
	}
	if s := v.GetString("api-version"); s != "" {
		cfg.Connection.APIVersion = s
	}
	if s := v.GetString("log-level"); s != "" {
		cfg.Observability.LogLevel = s
	}
	return cfg, cfg.Validate()
}

// openClient loads configuration, initializes logging and builds a client.
func openClient(v *viper.Viper, component string) (*dataapi.Client, *zap.Logger, error) {
	cfg, err := loadConfig(v)
	if err != nil {
		return nil, nil, err
	}
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.Named(component)

	if addr := v.GetString("metrics-addr"); addr != "" {
		serveMetrics(addr, log)
	}

	api, err := dataapi.New(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return api, log, nil
}

// serveMetrics exposes metrics until the process exits.
func serveMetrics(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
}

func newConfigCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create client configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init <path>",
		Short: "Write a configuration file with default settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.NewClientConfig()
			cfg.Connection.InstanceURL = "${ORBIT_INSTANCE_URL}"
			cfg.Connection.AccessToken = "${ORBIT_ACCESS_TOKEN}"
			if err := config.Save(args[0], cfg); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			fmt.Printf("Configuration is valid: %s (API v%s)\n", cfg.Connection.InstanceURL, cfg.Connection.APIVersion)
			return nil
		},
	})
	return cmd
}
