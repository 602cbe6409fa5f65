package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/davral/epiring/internal/api"
	"github.com/davral/epiring/internal/config"
	"github.com/davral/epiring/internal/lookup"
	"github.com/davral/epiring/internal/overlay"
	"github.com/davral/epiring/internal/transport"
	"github.com/davral/epiring/pkg"
)

// serveOptions holds flags for the serve command.
type serveOptions struct {
	configFile string
	host       string
	port       int
	httpPort   int
	bootstrap  string
	logLevel   string
	logFormat  string
}

func main() {
	root := &cobra.Command{
		Use:           "epiring",
		Short:         "DHT overlay node with false-negative lookup resolution",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start an overlay node",
		Long: `Start an epiring overlay node.

Without --bootstrap the node creates a new ring. With --bootstrap it joins
the ring the given node belongs to.

Example:
  epiring serve --port 8440 --http-port 8080
  epiring serve --port 8441 --http-port 8081 --bootstrap 127.0.0.1:8440`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	cmd.Flags().StringVar(&opts.configFile, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.host, "host", "127.0.0.1", "host address to bind to")
	cmd.Flags().IntVar(&opts.port, "port", 8440, "port for node-to-node QUIC transport")
	cmd.Flags().IntVar(&opts.httpPort, "http-port", 8080, "port for the HTTP API")
	cmd.Flags().StringVar(&opts.bootstrap, "bootstrap", "", "bootstrap node address (host:port) to join an existing ring")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	cmd.Flags().StringVar(&opts.logFormat, "log-format", "console", "log format (json, console)")

	return cmd
}

func loadConfig(opts *serveOptions) (*config.Config, error) {
	cfg := config.DefaultConfig()

	if opts.configFile != "" {
		loaded, err := config.LoadFile(opts.configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	cfg.Host = opts.host
	cfg.Port = opts.port
	cfg.HTTPPort = opts.httpPort
	cfg.LogLevel = opts.logLevel
	cfg.LogFormat = opts.logFormat
	if opts.bootstrap != "" {
		cfg.BootstrapNodes = []string{opts.bootstrap}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runServe(opts *serveOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	loggerConfig := pkg.DefaultConfig()
	loggerConfig.Level = cfg.LogLevel
	loggerConfig.Format = cfg.LogFormat

	logger, err := pkg.New(loggerConfig)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Int("http_port", cfg.HTTPPort).
		Msg("Starting epiring node")

	node, err := overlay.NewNode(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create overlay node: %w", err)
	}

	client, err := transport.NewClient(logger)
	if err != nil {
		return fmt.Errorf("failed to create QUIC client: %w", err)
	}
	node.SetRemote(client)
	node.SetLookups(lookup.NewManager(node, client, cfg, logger))

	serverAddr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	quicServer, err := transport.NewServer(node, serverAddr, logger)
	if err != nil {
		return fmt.Errorf("failed to create QUIC server: %w", err)
	}
	if err := quicServer.Start(); err != nil {
		return fmt.Errorf("failed to start QUIC server: %w", err)
	}

	httpServer, err := api.NewServer(node, logger)
	if err != nil {
		cleanup(node, quicServer, client, nil, logger)
		return fmt.Errorf("failed to create HTTP API server: %w", err)
	}
	node.SetBroadcaster(httpServer.Hub())

	if err := httpServer.Start(cfg.HTTPPort); err != nil {
		cleanup(node, quicServer, client, nil, logger)
		return fmt.Errorf("failed to start HTTP API server: %w", err)
	}

	if len(cfg.BootstrapNodes) == 0 {
		logger.Info().Msg("Creating new ring")
		if err := node.Create(); err != nil {
			cleanup(node, quicServer, client, httpServer, logger)
			return fmt.Errorf("failed to create ring: %w", err)
		}
	} else {
		bootstrap := cfg.BootstrapNodes[0]
		logger.Info().
			Str("bootstrap", bootstrap).
			Msg("Joining existing ring")

		if err := node.Join(bootstrap); err != nil {
			cleanup(node, quicServer, client, httpServer, logger)
			return fmt.Errorf("failed to join ring via %s: %w", bootstrap, err)
		}
	}

	logger.Info().Msg("Node is ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info().
		Str("signal", sig.String()).
		Msg("Received shutdown signal")

	cleanup(node, quicServer, client, httpServer, logger)
	logger.Info().Msg("Node shutdown complete")
	return nil
}

// cleanup performs graceful shutdown of all components.
func cleanup(node *overlay.Node, quicServer *transport.Server, client *transport.Client, httpServer *api.Server, logger *pkg.Logger) {
	logger.Info().Msg("Starting graceful shutdown")

	if httpServer != nil {
		if err := httpServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping HTTP server")
		}
	}

	if err := quicServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping QUIC server")
	}

	if err := node.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("Error shutting down node")
	}

	if err := client.Close(); err != nil {
		logger.Error().Err(err).Msg("Error closing QUIC client")
	}
}
