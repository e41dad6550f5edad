package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aschepis/backscratcher/polychat/chat"
	"github.com/aschepis/backscratcher/polychat/config"
	polylogger "github.com/aschepis/backscratcher/polychat/logger"
	"github.com/aschepis/backscratcher/polychat/mcp"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Parse command-line flags
	var (
		configPath  = flag.String("config", config.GetConfigPath(), "Path to config file (.yaml or .toml)")
		logFile     = flag.String("logfile", polylogger.DefaultLogFile, "Path to log file. Empty logs to stderr")
		pretty      = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is empty)")
		showVersion = flag.Bool("version", false, "Print version and exit")
		model       = flag.String("model", "", "Model to chat with (default from config)")
		temperature = flag.Float64("temperature", -1, "Sampling temperature (default from config)")
		forceJSON   = flag.Bool("json", false, "Ask the model for a JSON object")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("polychat", version)
		return nil
	}

	// Validate that --logfile and --pretty are mutually exclusive
	if *logFile != "" && *pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	logger, err := polylogger.InitWithOptions(*logFile, *pretty)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Info().Str("path", *configPath).Msg("Loaded configuration")

	if *model != "" {
		cfg.Defaults.Model = *model
	}
	if *temperature >= 0 {
		cfg.Defaults.Temperature = *temperature
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---------------------------
	// 1. Frameworks and adapters
	// ---------------------------

	frameworks := cfg.NewFrameworkRegistry()
	adapters, err := config.NewAdapters(cfg, frameworks, logger)
	if err != nil {
		return err
	}

	// ---------------------------
	// 2. Tools and MCP servers
	// ---------------------------

	toolRegistry := config.NewToolRegistry(cfg, logger)
	mcpManager := mcp.NewManager(logger)
	defer mcpManager.Close() //nolint:errcheck // No remedy for close errors on exit

	if servers := cfg.MCPServerConfigs(); len(servers) > 0 {
		startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
		if err := mcpManager.ConnectAll(startCtx, servers, toolRegistry); err != nil {
			// A broken server only loses its tools.
			logger.Warn().Err(err).Msg("Some MCP servers failed to start")
		}
		startCancel()
	}
	logger.Info().Strs("tools", toolRegistry.Names()).Msg("Tools registered")

	// ---------------------------
	// 3. Storage and engine
	// ---------------------------

	store, closeStore, err := config.NewStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open chat store: %w", err)
	}
	defer closeStore() //nolint:errcheck // No remedy for close errors on exit

	engine, err := chat.NewEngine(frameworks, adapters, toolRegistry, logger,
		chat.WithDefaultSystemPrompt(cfg.Defaults.SystemPrompt),
	)
	if err != nil {
		return err
	}

	r := newREPL(engine, frameworks, store, os.Stdin, os.Stdout, logger)
	r.model = cfg.Defaults.Model
	r.temperature = cfg.Defaults.Temperature
	r.forceJSON = *forceJSON

	// Ctrl-C stops a running turn; when idle it exits.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range sigChan {
			if sig == syscall.SIGINT && r.interrupt() {
				continue
			}
			logger.Info().Str("signal", sig.String()).Msg("Shutting down")
			cancel()
			_ = os.Stdin.Close()
			return
		}
	}()

	return r.Run(ctx)
}
