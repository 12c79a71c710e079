// Command seqthink serves the sequential thinking MCP tool.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/seqthink/internal/api"
	"github.com/nugget/seqthink/internal/buildinfo"
	"github.com/nugget/seqthink/internal/config"
	"github.com/nugget/seqthink/internal/events"
	"github.com/nugget/seqthink/internal/mcp"
	"github.com/nugget/seqthink/internal/mqtt"
	"github.com/nugget/seqthink/internal/thinking"
)

// serverTitle is the MCP server name advertised during initialize.
const serverTitle = "MCP Sequential Thinking Tools"

func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the seqthink command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the server and background goroutines.
//   - stdin is read by "think -".
//   - stdout and stderr receive all program output. The server logs to
//     stdout; one-shot commands keep stdout for their result and log to
//     stderr.
//   - args is os.Args[1:]. We parse these manually rather than using the
//     flag package to avoid global state that interferes with parallel
//     tests.
//
// run returns nil on clean shutdown and a non-nil error for any failure.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case args[i] == "-" && command != "":
			cmdArgs = append(cmdArgs, args[i])
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "think":
		src := "-"
		if len(cmdArgs) > 0 {
			src = cmdArgs[0]
		}
		return runThink(ctx, stdin, stdout, stderr, configPath, src)
	case "schema":
		return runSchema(stdout)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"service", "version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "seqthink - sequential thinking MCP server")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: seqthink [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve          Start the HTTP server (MCP endpoint at /mcp)")
	fmt.Fprintln(w, "  think [file]   Process one thought (JSON) from file or stdin (-)")
	fmt.Fprintln(w, "  schema         Print the tool input schema")
	fmt.Fprintln(w, "  init [dir]     Write an example config.yaml (default: .)")
	fmt.Fprintln(w, "  version        Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/seqthink/config.yaml, /etc/seqthink/config.yaml")
	fmt.Fprintln(w, "Without a config file the defaults are used.")
	return nil
}

// runSchema prints the built-in tool's input schema.
func runSchema(w io.Writer) error {
	var out bytes.Buffer
	if err := json.Indent(&out, []byte(thinking.InputSchema), "", "  "); err != nil {
		return fmt.Errorf("format schema: %w", err)
	}
	_, err := fmt.Fprintln(w, out.String())
	return err
}

// runThink processes a single thought against a fresh store and prints
// the result as JSON. A failed thought prints the failure and returns
// an error so the exit status reflects it.
func runThink(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath, src string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel) // validated above
	logger := config.NewLogger(stderr, level, cfg.LogFormat)

	var raw []byte
	if src == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(src)
	}
	if err != nil {
		return fmt.Errorf("read thought: %w", err)
	}

	proc := thinking.NewProcessor(thinking.NewStore(cfg.Trace.MaxHistory, logger), logger)
	res := proc.Handle(ctx, raw)

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	if !res.OK() {
		return errors.New(res.Failure.Error)
	}
	return nil
}

// runServe wires the trace, MCP endpoint, HTTP API and optional MQTT
// publisher together and blocks until ctx is cancelled or a signal
// arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting seqthink", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Reconfigure logger now that we know the desired level and format.
	{
		level, _ := config.ParseLogLevel(cfg.LogLevel) // validated above
		logger = config.NewLogger(stdout, level, cfg.LogFormat)
	}

	if cfgPath == "" {
		cfgPath = "(defaults)"
	}
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"max_history", cfg.Trace.MaxHistory,
	)

	// --- Trace ---
	bus := events.New()
	store := thinking.NewStore(cfg.Trace.MaxHistory, logger)
	proc := thinking.NewProcessor(store, logger)
	proc.SetEventBus(bus)

	// --- MCP endpoint ---
	mcpServer := mcp.NewServer(serverTitle, buildinfo.Version, mcp.NewThinkingTools(proc), logger)
	mcpHandler := mcp.NewHandler(mcpServer, mcp.HandlerConfig{
		SessionTTL:  cfg.MCP.SessionTTL,
		MaxSessions: cfg.MCP.MaxSessions,
		Logger:      logger,
		Bus:         bus,
	})

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, proc, logger)
	server.SetMCPHandler(mcpHandler)
	server.SetEventBus(bus)

	// --- Signal handling ---
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- MQTT publisher (optional) ---
	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Configured() {
		mqttPub = mqtt.New(cfg.MQTT, bus, &mqttStatsAdapter{store: store, sessions: mcpHandler}, logger)
		go func() {
			if err := mqttPub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		logger.Info("mqtt publishing enabled",
			"broker", cfg.MQTT.Broker,
			"topic_prefix", cfg.MQTT.TopicPrefix,
			"interval", cfg.MQTT.PublishInterval,
		)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		// Publish MQTT offline status before disconnecting.
		if mqttPub != nil {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := mqttPub.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	// Blocks until the server is shut down.
	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("seqthink stopped")
	return nil
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise the
// default locations are searched; when none exists the defaults are
// returned with an empty path.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if errors.Is(err, config.ErrNoConfig) {
		cfg := config.Default()
		if err := cfg.ApplyEnv(); err != nil {
			return nil, "", err
		}
		return cfg, "", nil
	}
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// mqttStatsAdapter bridges the trace store and MCP handler to the
// mqtt.StatsSource interface.
type mqttStatsAdapter struct {
	store    *thinking.Store
	sessions *mcp.Handler
}

func (a *mqttStatsAdapter) HistoryLength() int  { return a.store.Len() }
func (a *mqttStatsAdapter) BranchCount() int    { return len(a.store.BranchIDs()) }
func (a *mqttStatsAdapter) ActiveSessions() int { return a.sessions.SessionCount() }
