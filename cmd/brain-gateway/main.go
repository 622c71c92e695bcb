// ABOUTME: Entry point for the brain-gateway conversation server
// ABOUTME: Streams generated answers with inline charts and durable history

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/brainhq/brain-gateway/internal/charts"
	"github.com/brainhq/brain-gateway/internal/config"
	"github.com/brainhq/brain-gateway/internal/conversation"
	"github.com/brainhq/brain-gateway/internal/generation"
	"github.com/brainhq/brain-gateway/internal/httpapi"
	"github.com/brainhq/brain-gateway/internal/session"
	"github.com/brainhq/brain-gateway/internal/store"
	"github.com/brainhq/brain-gateway/internal/stream"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _               _                          _
| |__  _ __ __ _(_)_ __         __ _  __ _| |_ _____      ____ _ _   _
| '_ \| '__/ _' | | '_ \ _____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| |_) | | | (_| | | | | |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
|_.__/|_|  \__,_|_|_| |_|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                               |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: BRAIN_CONFIG env var > XDG_CONFIG_HOME/brain/gateway.yaml > ~/.config/brain/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("BRAIN_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "brain", "gateway.yaml")
}

// getDataPath returns the path to the brain data directory.
// Priority: XDG_DATA_HOME/brain > ~/.local/share/brain
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "brain")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: brain-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the gateway server")
		fmt.Println("  init     Create a new config file interactively")
		fmt.Println("  health   Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:       %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Generation: %s\n", cfg.Generation.BaseURL)
	green.Print("    ▶ ")
	fmt.Printf("Charts:     %s\n", cfg.Charts.BaseURL)
	fmt.Println()

	logger.Info("starting brain-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	maxTurn := cfg.Session.MaxTurnDuration
	if maxTurn <= 0 {
		maxTurn = 90 * time.Second
	}
	sessions := session.NewManager(maxTurn, logger)
	defer sessions.Close()

	client := generation.NewHTTPClient(generation.HTTPClientOptions{
		BaseURL:   cfg.Generation.BaseURL,
		APIKey:    cfg.Generation.APIKey,
		Model:     cfg.Generation.Model,
		MaxTokens: cfg.Generation.MaxTokens,
	}, logger)
	adapter := generation.NewAdapter(client, generation.AdapterOptions{
		Timeout:        cfg.Generation.Timeout,
		ConnectRetries: cfg.Generation.ConnectRetries,
	}, logger)

	renderer := charts.NewHTTPRenderer(cfg.Charts.BaseURL, logger)
	coordinator := charts.NewCoordinator(renderer, charts.Options{
		CallTimeout:  cfg.Charts.CallTimeout,
		GateWidth:    cfg.Charts.GateWidth,
		GlobalBudget: int64(cfg.Charts.GlobalBudget),
	}, logger)

	svc := conversation.New(st, adapter, coordinator, sessions, conversation.Options{
		HistoryLimit: cfg.Session.HistoryLimit,
		Stream: stream.Options{
			BufferSize:        cfg.Stream.BufferSize,
			HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		},
	}, logger)

	mux := http.NewServeMux()
	httpapi.New(st, svc, logger).Routes(mux)

	server := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: mux,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", cfg.Server.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	// Handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("brain-gateway configuration setup")
	fmt.Println("=================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "gateway.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Generation Service ---")
	genURL := prompt(reader, "Generation base URL", "https://dashscope.aliyuncs.com/compatible-mode/v1")
	genModel := prompt(reader, "Model", "qwen-max")

	fmt.Println("\n--- Chart Service ---")
	chartsURL := prompt(reader, "Chart service base URL", "http://localhost:3001")

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# brain-gateway configuration\n")
	cfg.WriteString("# Generated by brain-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("generation:\n")
	cfg.WriteString(fmt.Sprintf("  base_url: \"%s\"\n", genURL))
	cfg.WriteString("  api_key: \"${BRAIN_API_KEY}\"\n")
	cfg.WriteString(fmt.Sprintf("  model: \"%s\"\n", genModel))
	cfg.WriteString("  max_tokens: 4096\n")
	cfg.WriteString("  timeout: \"30s\"\n")
	cfg.WriteString("  connect_retries: 1\n")
	cfg.WriteString("\n")

	cfg.WriteString("charts:\n")
	cfg.WriteString(fmt.Sprintf("  base_url: \"%s\"\n", chartsURL))
	cfg.WriteString("  call_timeout: \"5s\"\n")
	cfg.WriteString("  gate_width: 5\n")
	cfg.WriteString("  global_budget: 25\n")
	cfg.WriteString("\n")

	cfg.WriteString("stream:\n")
	cfg.WriteString("  heartbeat_interval: \"30s\"\n")
	cfg.WriteString("  buffer_size: 64\n")
	cfg.WriteString("\n")

	cfg.WriteString("session:\n")
	cfg.WriteString("  max_turn_duration: \"90s\"\n")
	cfg.WriteString("  history_limit: 10\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  brain-gateway serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
