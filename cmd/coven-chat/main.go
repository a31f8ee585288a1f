// ABOUTME: Entry point for the coven-chat server and its companion CLI commands
// ABOUTME: Serves the chat API, runs migrations, and talks to a running server

package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/gateway"
	"github.com/2389/coven-chat/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                                _           _
  ___ _____   _____ _ __         ___| |__   __ _| |_
 / __/ _ \ \ / / _ \ '_ \ _____ / __| '_ \ / _' | __|
| (_| (_) \ V /  __/ | | |_____| (__| | | | (_| | |_
 \___\___/ \_/ \___|_| |_|      \___|_| |_|\__,_|\__|
`

// getConfigPath returns the path to the config file.
// Priority: COVEN_CHAT_CONFIG env var > XDG_CONFIG_HOME/coven-chat/config.yaml > ~/.config/coven-chat/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_CHAT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven-chat", "config.yaml")
}

// getDataPath returns the path to the data directory.
// Priority: XDG_DATA_HOME/coven-chat > ~/.local/share/coven-chat
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven-chat")
}

func usage() {
	fmt.Println("Usage: coven-chat <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                          Start the chat server")
	fmt.Println("  init                           Create a new config file interactively")
	fmt.Println("  migrate                        Apply database migrations and print the schema version")
	fmt.Println("  send [--thread ID] MESSAGE     Send a message to a running server")
	fmt.Println("  threads                        List threads on a running server")
	fmt.Println("  export --thread ID [--html]    Print a thread transcript")
	fmt.Println("  health [--grpc]                Check server health")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "migrate":
		err = runMigrate(ctx)
	case "send":
		err = runSend(ctx, args)
	case "threads":
		err = runThreads(ctx)
	case "export":
		err = runExport(ctx, args)
	case "health":
		err = runHealth(ctx, args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", describeDatabase(gateway.ResolveDatabase(cfg.Database)))
	green.Print("    ▶ ")
	fmt.Printf("Agent:     %s", cfg.Agent.Provider)
	if cfg.Agent.Model != "" {
		gray.Printf(" (%s)", cfg.Agent.Model)
	}
	fmt.Println()

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting coven-chat",
		"config", configPath,
		"grpc_addr", cfg.Server.GRPCAddr,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// describeDatabase renders the database target without credentials.
func describeDatabase(db config.DatabaseConfig) string {
	if db.Driver == "mysql" {
		return fmt.Sprintf("mysql://%s@%s:%d/%s", db.User, db.Host, db.Port, db.Name)
	}
	return fmt.Sprintf("%s (%s)", db.Path, db.Driver)
}

func runMigrate(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	dbCfg := gateway.ResolveDatabase(cfg.Database)
	s, err := store.Open(ctx, dbCfg, logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	v, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	color.New(color.FgGreen).Printf("  ✓ %s migrated to version %d\n", describeDatabase(dbCfg), v)
	return nil
}

// serverURL returns the base URL of the configured HTTP server.
func serverURL(cfg *config.Config) string {
	if envURL := os.Getenv("COVEN_CHAT_URL"); envURL != "" {
		return strings.TrimSuffix(envURL, "/")
	}
	return "http://" + cfg.Server.HTTPAddr
}

// chatResponse mirrors the server's thread JSON shape.
type chatResponse struct {
	ThreadID     string   `json:"thread_id"`
	HumanMessage []string `json:"human_message"`
	AIResponse   []string `json:"Ai_response"`
	Heading      string   `json:"heading"`
	RetryToken   string   `json:"retry_token,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// parseSendArgs splits "send" arguments into thread id and message.
// Supports both "--thread value" and "--thread=value".
func parseSendArgs(args []string) (threadID, message string, err error) {
	var words []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--thread" || arg == "-t":
			if i+1 >= len(args) {
				return "", "", errors.New("--thread requires a value")
			}
			threadID = args[i+1]
			i++
		case strings.HasPrefix(arg, "--thread="):
			threadID = strings.TrimPrefix(arg, "--thread=")
		case strings.HasPrefix(arg, "-") && arg != "-":
			return "", "", fmt.Errorf("unknown flag: %s", arg)
		default:
			words = append(words, arg)
		}
	}

	message = strings.TrimSpace(strings.Join(words, " "))
	if message == "" || message == "-" {
		reader := bufio.NewReader(os.Stdin)
		data, readErr := io.ReadAll(reader)
		if readErr != nil {
			return "", "", fmt.Errorf("reading message from stdin: %w", readErr)
		}
		message = strings.TrimSpace(string(data))
	}
	if message == "" {
		return "", "", errors.New("message is required")
	}
	return threadID, message, nil
}

func runSend(ctx context.Context, args []string) error {
	threadID, message, err := parseSendArgs(args)
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	target := serverURL(cfg) + "/chat"
	if threadID != "" {
		target += "?thread_id=" + url.QueryEscape(threadID)
	}

	body, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
	}

	if len(out.AIResponse) > 0 {
		color.New(color.FgCyan, color.Bold).Printf("%s\n", out.Heading)
		color.New(color.FgHiBlack).Printf("thread %s\n\n", out.ThreadID)
		fmt.Println(out.AIResponse[len(out.AIResponse)-1])
	}

	if resp.StatusCode != http.StatusOK {
		if out.RetryToken != "" {
			color.New(color.FgYellow).Printf("\nreply not saved; retry token: %s\n", out.RetryToken)
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, out.Error)
	}
	return nil
}

func runThreads(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL(cfg)+"/chat", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("listing threads: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		fmt.Println("no threads")
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var threads []struct {
		ThreadID string `json:"thread_id"`
		Heading  string `json:"heading"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&threads); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	gray := color.New(color.FgHiBlack)
	for _, t := range threads {
		gray.Printf("%s  ", t.ThreadID)
		fmt.Println(t.Heading)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	var threadID string
	format := "md"
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--thread" || arg == "-t":
			if i+1 >= len(args) {
				return errors.New("--thread requires a value")
			}
			threadID = args[i+1]
			i++
		case strings.HasPrefix(arg, "--thread="):
			threadID = strings.TrimPrefix(arg, "--thread=")
		case arg == "--html":
			format = "html"
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	if threadID == "" {
		return errors.New("--thread is required")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	q := url.Values{"thread_id": {threadID}, "format": {format}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL(cfg)+"/chat/export?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("exporting thread: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	_, err = os.Stdout.Write(data)
	return err
}

func runHealth(ctx context.Context, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	if len(args) > 0 && args[0] == "--grpc" {
		return checkGRPCHealth(ctx, cfg.Server.GRPCAddr)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL(cfg)+"/health/ready", nil)
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

// checkGRPCHealth queries the grpc.health.v1 service and prints the response.
func checkGRPCHealth(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("server.grpc_addr is not configured")
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: gateway.ServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	out, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	fmt.Println(string(out))

	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("unhealthy: %s", resp.Status)
	}
	return nil
}
