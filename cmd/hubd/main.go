// Command hubd runs the agent messaging hub: gRPC stream server, HTTP
// health/SSE surface, and (optionally) a Tailscale listener.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/tsnet"

	pb "github.com/agent-hub/hub/proto/hub"

	"github.com/agent-hub/hub/internal/hub/auth"
	"github.com/agent-hub/hub/internal/hub/config"
	"github.com/agent-hub/hub/internal/hub/dedupe"
	"github.com/agent-hub/hub/internal/hub/httpapi"
	"github.com/agent-hub/hub/internal/hub/registry"
	"github.com/agent-hub/hub/internal/hub/replay"
	"github.com/agent-hub/hub/internal/hub/router"
	"github.com/agent-hub/hub/internal/hub/session"
	"github.com/agent-hub/hub/internal/hub/store"
	"github.com/agent-hub/hub/internal/hub/streamsrv"
	"github.com/agent-hub/hub/internal/hub/token"
)

var version = "dev"

const banner = `
   _                    _          _           _
  / \   __ _  ___ _ __ | |_ ______| |__  _   _| |__
 / _ \ / _' |/ _ \ '_ \| __|______| '_ \| | | | '_ \
/ ___ \ (_| |  __/ | | | |_       | | | | |_| | |_) |
/_/   \_\__, |\___|_| |_|\__|      |_| |_|\__,_|_.__/
        |___/
`

func getConfigPath() string {
	if p := os.Getenv("HUB_CONFIG"); p != "" {
		return p
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "hub.yaml"
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "agent-hub", "hub.yaml")
}

func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "agent-hub")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: hubd <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                  Start the hub server")
		fmt.Println("  bootstrap              Generate a config file with a fresh JWT secret")
		fmt.Println("  health                 Check hub health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "bootstrap":
		err = runBootstrap()
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

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config: %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("gRPC:   %s\n", cfg.Server.GRPCAddr)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:   %s\n", cfg.Server.HTTPAddr)
	if cfg.Tailnet.Enabled {
		green.Print("    ▶ ")
		fmt.Print("Tailnet: ")
		cyan.Println(cfg.Tailnet.Hostname)
	}
	fmt.Println()

	logger.Info("starting hub", "config", configPath, "grpc_addr", cfg.Server.GRPCAddr, "http_addr", cfg.Server.HTTPAddr)

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	tokens := token.New([]byte(cfg.Auth.Secret), cfg.Auth.TokenTTL)
	reg := registry.New(tokens, logger)
	sessions := session.NewTable(cfg.Agents.SessionQueueBound, logger)
	rtr := router.New(sessions, logger)
	dedupeCache := dedupe.New(cfg.Agents.DedupeTTL, cfg.Agents.DedupeMaxSize)
	defer dedupeCache.Close()

	serverID := generateServerID()

	srv := streamsrv.New(streamsrv.Config{
		ServerID: serverID,
		Registry: reg,
		Store:    st,
		Sessions: sessions,
		Router:   rtr,
		Tokens:   tokens,
		Dedupe:   dedupeCache,
		ReplayOpts: replay.Options{
			PollInterval: cfg.Replay.PollInterval,
			MaxBackoff:   cfg.Replay.MaxBackoff,
		},
		Logger: logger,
	})

	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             15 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainStreamInterceptor(streamMessagesOnlyAuth(tokens, logger)),
	)
	pb.RegisterHubServiceServer(grpcServer, srv)

	var tsServer *tsnet.Server
	var grpcLis net.Listener
	if cfg.Tailnet.Enabled {
		tsServer, grpcLis, err = setupTailnetListener(ctx, cfg.Tailnet, logger)
		if err != nil {
			return fmt.Errorf("setting up tailnet listener: %w", err)
		}
		defer tsServer.Close()
	} else {
		grpcLis, err = net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", cfg.Server.GRPCAddr, err)
		}
	}

	mux := http.NewServeMux()
	httpapi.New(sessions, st, tokens, replay.Options{PollInterval: cfg.Replay.PollInterval, MaxBackoff: cfg.Replay.MaxBackoff}, logger).Register(mux)
	httpServer := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: mux}

	errCh := make(chan error, 2)
	go func() { errCh <- grpcServer.Serve(grpcLis) }()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()

	logger.Info("hub stopped")
	return nil
}

// resolveTailnetStateDir returns the state directory, defaulting to
// ~/.local/share/agent-hub/tailscale if unconfigured (XDG_DATA_HOME is
// not consulted).
func resolveTailnetStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailnet state (set tailnet.state_dir explicitly): %w", err)
	}
	return filepath.Join(home, ".local", "share", "agent-hub", "tailscale"), nil
}

// resolveTailnetAuthKey returns the auth key from config or the
// TS_AUTHKEY environment variable.
func resolveTailnetAuthKey(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if key := os.Getenv("TS_AUTHKEY"); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("tailnet auth key required: set tailnet.auth_key or TS_AUTHKEY")
}

// setupTailnetListener brings up a tsnet node and returns a gRPC
// listener bound to it instead of a plain TCP socket.
func setupTailnetListener(ctx context.Context, cfg config.TailnetConfig, logger *slog.Logger) (*tsnet.Server, net.Listener, error) {
	stateDir, err := resolveTailnetStateDir(cfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating tailnet state dir: %w", err)
	}

	authKey, err := resolveTailnetAuthKey(cfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	srv := &tsnet.Server{
		Hostname:  cfg.Hostname,
		Dir:       stateDir,
		Ephemeral: cfg.Ephemeral,
		AuthKey:   authKey,
	}

	logger.Info("starting tailnet node", "hostname", cfg.Hostname, "state_dir", stateDir, "ephemeral", cfg.Ephemeral)
	status, err := srv.Up(ctx)
	if err != nil {
		_ = srv.Close()
		return nil, nil, fmt.Errorf("starting tailnet: %w", err)
	}
	if len(status.TailscaleIPs) > 0 {
		logger.Info("tailnet node ready", "hostname", cfg.Hostname, "tailscale_ip", status.TailscaleIPs[0].String())
	} else {
		logger.Warn("tailnet node has no IP addresses assigned")
	}

	lis, err := srv.Listen("tcp", ":50051")
	if err != nil {
		_ = srv.Close()
		return nil, nil, fmt.Errorf("listening on tailnet gRPC port: %w", err)
	}
	return srv, lis, nil
}

// streamMessagesOnlyAuth wraps auth.StreamInterceptor so RegisterAgent
// (a unary RPC with no prior token) never has to pass through it; only
// the StreamMessages call is authenticated this way, matching the
// AwaitingAuth phase of the state machine.
func streamMessagesOnlyAuth(tokens *token.Service, logger *slog.Logger) grpc.StreamServerInterceptor {
	authenticated := auth.StreamInterceptor(tokens, logger)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if info.FullMethod != "/hub.HubService/StreamMessages" {
			return handler(srv, ss)
		}
		return authenticated(srv, ss, info, handler)
	}
}

func generateServerID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{level: level}
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
	return &colorHandler{level: h.level, attrs: newAttrs, groups: h.groups}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{level: h.level, attrs: h.attrs, groups: newGroups}
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
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

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}
	fmt.Println("healthy")
	return nil
}

func runBootstrap() error {
	configPath := getConfigPath()
	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "hub.db")

	green := color.New(color.FgGreen)

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	secret := base64.StdEncoding.EncodeToString(secretBytes)

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	content := fmt.Sprintf(`# agent-hub configuration
# generated by hubd bootstrap

server:
  grpc_addr: "localhost:50051"
  http_addr: "localhost:8080"

database:
  path: "%s"

auth:
  secret: "%s"
  token_ttl: "24h"

replay:
  poll_interval: "2s"
  max_backoff: "30s"

agents:
  session_queue_bound: 0
  dedupe_ttl: "10m"
  dedupe_max_size: 10000

logging:
  level: "info"
  format: "color"
`, dbPath, secret)

	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green.Printf("  ✓ Created config: %s\n", configPath)
	fmt.Println()
	fmt.Println("  Ready to go:")
	fmt.Println("    hubd serve")
	fmt.Println()
	return nil
}
