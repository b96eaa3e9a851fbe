// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/voicebox/internal/api/connect"
	"github.com/osa030/voicebox/internal/api/httpapi"
	"github.com/osa030/voicebox/internal/api/ws"
	"github.com/osa030/voicebox/internal/app/filter"
	"github.com/osa030/voicebox/internal/app/playback"
	"github.com/osa030/voicebox/internal/app/resolver"
	"github.com/osa030/voicebox/internal/app/session"
	"github.com/osa030/voicebox/internal/infra/cache"
	"github.com/osa030/voicebox/internal/infra/config"
	"github.com/osa030/voicebox/internal/infra/events"
	"github.com/osa030/voicebox/internal/infra/favorites"
	"github.com/osa030/voicebox/internal/infra/ffmpeg"
	"github.com/osa030/voicebox/internal/infra/logger"
	"github.com/osa030/voicebox/internal/infra/metrics"
	"github.com/osa030/voicebox/internal/infra/roomsettings"
	"github.com/osa030/voicebox/internal/infra/spotify"
)

var (
	app        = kingpin.New("voicebox-server", "voicebox voice channel playback server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available filters and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Handle list-filters command
	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	// Initialize logger
	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
		loggerConfig.File = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	// Load config
	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx := context.Background()

	if err := validateFilterConfig(cfg); err != nil {
		return fmt.Errorf("invalid filter config: %w", err)
	}

	m := metrics.New()

	// Resolver: provider chain, then cache, then latency metrics
	var spotifyClient resolver.SpotifyClient
	if cfg.HasProvider("spotify") {
		client, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			Market:       cfg.Spotify.Market,
		})
		if err != nil {
			return fmt.Errorf("failed to create Spotify client: %w", err)
		}
		spotifyClient = client
	}
	chain, err := resolver.NewChainFromConfig(cfg, spotifyClient)
	if err != nil {
		return fmt.Errorf("failed to create resolver: %w", err)
	}
	var searcher resolver.Searcher = chain
	var invalidator session.Invalidator
	if cfg.Resolver.Cache.Enabled {
		trackCache := cache.New(cache.Config{
			RedisAddr:      cfg.Resolver.Cache.Addr,
			RedisPassword:  cfg.Resolver.Cache.Password,
			RedisDB:        cfg.Resolver.Cache.DB,
			TTL:            cfg.Resolver.Cache.TTL(),
			KeyPrefix:      cfg.Resolver.Cache.KeyPrefix,
			DisableOnError: true,
		})
		defer trackCache.Close()
		cached := resolver.NewCached(searcher, trackCache)
		searcher = cached
		invalidator = cached
	}
	searcher = resolver.NewInstrumented(searcher, m.ObserveResolve)

	// Audio sink
	sinkCfg, err := ffmpeg.ParseConfig(cfg.Sink.Settings)
	if err != nil {
		return fmt.Errorf("invalid sink config: %w", err)
	}
	sinks := func(roomID string) playback.Sink {
		return ffmpeg.New(roomID, sinkCfg)
	}

	// Per-room auto-disconnect settings
	policies, err := roomsettings.New(cfg.Presence.SettingsFile, roomsettings.Policy{
		AutoDisconnect: cfg.Presence.AutoDisconnectEnabled(),
		GracePeriod:    cfg.Presence.GracePeriod(),
	})
	if err != nil {
		return fmt.Errorf("failed to load room settings: %w", err)
	}
	defer policies.Close()

	deps := session.Dependencies{
		Resolver:    searcher,
		Sinks:       sinks,
		Admitter:    filter.NewChainFromConfig(cfg),
		Policies:    policies,
		Metrics:     m,
		Invalidator: invalidator,
	}

	// Favorites
	if cfg.Favorites.Enabled {
		store, err := favorites.Open(cfg.Favorites.DSN)
		if err != nil {
			return fmt.Errorf("failed to open favorites store: %w", err)
		}
		defer store.Close()
		deps.Favorites = store
	}

	// Create session manager
	sessionMgr := session.NewManager(cfg, deps)

	// Status fan-out to NATS
	if cfg.Events.NATSURL != "" {
		natsCfg := events.DefaultConfig()
		natsCfg.URL = cfg.Events.NATSURL
		natsCfg.Subject = cfg.Events.Subject
		publisher, err := events.Connect(natsCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer publisher.Close()
		sessionMgr.Notifications().AddPublisher(publisher)
	}

	// Create RPC service
	rpcPath, rpcHandler := apiconnect.NewPlaybackServiceHandler(
		apiconnect.NewPlaybackService(sessionMgr),
		connect.WithInterceptors(apiconnect.NewAdminAuthInterceptor(cfg.Admin.Token)),
	)

	router := httpapi.NewRouter(httpapi.Options{
		RPCPath:     rpcPath,
		RPCHandler:  rpcHandler,
		Status:      ws.NewHandler(sessionMgr.Notifications(), cfg.Admin.Token, sessionMgr.Done()),
		StatusPath:  cfg.Server.WebsocketPath,
		Metrics:     m,
		MetricsPath: cfg.Server.MetricsPath,
	})

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(router, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to capture server startup errors
	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	// Wait for server to start listening
	<-serverStartedCh
	time.Sleep(100 * time.Millisecond)

	// Execute startup hook if configured (after server is running)
	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	// Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		sessionMgr.Close()
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Close session manager first to leave every room and end open streams
	sessionMgr.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return nil
}

// printFilters prints available filters.
func printFilters() {
	fmt.Println("Available Filters:")
	for _, factory := range filter.GetRegistered() {
		f := factory()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}

// validateFilterConfig validates filter configurations.
func validateFilterConfig(cfg *config.Config) error {
	registry := filter.GetRegistered()

	for filterName, filterCfg := range cfg.Filters {
		if !filterCfg.Enabled {
			continue
		}

		factory, exists := registry[filterName]
		if !exists {
			return fmt.Errorf("unknown filter: %s", filterName)
		}

		f := factory()
		if err := f.ValidateConfig(filterCfg.Settings); err != nil {
			return fmt.Errorf("filter %s: %w", filterName, err)
		}
	}

	return nil
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
