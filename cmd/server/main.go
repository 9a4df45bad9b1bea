// Command server starts the ReelStream ingestion and playback API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"reelstream/internal/api"
	"reelstream/internal/ipfs"
	"reelstream/internal/livepeer"
	"reelstream/internal/localengine"
	"reelstream/internal/metadata"
	"reelstream/internal/observability/logging"
	"reelstream/internal/observability/metrics"
	"reelstream/internal/pipeline"
	"reelstream/internal/playback"
	"reelstream/internal/retry"
	"reelstream/internal/server"
	"reelstream/internal/store"
	"reelstream/internal/watchqueue"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log output format (json or text)")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")

	pinataJWT := flag.String("pinata-jwt", "", "Pinata API credential for pinning uploads")
	pinataAPIBase := flag.String("pinata-api-base", "", "Pinata pinning API base URL")
	pinataGateway := flag.String("pinata-gateway-domain", "", "dedicated Pinata gateway domain")
	publicGateway := flag.String("ipfs-public-gateway", "", "public IPFS gateway base URL")

	livepeerKey := flag.String("livepeer-api-key", "", "Livepeer Studio API key")
	livepeerAPIBase := flag.String("livepeer-api-base", "", "Livepeer API base URL")
	livepeerPlayback := flag.String("livepeer-playback-base", "", "Livepeer playback base URL")
	pollInterval := flag.Duration("poll-interval", 0, "interval between transcode status polls")
	pollAttempts := flag.Int("poll-attempts", 0, "maximum transcode status polls per job")
	pollWorkers := flag.Int("poll-workers", 0, "concurrent transcode poll workers")

	metadataURL := flag.String("metadata-url", "", "metadata store base URL")

	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string for the asset store")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections in the Postgres pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")

	watchDriver := flag.String("watch-queue-driver", "", "watch queue driver (memory or redis)")
	watchRedisAddr := flag.String("watch-redis-addr", "", "Redis address for the watch queue")
	watchRedisAddrs := flag.String("watch-redis-addrs", "", "comma separated Redis addresses for the watch queue")
	watchRedisUsername := flag.String("watch-redis-username", "", "Redis username for the watch queue")
	watchRedisPassword := flag.String("watch-redis-password", "", "Redis password for the watch queue")
	watchRedisStream := flag.String("watch-redis-stream", "", "Redis stream key for watch events")
	watchRedisGroup := flag.String("watch-redis-group", "", "Redis consumer group for watch events")
	watchRedisMaster := flag.String("watch-redis-sentinel-master", "", "Redis sentinel master name for the watch queue")
	watchRedisTLSCA := flag.String("watch-redis-tls-ca", "", "path to Redis TLS CA certificate")
	watchRedisTLSCert := flag.String("watch-redis-tls-cert", "", "path to Redis TLS client certificate")
	watchRedisTLSKey := flag.String("watch-redis-tls-key", "", "path to Redis TLS client key")

	playerOrigins := flag.String("player-origins", "", "comma separated origins allowed to call the API cross-domain")
	allowDirect := flag.Bool("allow-direct-playback", false, "allow the direct gateway playback tier")
	engineWallClock := flag.Duration("engine-wall-clock", 0, "wall clock bound for a local conversion")

	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	uploadLimit := flag.Int("rate-upload-limit", 0, "maximum uploads per window for a single IP")
	uploadWindow := flag.Duration("rate-upload-window", 0, "window for counting upload attempts")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed upload throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed upload throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for rate limiter Redis operations")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("REELSTREAM_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("REELSTREAM_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	listenAddr := firstNonEmpty(*addr, os.Getenv("REELSTREAM_ADDR"), ":8080")

	metadataClient := metadata.NewClient(metadata.Config{
		BaseURL: firstNonEmpty(*metadataURL, os.Getenv("REELSTREAM_METADATA_URL")),
		Logger:  logging.WithComponent(logger, "metadata"),
	})

	gateway := ipfs.NewClient(ipfs.Config{
		JWT:           firstNonEmpty(*pinataJWT, os.Getenv("REELSTREAM_PINATA_JWT")),
		APIBase:       firstNonEmpty(*pinataAPIBase, os.Getenv("REELSTREAM_PINATA_API_BASE")),
		GatewayDomain: firstNonEmpty(*pinataGateway, os.Getenv("REELSTREAM_PINATA_GATEWAY_DOMAIN")),
		PublicGateway: firstNonEmpty(*publicGateway, os.Getenv("REELSTREAM_IPFS_PUBLIC_GATEWAY")),
		Logger:        logging.WithComponent(logger, "ipfs"),
	}, metadataClient)

	pollPolicy := retry.Default()
	if interval := resolveDuration(*pollInterval, "REELSTREAM_POLL_INTERVAL", 0); interval > 0 {
		pollPolicy.Interval = interval
	}
	if attempts := resolveInt(*pollAttempts, "REELSTREAM_POLL_ATTEMPTS"); attempts > 0 {
		pollPolicy.MaxAttempts = attempts
	}
	transcoder := livepeer.NewClient(livepeer.Config{
		APIKey:       firstNonEmpty(*livepeerKey, os.Getenv("REELSTREAM_LIVEPEER_API_KEY")),
		APIBase:      firstNonEmpty(*livepeerAPIBase, os.Getenv("REELSTREAM_LIVEPEER_API_BASE")),
		PlaybackBase: firstNonEmpty(*livepeerPlayback, os.Getenv("REELSTREAM_LIVEPEER_PLAYBACK_BASE")),
		Logger:       logging.WithComponent(logger, "livepeer"),
		Poll:         pollPolicy,
	})

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	repo, err := openRepository(bootCtx, *postgresDSN, *postgresMaxConns, *postgresMinConns, *postgresAppName, logger)
	bootCancel()
	if err != nil {
		logger.Error("failed to open asset store", "error", err)
		os.Exit(1)
	}

	analytics := watchqueue.NewMemoryQueue(128)
	queue, err := configureWatchQueue(watchQueueSettings{
		driver:     firstNonEmpty(*watchDriver, os.Getenv("REELSTREAM_WATCH_QUEUE_DRIVER")),
		addr:       firstNonEmpty(*watchRedisAddr, os.Getenv("REELSTREAM_WATCH_REDIS_ADDR")),
		addrs:      splitAndTrim(firstNonEmpty(*watchRedisAddrs, os.Getenv("REELSTREAM_WATCH_REDIS_ADDRS"))),
		username:   firstNonEmpty(*watchRedisUsername, os.Getenv("REELSTREAM_WATCH_REDIS_USERNAME")),
		password:   firstNonEmpty(*watchRedisPassword, os.Getenv("REELSTREAM_WATCH_REDIS_PASSWORD")),
		stream:     firstNonEmpty(*watchRedisStream, os.Getenv("REELSTREAM_WATCH_REDIS_STREAM")),
		group:      firstNonEmpty(*watchRedisGroup, os.Getenv("REELSTREAM_WATCH_REDIS_GROUP")),
		masterName: firstNonEmpty(*watchRedisMaster, os.Getenv("REELSTREAM_WATCH_REDIS_SENTINEL_MASTER")),
		tlsCA:      firstNonEmpty(*watchRedisTLSCA, os.Getenv("REELSTREAM_WATCH_REDIS_TLS_CA")),
		tlsCert:    firstNonEmpty(*watchRedisTLSCert, os.Getenv("REELSTREAM_WATCH_REDIS_TLS_CERT")),
		tlsKey:     firstNonEmpty(*watchRedisTLSKey, os.Getenv("REELSTREAM_WATCH_REDIS_TLS_KEY")),
	}, analytics, logger)
	if err != nil {
		logger.Error("failed to configure watch queue", "error", err)
		os.Exit(1)
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	forwarder := watchqueue.NewForwarder(queue, metadataClient, logging.WithComponent(logger, "watch-forwarder"))
	go forwarder.Run(workerCtx)

	poller := pipeline.NewPollManager(pipeline.PollManagerConfig{
		Repo:       repo,
		Transcoder: transcoder,
		Metadata:   metadataClient,
		Metrics:    recorder,
		Logger:     logging.WithComponent(logger, "poller"),
		Workers:    resolveInt(*pollWorkers, "REELSTREAM_POLL_WORKERS"),
	})
	orchestrator := pipeline.NewOrchestrator(pipeline.Config{
		Repo:       repo,
		Gateway:    gateway,
		Transcoder: transcoder,
		Metadata:   metadataClient,
		Poller:     poller,
		Metrics:    recorder,
		Logger:     logging.WithComponent(logger, "pipeline"),
	})

	playbackManager := playback.NewManager(playback.Config{
		Queue:       queue,
		Transcoder:  transcoder,
		Metrics:     recorder,
		Logger:      logging.WithComponent(logger, "playback"),
		AllowDirect: resolveBool(*allowDirect, "REELSTREAM_ALLOW_DIRECT_PLAYBACK"),
	})

	// No embedded codec runtime ships with the server binary; the local
	// tier degrades to 503 until one is wired in.
	loader := localengine.NewLoader(localengine.Unavailable(), logging.WithComponent(logger, "localengine"))
	converter := localengine.NewConverter(loader, localengine.ConverterConfig{
		Logger:    logging.WithComponent(logger, "localengine"),
		WallClock: resolveDuration(*engineWallClock, "REELSTREAM_ENGINE_WALL_CLOCK", 0),
	})

	handler := api.NewHandler(api.Handler{
		Repo:         repo,
		Orchestrator: orchestrator,
		Playback:     playbackManager,
		Gateway:      gateway,
		Converter:    converter,
		Queue:        queue,
		Stats:        analytics,
		Metrics:      recorder,
		Logger:       logging.WithComponent(logger, "api"),
	})

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("REELSTREAM_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("REELSTREAM_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     resolveFloat(*globalRPS, "REELSTREAM_RATE_GLOBAL_RPS"),
			GlobalBurst:   resolveInt(*globalBurst, "REELSTREAM_RATE_GLOBAL_BURST"),
			UploadLimit:   resolveInt(*uploadLimit, "REELSTREAM_RATE_UPLOAD_LIMIT"),
			UploadWindow:  resolveDuration(*uploadWindow, "REELSTREAM_RATE_UPLOAD_WINDOW", time.Minute),
			RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("REELSTREAM_RATE_REDIS_ADDR")),
			RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("REELSTREAM_RATE_REDIS_PASSWORD")),
			RedisTimeout:  resolveDuration(*rateRedisTimeout, "REELSTREAM_RATE_REDIS_TIMEOUT", 2*time.Second),
		},
		CORS: server.CORSConfig{
			PlayerOrigins: splitAndTrim(firstNonEmpty(*playerOrigins, os.Getenv("REELSTREAM_PLAYER_ORIGINS"))),
		},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	poller.Start()
	srv.Readiness().MarkReady()

	errs := make(chan error, 1)
	go func() {
		logger.Info("ReelStream API listening", "addr", listenAddr,
			"pinning", gateway.Enabled(), "transcoder", transcoder.Enabled(), "metadata", metadataClient.Enabled())
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		logger.Error("server error", "error", err)
	}

	workerCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	if err := poller.Shutdown(ctx); err != nil {
		logger.Warn("failed to stop poll manager", "error", err)
	}
	if err := repo.Close(ctx); err != nil {
		logger.Warn("failed to close asset store", "error", err)
	}

	logger.Info("server stopped")
}

func openRepository(ctx context.Context, flagDSN string, maxConns, minConns int, appName string, logger *slog.Logger) (store.Repository, error) {
	dsn := strings.TrimSpace(firstNonEmpty(flagDSN, os.Getenv("REELSTREAM_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
	if dsn == "" {
		logger.Warn("no Postgres DSN configured, assets are held in memory")
		return store.NewMemoryRepository(), nil
	}
	return store.NewPostgresRepository(ctx, store.PostgresConfig{
		DSN:             dsn,
		MaxConnections:  int32(resolveInt(maxConns, "REELSTREAM_POSTGRES_MAX_CONNS")),
		MinConnections:  int32(resolveInt(minConns, "REELSTREAM_POSTGRES_MIN_CONNS")),
		ApplicationName: firstNonEmpty(appName, os.Getenv("REELSTREAM_POSTGRES_APP_NAME")),
	})
}

type watchQueueSettings struct {
	driver     string
	addr       string
	addrs      []string
	username   string
	password   string
	stream     string
	group      string
	masterName string
	tlsCA      string
	tlsCert    string
	tlsKey     string
}

// configureWatchQueue picks the event transport. The in-memory analytics
// queue always participates so per-video summaries stay available.
func configureWatchQueue(settings watchQueueSettings, analytics *watchqueue.MemoryQueue, logger *slog.Logger) (watchqueue.Queue, error) {
	switch strings.ToLower(strings.TrimSpace(settings.driver)) {
	case "redis":
		if len(settings.addrs) == 0 && settings.addr == "" {
			return nil, fmt.Errorf("redis addr is required for the watch queue")
		}
		redisQueue, err := watchqueue.NewRedisQueue(watchqueue.RedisQueueConfig{
			Addr:       settings.addr,
			Addrs:      settings.addrs,
			Username:   settings.username,
			Password:   settings.password,
			Stream:     settings.stream,
			Group:      settings.group,
			MasterName: settings.masterName,
			Logger:     logging.WithComponent(logger, "watch-queue"),
			TLS: watchqueue.RedisTLSConfig{
				CAFile:   settings.tlsCA,
				CertFile: settings.tlsCert,
				KeyFile:  settings.tlsKey,
			},
		})
		if err != nil {
			return nil, err
		}
		return watchqueue.Tee(redisQueue, analytics), nil
	case "", "memory":
		return analytics, nil
	default:
		return nil, fmt.Errorf("unsupported watch queue driver %q", settings.driver)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
