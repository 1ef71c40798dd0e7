package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/AccountantBot/coordinator/internal/allowance"
	"github.com/AccountantBot/coordinator/internal/auth"
	"github.com/AccountantBot/coordinator/internal/chain"
	"github.com/AccountantBot/coordinator/internal/chain/ethereum"
	"github.com/AccountantBot/coordinator/internal/chain/mock"
	"github.com/AccountantBot/coordinator/internal/config"
	"github.com/AccountantBot/coordinator/internal/coordinator"
	"github.com/AccountantBot/coordinator/internal/intent"
	"github.com/AccountantBot/coordinator/internal/lock"
	"github.com/AccountantBot/coordinator/internal/metrics"
	"github.com/AccountantBot/coordinator/internal/middleware"
	"github.com/AccountantBot/coordinator/internal/service"
	"github.com/AccountantBot/coordinator/internal/settlement"
	"github.com/AccountantBot/coordinator/internal/storage"
	"github.com/AccountantBot/coordinator/internal/storage/postgres"
	"github.com/AccountantBot/coordinator/internal/storage/sqlite"
	"github.com/AccountantBot/coordinator/internal/tokens"
	"github.com/AccountantBot/coordinator/pkg/api/apiconnect"
	"github.com/AccountantBot/coordinator/pkg/logging"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config (default "+config.DefaultPath+" if present)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	contract := common.HexToAddress(cfg.Chain.SettlementContract)
	node, closeNode, err := openChain(ctx, cfg.Chain, contract)
	if err != nil {
		return err
	}
	defer closeNode()
	client := chain.NewBreakerClient(node, chain.BreakerSettings{
		ConsecutiveFailures: cfg.Chain.Breaker.ConsecutiveFailures,
		OpenTimeout:         cfg.Chain.Breaker.OpenTimeout,
		OnStateChange:       m.BreakerStateChanged,
	})

	tokenRegistry, err := tokens.NewRegistry(cfg.Chain.ChainID, cfg.TokenList())
	if err != nil {
		return fmt.Errorf("failed to load tokens: %w", err)
	}

	locker, rdb, err := openLocker(ctx, cfg.Lock)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	tracker := allowance.NewTracker(client, contract, allowance.RetryConfig{
		MaxRetries:      cfg.Allowance.MaxRetries,
		InitialInterval: cfg.Allowance.InitialInterval,
		MaxInterval:     cfg.Allowance.MaxInterval,
	})
	coord, err := coordinator.New(coordinator.Deps{
		Store:      store,
		Tokens:     tokenRegistry,
		Intents:    intent.NewBuilder(cfg.Chain.ChainID, contract),
		Allowances: tracker,
		Executor: settlement.NewExecutor(client, settlement.Config{
			Direction:           cfg.Direction(),
			ConfirmationTimeout: cfg.Settlement.ConfirmationTimeout,
			PollInterval:        cfg.Settlement.PollInterval,
		}),
		Locker:  locker,
		Metrics: m,
	}, coordinator.Options{DefaultThreshold: cfg.Approvals.DefaultThreshold})
	if err != nil {
		return err
	}

	secret, err := jwtSecret(cfg.Auth)
	if err != nil {
		return err
	}
	jwtManager, err := auth.NewJWTManager(secret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	siwe := auth.SIWEConfig{
		Domain:   cfg.Auth.Domain,
		URI:      cfg.Auth.URI,
		ChainID:  cfg.Chain.ChainID,
		NonceTTL: cfg.Auth.NonceTTL,
	}
	if rdb != nil {
		// Any instance can verify a challenge another one issued.
		if siwe.Nonces, err = auth.NewRedisNonceStore(rdb, ""); err != nil {
			return err
		}
	}
	authenticator := auth.NewSIWEAuthenticator(store, siwe)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, 0)
	required := connect.WithInterceptors(middleware.RequireAuth(jwtManager), middleware.LoggingInterceptor(), limiter.Interceptor())
	optional := connect.WithInterceptors(middleware.OptionalAuth(jwtManager), middleware.LoggingInterceptor(), limiter.Interceptor())

	mux := http.NewServeMux()
	mux.Handle(apiconnect.NewSplitServiceHandler(service.NewSplitService(coord, tokenRegistry), required))
	mux.Handle(apiconnect.NewTokenServiceHandler(service.NewTokenService(tokenRegistry, tracker), optional))
	mux.Handle(apiconnect.NewAuthServiceHandler(service.NewAuthService(authenticator, jwtManager, store, slog.Default()), optional))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if client.State() == gobreaker.StateOpen {
			http.Error(w, "chain unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	// Wrap with h2c for HTTP/2 without TLS (required for Connect)
	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           h2c.NewHandler(loggingMiddleware(corsMiddleware(mux)), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Connect server starting",
			"address", cfg.Server.ListenAddr,
			"chain_mode", cfg.Chain.Mode,
			"chain_id", cfg.Chain.ChainID,
			"storage", cfg.Storage.Driver,
			"lock", cfg.Lock.Backend,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		store, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres storage: %w", err)
		}
		slog.Info("Storage initialized", "driver", cfg.Driver)
		return store, nil
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sqlite storage: %w", err)
		}
		slog.Info("Storage initialized", "driver", cfg.Driver, "database", cfg.Path)
		return store, nil
	}
}

func openChain(ctx context.Context, cfg config.ChainConfig, contract common.Address) (chain.Client, func(), error) {
	if cfg.Mode == config.ChainModeMock {
		slog.Warn("Using the in-memory mock chain; settlements are not real")
		return mock.NewChain(cfg.ChainID, contract), func() {}, nil
	}

	key, err := ethereum.ParseOperatorKey(cfg.OperatorKey)
	if err != nil {
		return nil, nil, err
	}
	client, err := ethereum.Dial(ctx, ethereum.Config{
		RPCURL:             cfg.RPCURL,
		SettlementContract: contract,
		OperatorKey:        key,
		CallTimeout:        cfg.CallTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	if client.ChainID() != cfg.ChainID {
		client.Close()
		return nil, nil, fmt.Errorf("node at %s is on chain %d, config expects %d", cfg.RPCURL, client.ChainID(), cfg.ChainID)
	}
	return client, client.Close, nil
}

// openLocker returns the split locker and, for the redis backend, the client
// it uses so other shared state can live next to the locks.
func openLocker(ctx context.Context, cfg config.LockConfig) (lock.Locker, *redis.Client, error) {
	if cfg.Backend != config.LockRedis {
		return lock.NewKeyedMutex(), nil, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
	}
	opts := lock.DefaultRedisOptions()
	if cfg.Prefix != "" {
		opts.Prefix = cfg.Prefix
	}
	if cfg.Expiry > 0 {
		opts.Expiry = cfg.Expiry
	}
	locker, err := lock.NewRedisLocker(rdb, opts)
	if err != nil {
		rdb.Close()
		return nil, nil, err
	}
	slog.Info("Using redis split locks and sign-in nonces", "addr", cfg.RedisAddr)
	return locker, rdb, nil
}

// jwtSecret returns the configured secret. Config validation requires one
// in rpc mode; otherwise an unset secret is replaced by a per-process random
// one, so sessions do not survive restarts.
func jwtSecret(cfg config.AuthConfig) (string, error) {
	if cfg.JWTSecret != "" {
		return cfg.JWTSecret, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate jwt secret: %w", err)
	}
	slog.Warn("auth.jwtSecret is not set; using an ephemeral secret")
	return hex.EncodeToString(buf), nil
}

// loggingMiddleware logs all incoming requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("Request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// corsMiddleware adds CORS headers for browser access
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Connect-Protocol-Version, Connect-Timeout-Ms")
		w.Header().Set("Access-Control-Expose-Headers", "Connect-Protocol-Version, Connect-Timeout-Ms")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
