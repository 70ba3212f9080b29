package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/backup-gateway/internal/api"
	"github.com/Chapsvision-dev/backup-gateway/internal/auth"
	"github.com/Chapsvision-dev/backup-gateway/internal/backup"
	"github.com/Chapsvision-dev/backup-gateway/internal/config"
	"github.com/Chapsvision-dev/backup-gateway/internal/destination"
	"github.com/Chapsvision-dev/backup-gateway/internal/logx"
	"github.com/Chapsvision-dev/backup-gateway/internal/metrics"
	"github.com/Chapsvision-dev/backup-gateway/internal/store"
	"github.com/Chapsvision-dev/backup-gateway/internal/store/memory"
	"github.com/Chapsvision-dev/backup-gateway/internal/store/postgres"
	"github.com/Chapsvision-dev/backup-gateway/internal/version"

	_ "github.com/Chapsvision-dev/backup-gateway/internal/destination/api"
	_ "github.com/Chapsvision-dev/backup-gateway/internal/destination/azure"
	_ "github.com/Chapsvision-dev/backup-gateway/internal/destination/local"
	_ "github.com/Chapsvision-dev/backup-gateway/internal/destination/s3"
	_ "github.com/Chapsvision-dev/backup-gateway/internal/destination/sftp"
)

// Test seams, overridden in unit tests. Keep signatures in sync with packages.
var (
	loadConfig    func() (config.Config, error)                             = config.Load
	openStore     func(context.Context, config.Config) (store.Store, error) = defaultOpenStore
	runMigrations func(databaseURL string) error                            = store.RunMigrations
	runServer     func(ctx context.Context, srv *http.Server) error         = defaultRunServer
	exit          func(int)                                                 = os.Exit
)

const shutdownTimeout = 30 * time.Second

const usage = `
Usage:
  backupd serve
  backupd migrate
  backupd register-origin <name>
  backupd version | --version | -v
  backupd help    | --help    | -h

Notes:
  - Configuration comes from env vars (a .env file is loaded if present).
  - SIGNATURE_KEY is required. STORE_DRIVER selects postgres (default) or memory.
  - register-origin prints the origin's API key once; it cannot be read back.
`

// main wires CLI -> config -> store -> HTTP server.
// Exit codes: 0 success, 1 runtime error, 2 usage error.
func main() {
	_ = godotenv.Load() // best-effort
	logx.InitFromEnv()

	args := os.Args[1:]
	if len(args) < 1 {
		fmt.Print(usage)
		exit(2)
	}
	action := strings.ToLower(args[0])

	if action == "version" || action == "--version" || action == "-v" {
		fmt.Printf("backupd %s\n", version.Info())
		exit(0)
	}

	if action == "help" || action == "--help" || action == "-h" {
		fmt.Print(usage)
		exit(0)
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Error().Err(err).Msg("config error")
		exit(1)
	}
	logx.Init(cfg.LogLevel, cfg.LogFormat)

	ctx := withSignals(context.Background())

	switch action {
	case "serve":
		if err := serve(ctx, cfg); err != nil {
			log.Error().Err(err).Str("action", "serve").Msg("server failed")
			exit(1)
		}

	case "migrate":
		if cfg.StoreDriver != config.StorePostgres {
			log.Error().Str("driver", cfg.StoreDriver).Msg("migrate requires the postgres store")
			exit(1)
		}
		start := time.Now()
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			log.Error().Err(err).Str("action", "migrate").Msg("migrations failed")
			exit(1)
		}
		log.Info().Str("action", "migrate").Dur("elapsed_ms", time.Since(start)).Msg("migrations OK")

	case "register-origin":
		if len(args) < 2 || strings.TrimSpace(args[1]) == "" {
			fmt.Print(usage)
			exit(2)
		}
		st, err := openStore(ctx, cfg)
		if err != nil {
			log.Error().Err(err).Str("driver", cfg.StoreDriver).Msg("store init error")
			exit(1)
		}
		defer st.Close()
		o, err := backup.NewCatalog(st).RegisterOrigin(ctx, args[1])
		if err != nil {
			log.Error().Err(err).Str("action", "register_origin").Str("origin", args[1]).Msg("registration failed")
			exit(1)
		}
		fmt.Printf("origin: %s\nid:     %s\napikey: %s\n", o.Name, o.ID, o.APIKey)

	default:
		fmt.Print(usage)
		exit(2)
	}
}

// serve runs the HTTP API until ctx is cancelled.
func serve(ctx context.Context, cfg config.Config) error {
	if cfg.StoreDriver == config.StorePostgres && cfg.MigrateOnStart {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	authn, err := auth.New(cfg.Signing, st)
	if err != nil {
		return err
	}
	orch := backup.New(st, destination.OptionsFromConfig(cfg),
		backup.WithTimestampFormat(cfg.BackupTimestampFormat))

	srv := api.NewServer(log.Logger, st, authn, orch).HTTPServer(cfg.HTTPListenAddr)

	log.Info().
		Str("action", "serve").
		Str("addr", cfg.HTTPListenAddr).
		Str("store", cfg.StoreDriver).
		Strs("destination_types", destinationTypes()).
		Str("version", version.Version).
		Msg("backup gateway listening")
	return runServer(ctx, srv)
}

func destinationTypes() []string {
	reg := destination.Registered()
	out := make([]string, 0, len(reg))
	for _, t := range reg {
		out = append(out, string(t))
	}
	return out
}

func defaultOpenStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.StoreDriver == config.StoreMemory {
		log.Warn().Str("driver", cfg.StoreDriver).Msg("records are kept in memory and lost on exit")
		return memory.New(), nil
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	metrics.RegisterPgxPoolMetrics(prometheus.DefaultRegisterer, pool)
	return postgres.New(pool), nil
}

// defaultRunServer serves until ctx is done, then drains in-flight
// transfers for at most shutdownTimeout.
func defaultRunServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Str("action", "shutdown").Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func withSignals(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		cancel()
	}()
	return ctx
}
