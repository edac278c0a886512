package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ludoforge/ludo-server-go/internal/config"
	"github.com/ludoforge/ludo-server-go/internal/matchmaking"
	"github.com/ludoforge/ludo-server-go/internal/reconnect"
	"github.com/ludoforge/ludo-server-go/internal/repository"
	"github.com/ludoforge/ludo-server-go/internal/room"
	"github.com/ludoforge/ludo-server-go/internal/server"
	"github.com/ludoforge/ludo-server-go/internal/transport/ws"
	"github.com/ludoforge/ludo-server-go/internal/wallet"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	version    = "dev" // set via ldflags during build
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting ludo server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	// Create context that listens for termination signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	gameTypes := buildGameTypes(cfg.GameTypes)
	if len(gameTypes) == 0 {
		logger.Warn("no game types configured; rooms can only be created directly")
	}

	// Initialize the WebSocket hub before the registry so every room event
	// has a broadcaster from the first command on.
	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	var roomOpts []room.Option

	// Initialize persistence. The database is optional: without it match
	// results live only in memory.
	if cfg.Database.Enabled {
		db, dbErr := repository.NewDB(ctx, cfg.Database, logger)
		if dbErr != nil {
			logger.Fatal("failed to connect to database", zap.Error(dbErr))
		}
		defer db.Close()

		if schemaErr := db.EnsureSchema(ctx); schemaErr != nil {
			logger.Fatal("failed to ensure database schema", zap.Error(schemaErr))
		}

		stats := db.Stats()
		logger.Info("database connection pool initialized",
			zap.Int32("total_conns", stats.TotalConns()),
			zap.Int32("idle_conns", stats.IdleConns()),
		)
		roomOpts = append(roomOpts, room.WithStore(repository.NewMatchRepository(db)))
	}

	// Initialize the wallet ledger for entry fees and payouts
	ledger := wallet.NewLedger(logger)
	roomOpts = append(roomOpts, room.WithLedger(ledger))

	// Initialize room registry
	registry := room.NewRegistry(hub, logger, roomOpts...)
	go registry.Janitor(ctx, cfg.Rooms.JanitorInterval, cfg.Rooms.Retention)
	logger.Info("room registry initialized",
		zap.Duration("janitor_interval", cfg.Rooms.JanitorInterval),
		zap.Duration("retention", cfg.Rooms.Retention),
	)

	// Initialize matchmaking queue
	queue := matchmaking.NewQueue(matchmaking.Config{
		Interval:  cfg.Matchmaking.Interval,
		MinWait:   cfg.Matchmaking.MinWait,
		GameTypes: gameTypes,
	}, registry, logger)
	go queue.Run(ctx)
	logger.Info("matchmaking queue initialized",
		zap.Duration("interval", cfg.Matchmaking.Interval),
		zap.Duration("min_wait", cfg.Matchmaking.MinWait),
	)

	// Initialize reconnection tracking
	reconnects := reconnect.NewManager(cfg.Reconnect.Window, registry, logger)
	go reconnects.Run(ctx, cfg.Reconnect.SweepInterval)
	logger.Info("reconnect manager initialized",
		zap.Duration("window", cfg.Reconnect.Window),
	)

	gateway := ws.NewGateway(hub, registry, reconnects, logger)
	api := server.NewServer(registry, queue, gameTypes, gateway, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", zap.String("address", cfg.Server.Address))
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Error("HTTP server error", zap.Error(serveErr))
		}
	}()

	logger.Info("ludo server initialized",
		zap.String("version", version),
		zap.String("address", cfg.Server.Address),
		zap.Int("game_types", len(gameTypes)),
	)

	// Wait for termination signal
	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	logger.Info("shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	registry.CloseAll()

	logger.Info("ludo server stopped")
}

// buildGameTypes converts configured game types into room configurations.
func buildGameTypes(types []config.GameTypeConfig) map[string]room.GameConfig {
	out := make(map[string]room.GameConfig, len(types))
	for _, gt := range types {
		out[gt.ID] = room.GameConfig{
			GameTypeID:          gt.ID,
			Variant:             room.Variant(gt.Variant),
			MinPlayers:          gt.MinPlayers,
			MaxPlayers:          gt.MaxPlayers,
			TurnTime:            gt.TurnTime,
			StartCountdown:      gt.StartCountdown,
			MoveGrace:           gt.MoveGrace,
			Lives:               gt.Lives,
			BonusSix:            gt.BonusSix,
			MaxConsecutiveSixes: gt.MaxConsecutiveSixes,
			QuickDuration:       gt.QuickDuration,
			QuickTargetScore:    gt.QuickTargetScore,
			EntryFee:            gt.EntryFee,
			PrizeTable:          gt.PrizeTable,
		}
	}
	return out
}

// initLogger initializes the zap logger based on configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
