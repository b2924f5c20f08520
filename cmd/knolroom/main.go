// Command knolroom serves the flashcard and group session API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/conorfennell/knolroom/internal/config"
	"github.com/conorfennell/knolroom/internal/domain"
	"github.com/conorfennell/knolroom/internal/logging"
	"github.com/conorfennell/knolroom/internal/migrate"
	"github.com/conorfennell/knolroom/internal/room"
	"github.com/conorfennell/knolroom/internal/service"
	"github.com/conorfennell/knolroom/internal/storage"
	"github.com/conorfennell/knolroom/internal/sync"
	"github.com/conorfennell/knolroom/internal/web"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("exiting", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// backends bundles the record stores of both room kinds with their cleanup.
type backends struct {
	cards    storage.Backend[domain.Flashcard]
	sessions storage.Backend[domain.Session]
	close    func()
}

func openBackends(ctx context.Context, cfg config.Storage, log *zap.Logger) (*backends, error) {
	switch cfg.Backend {
	case "file":
		cards, err := storage.NewFileBackend[domain.Flashcard](cfg.Dir, "flashcards", "cards")
		if err != nil {
			return nil, err
		}
		sessions, err := storage.NewFileBackend[domain.Session](cfg.Dir, "session", "sessions")
		if err != nil {
			return nil, err
		}
		return &backends{cards: cards, sessions: sessions, close: func() {}}, nil

	case "sqlite":
		db, err := storage.Open(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.DSN, err)
		}
		return &backends{
			cards:    storage.NewSQLiteBackend[domain.Flashcard](db, "flashcards"),
			sessions: storage.NewSQLiteBackend[domain.Session](db, "session"),
			close: func() {
				if err := db.Close(); err != nil {
					log.Warn("close sqlite", zap.Error(err))
				}
			},
		}, nil

	case "postgres":
		if err := migrate.Up(ctx, cfg.DSN); err != nil {
			return nil, fmt.Errorf("migrate up: %w", err)
		}
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("pgxpool: %w", err)
		}
		return &backends{
			cards:    storage.NewPostgresBackend[domain.Flashcard](pool, "flashcards"),
			sessions: storage.NewPostgresBackend[domain.Session](pool, "session"),
			close:    pool.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("backend", cfg.Storage.Backend),
	)

	b, err := openBackends(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer b.close()

	cardRooms := room.New[domain.Flashcard](b.cards,
		room.WithLogger(logger.Named("flashcard-rooms")),
		room.WithIOTimeout(cfg.Storage.IOTimeout),
	)
	sessionRooms := room.New[domain.Session](b.sessions,
		room.WithLogger(logger.Named("session-rooms")),
		room.WithIOTimeout(cfg.Storage.IOTimeout),
	)

	cards := service.NewFlashcardService(cardRooms, cfg.Schedule.Params(), logger.Named("flashcards"))
	sessions := service.NewSessionService(sessionRooms, logger.Named("sessions"))
	importer := sync.NewImporter(cards, cfg.Import.ReposDir, cfg.Import.LocalRoot, logger.Named("import"))

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           web.NewServer(cards, sessions, importer, logger.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTP.Addr))
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	// Requests are drained; let any commit still in a critical section finish.
	for name, reg := range map[string]interface{ Close(context.Context) error }{
		"flashcards": cardRooms,
		"sessions":   sessionRooms,
	} {
		if err := reg.Close(shutdownCtx); err != nil {
			logger.Warn("close rooms", zap.String("kind", name), zap.Error(err))
		}
	}
	return serveErr
}
