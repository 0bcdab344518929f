package server

import (
	"context"
	"errors"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/savage-app/savage/config"
	"github.com/savage-app/savage/internal/db"
	"github.com/savage-app/savage/internal/mq"
	"github.com/savage-app/savage/internal/search"
	"github.com/savage-app/savage/internal/services"
	"github.com/savage-app/savage/internal/storage"
	"github.com/savage-app/savage/internal/store"
	"github.com/savage-app/savage/pkg/logger"
)

func newUsernameSyncService(ctx context.Context, cfg config.Config, users services.UserRepository) (*services.UsernameSyncService, error) {
	log := logger.With("search_sync")

	objects, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	index, err := search.Open(cfg.Search, objects, log)
	if err != nil {
		return nil, err
	}
	log.Info().Str("index", index.Name()).Str("backend", cfg.Search.Backend).Msg("username index ready")
	return services.NewUsernameSyncService(users, index, cfg.Search.SyncMinInterval, log), nil
}

// Worker keeps the username search index in sync outside the web process.
type Worker struct {
	cfg  config.Config
	db   *sqlx.DB
	bus  *mq.MQ
	sync *services.UsernameSyncService
	log  zerolog.Logger
}

func NewWorker(ctx context.Context, cfg config.Config) (*Worker, error) {
	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	syncService, err := newUsernameSyncService(ctx, cfg, store.NewUserRepository(dbConn))
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	bus, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	return &Worker{
		cfg:  cfg,
		db:   dbConn,
		bus:  bus,
		sync: syncService,
		log:  logger.With("worker"),
	}, nil
}

// Once runs a single full sync.
func (w *Worker) Once(ctx context.Context) (int, error) {
	return w.sync.Sync(ctx)
}

// Run consumes sync requests from the broker and syncs on the configured
// interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		runErr  error
	)
	fail := func(err error) {
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, mq.ErrClosed) {
			return
		}
		errOnce.Do(func() { runErr = err })
		cancel()
	}

	if w.bus.InProcess() {
		w.log.Warn().Msg("local message bus only reaches this process; relying on the sync interval")
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fail(w.sync.Subscribe(ctx, w.bus, w.cfg.Search.SyncChannel))
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := w.sync.Run(ctx, w.cfg.Search.SyncInterval)
		if err == nil && w.bus.InProcess() {
			// Nothing left to do without a broker or an interval.
			cancel()
		}
		fail(err)
	}()

	wg.Wait()
	return runErr
}

// Close releases the broker and database.
func (w *Worker) Close() error {
	err := w.bus.Close()
	if cerr := w.db.Close(); err == nil {
		err = cerr
	}
	return err
}
