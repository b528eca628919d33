package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"token-watch/internal/config"
	"token-watch/internal/dispatch"
	"token-watch/internal/engine"
	"token-watch/internal/evaluator"
	"token-watch/internal/fetcher"
	"token-watch/internal/scheduler"
	"token-watch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetcher() fetcher.ObservationFetcher {
	return fetcher.NewMarket(fetcher.MarketOptions{
		BaseURL:   a.Config.Market.BaseURL,
		Timeout:   a.Config.Market.RequestTimeout,
		UserAgent: a.Config.Market.UserAgent,
	}, a.Logger)
}

// newHub assembles the configured dispatch channels. The live hub is
// returned separately so the caller can mount its websocket handler.
func (a *App) newHub() (dispatch.Hub, *dispatch.LiveHub) {
	channels := make([]dispatch.Channel, 0, 2)

	var live *dispatch.LiveHub
	if a.Config.Dispatch.Live.Enabled {
		live = dispatch.NewLiveHub(a.Logger)
		channels = append(channels, live)
	}

	if a.Config.Dispatch.Telegram.Enabled {
		cfg := a.Config.Dispatch.Telegram
		channels = append(channels, dispatch.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}

	if len(channels) == 0 {
		return nil, nil
	}
	return dispatch.NewFanout(a.Logger, channels...), live
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool, a.Logger)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running evaluation service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is required to run the evaluation service")
	}
	defer closeStore()

	hub, live := a.newHub()
	if live != nil {
		a.serveLive(ctx, live)
	}

	eng := engine.New(engine.Options{
		BatchSize:         a.Config.Engine.BatchSize,
		RetentionDays:     a.Config.Engine.RetentionDays,
		CleanupEveryTicks: a.Config.Engine.CleanupEveryTicks,
		SuppressWindow:    a.Config.Engine.ErrorSuppressWindow,
		FetchTimeout:      a.Config.Market.RequestTimeout,
		ObservationBucket: a.Config.Scheduler.Interval,
		AdvisoryLockKey:   a.Config.Scheduler.AdvisoryLockKey,
		EvalDefaults: evaluator.Defaults{
			ConfirmationNeed:     a.Config.Engine.ConfirmationNeed,
			ConfirmationCooldown: a.Config.Engine.ConfirmationCooldown,
		},
	}, store, store, store, a.newFetcher(), hub, store, a.Logger)

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	a.Logger.Info().Msg("starting evaluation service")
	err = sched.Run(ctx, eng.Tick)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("evaluation service stopped")
	return nil
}

func (a *App) serveLive(ctx context.Context, live *dispatch.LiveHub) {
	mux := http.NewServeMux()
	mux.Handle("/ws", live.Handler())

	server := &http.Server{
		Addr:    a.Config.Dispatch.Live.ListenAddr,
		Handler: mux,
	}

	go func() {
		a.Logger.Info().Str("addr", server.Addr).Msg("live subscription listener started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("live subscription listener failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// PurgeOptions configure the on-demand retention sweep.
type PurgeOptions struct {
	Days int
}

// ExportOptions hold parameters for exporting observation history.
type ExportOptions struct {
	Subject   string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// SimulateOptions configure the synthetic evaluation run.
type SimulateOptions struct {
	PriceMovePct float64
	Ticks        int
}
