package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/copybot/internal/config"
	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/engine"
	"github.com/alanyoungcy/copybot/internal/server"
	"github.com/alanyoungcy/copybot/internal/server/handler"
	"github.com/alanyoungcy/copybot/internal/service"
)

// statusRows is how many history and copy-trade rows StatusMode prints.
const statusRows = 20

// PaperMode mirrors the tracked trader into the simulated ledger. The price
// stream, the engine and the ledger archiver run until ctx is cancelled.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode",
		slog.String("trader", a.cfg.Tracking.TraderAddress),
		slog.String("store", a.cfg.Paper.Store),
	)

	if deps.Archiver != nil && a.cfg.S3.RestoreOnStart {
		restored, err := deps.Archiver.RestoreLatest(ctx)
		if err != nil {
			return fmt.Errorf("app: restore ledger: %w", err)
		}
		if restored {
			a.logger.InfoContext(ctx, "paper ledger restored from archive")
		}
	}

	ledger, err := service.NewPaperLedger(ctx, deps.Ledger, service.PaperConfig{
		StartingBalance:  a.cfg.Paper.StartingBalance,
		HistoryLimit:     a.cfg.Paper.HistoryLimit,
		CapPerInstrument: a.cfg.Paper.CapPerInstrument,
		MaxPerInstrument: a.cfg.Risk.MaxPerInstrument,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("app: paper ledger: %w", err)
	}

	settlement := service.NewSettlementMonitor(ledger, deps.Books, deps.Gamma, service.SettlementConfig{
		Cooldown:      a.cfg.Settlement.Cooldown.Duration,
		WinThreshold:  a.cfg.Settlement.WinThreshold,
		LossThreshold: a.cfg.Settlement.LossThreshold,
		InvertEnabled: a.cfg.Settlement.InvertEnabled,
		SumTolerance:  a.cfg.Settlement.SumTolerance,
		MinDifference: a.cfg.Settlement.MinDifference,
	}, a.logger)

	eng, err := engine.New(a.engineConfig(engine.ModePaper), engine.Deps{
		Trades:     deps.Trades,
		Sizer:      a.newSizer(deps),
		Risk:       service.NewRiskService(ledger, riskLimits(a.cfg), a.logger),
		Paper:      ledger,
		Settlement: settlement,
		Stream:     deps.Stream,
		Ticks:      deps.Stream.Ticks(),
		Prices:     deps.Books,
		CopyTrades: deps.CopyTrades,
		Audit:      deps.Audit,
		Notifier:   deps.Dispatch,
		Logger:     a.logger,
	})
	if err != nil {
		return fmt.Errorf("app: engine: %w", err)
	}
	if err := eng.Warm(ctx); err != nil {
		return fmt.Errorf("app: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return deps.Stream.Run(ctx)
	})
	g.Go(func() error {
		return eng.Run(ctx)
	})
	g.Go(func() error {
		return deps.Dispatch.Run(ctx)
	})
	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx, a.cfg.S3.ArchiveInterval.Duration)
		})
	}
	a.serve(ctx, g, deps, handler.StatusDeps{
		Positions:  ledger,
		Ledger:     ledger,
		CopyTrades: deps.CopyTrades,
		Audit:      deps.Audit,
	})
	return g.Wait()
}

// LiveMode mirrors the tracked trader with real orders. A distributed lock
// keeps a second process from copying the same trader into the same wallet.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode",
		slog.String("trader", a.cfg.Tracking.TraderAddress),
		slog.String("wallet", deps.Wallet),
		slog.Bool("stoploss", a.cfg.StopLoss.Enabled),
	)

	if deps.Locks != nil {
		key := "trader:" + strings.ToLower(a.cfg.Tracking.TraderAddress) + ":" + deps.Wallet
		unlock, err := deps.Locks.Acquire(ctx, key, a.cfg.Redis.LockTTL.Duration)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return fmt.Errorf("app: another live session holds %s: %w", key, err)
			}
			return fmt.Errorf("app: acquire session lock: %w", err)
		}
		defer unlock()
	}

	venue := service.NewVenuePositionSource(deps.Data, deps.Wallet)
	d := engine.Deps{
		Trades:     deps.Trades,
		Sizer:      a.newSizer(deps),
		Risk:       service.NewRiskService(venue, riskLimits(a.cfg), a.logger),
		Executor:   deps.Executor,
		Stream:     deps.Stream,
		Ticks:      deps.Stream.Ticks(),
		Prices:     deps.Books,
		CopyTrades: deps.CopyTrades,
		Audit:      deps.Audit,
		Notifier:   deps.Dispatch,
		Logger:     a.logger,
	}
	if a.cfg.StopLoss.Enabled {
		d.StopLoss = service.NewStopLossMonitor(service.StopLossConfig{
			StopPct: a.cfg.StopLoss.StopPct,
			MinHold: a.cfg.StopLoss.MinHold.Duration,
			Markets: a.cfg.StopLoss.Markets,
		}, deps.Stream, deps.Executor, deps.Data, deps.Wallet, a.logger)
	}

	eng, err := engine.New(a.engineConfig(engine.ModeLive), d)
	if err != nil {
		return fmt.Errorf("app: engine: %w", err)
	}
	if err := eng.Warm(ctx); err != nil {
		return fmt.Errorf("app: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return deps.Stream.Run(ctx)
	})
	g.Go(func() error {
		return eng.Run(ctx)
	})
	g.Go(func() error {
		return deps.Dispatch.Run(ctx)
	})
	a.serve(ctx, g, deps, handler.StatusDeps{
		Positions:  venue,
		CopyTrades: deps.CopyTrades,
		Audit:      deps.Audit,
	})
	return g.Wait()
}

// serve starts the websocket hub and the monitoring API when enabled.
func (a *App) serve(ctx context.Context, g *errgroup.Group, deps *Dependencies, sd handler.StatusDeps) {
	if deps.Hub == nil {
		return
	}
	status := handler.NewStatusHandler(handler.StatusInfo{
		Mode:   strings.ToLower(a.cfg.Mode),
		Trader: strings.ToLower(a.cfg.Tracking.TraderAddress),
		Wallet: deps.Wallet,
	}, sd, a.logger)
	srv := server.NewServer(server.Config{
		Addr:              a.cfg.Server.Addr,
		CORSOrigins:       a.cfg.Server.CORSOrigins,
		APIKey:            a.cfg.Server.APIKey,
		RequestsPerSecond: a.cfg.Server.RequestsPerSecond,
		Burst:             a.cfg.Server.Burst,
	}, server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks, a.logger),
		Status: status,
	}, deps.Hub, a.logger)

	g.Go(func() error {
		return deps.Hub.Run(ctx)
	})
	if hubFollowsBus(a.cfg, deps) {
		g.Go(func() error {
			return deps.Hub.Follow(ctx, deps.Bus, a.cfg.Notify.BusChannel)
		})
	}
	g.Go(func() error {
		return srv.Run(ctx)
	})
}

// StatusMode prints the paper ledger and the most recent copy trades, then
// returns.
func (a *App) StatusMode(ctx context.Context, deps *Dependencies) error {
	state, err := deps.Ledger.Load(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.logger.InfoContext(ctx, "no paper ledger saved yet")
	case err != nil:
		return fmt.Errorf("app: load ledger: %w", err)
	default:
		deps.Console.RenderLedger(state, statusRows)
	}

	trades, err := deps.CopyTrades.ListRecent(ctx, statusRows)
	if err != nil {
		return fmt.Errorf("app: list copy trades: %w", err)
	}
	deps.Console.RenderCopyTrades(trades)
	return nil
}

func (a *App) engineConfig(mode engine.Mode) engine.Config {
	return engine.Config{
		Mode:               mode,
		Trader:             strings.ToLower(a.cfg.Tracking.TraderAddress),
		PollInterval:       a.cfg.Tracking.PollInterval.Duration,
		Lookback:           a.cfg.Tracking.Lookback.Duration,
		BatchLimit:         a.cfg.Tracking.BatchLimit,
		DedupTTL:           a.cfg.Tracking.DedupTTL.Duration,
		SettlementInterval: a.cfg.Settlement.Interval.Duration,
		ReconcileInterval:  a.cfg.StopLoss.ReconcileInterval.Duration,
	}
}

func (a *App) newSizer(deps *Dependencies) *service.Sizer {
	s := a.cfg.Sizing
	return service.NewSizer(service.SizingConfig{
		BaseNotional:      s.BaseNotional,
		MinOrderNotional:  s.MinOrderNotional,
		MaxOrderNotional:  s.MaxOrderNotional,
		PerInstrumentCap:  a.cfg.Risk.MaxPerInstrument,
		HighConfMin:       s.HighConfMin,
		HighConfMax:       s.HighConfMax,
		HighConfNotional:  s.HighConfNotional,
		OptimalMin:        s.OptimalMin,
		OptimalMax:        s.OptimalMax,
		OptimalMultiplier: s.OptimalMultiplier,
		HalveFirstFill:    s.HalveFirstFill,
	}, strings.ToLower(a.cfg.Tracking.TraderAddress), deps.Data, a.logger)
}

func riskLimits(cfg *config.Config) domain.RiskLimits {
	return domain.RiskLimits{
		MaxPositions:     cfg.Risk.MaxPositions,
		MaxExposure:      cfg.Risk.MaxExposure,
		MaxPerInstrument: cfg.Risk.MaxPerInstrument,
	}
}
