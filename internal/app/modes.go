package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/limitorder/internal/crypto"
	"github.com/alanyoungcy/limitorder/internal/domain"
	"github.com/alanyoungcy/limitorder/internal/platform/exchange"
	"github.com/alanyoungcy/limitorder/internal/server"
	"github.com/alanyoungcy/limitorder/internal/server/handler"
	"github.com/alanyoungcy/limitorder/internal/server/ws"
	"github.com/alanyoungcy/limitorder/internal/service"
)

// statusTimeout bounds how long one pushed status update may take to apply.
const statusTimeout = 10 * time.Second

// ServerMode serves the HTTP and WebSocket API and keeps wallet sessions and
// order states current in the background.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("server mode: load key: %w", err)
	}
	signer, err := crypto.NewSigner(key, a.cfg.Exchange.ChainID, common.HexToAddress(a.cfg.Exchange.VerifyingContract))
	if err != nil {
		return fmt.Errorf("server mode: signer: %w", err)
	}
	a.logger.InfoContext(ctx, "signer ready", slog.String("wallet", signer.Address().Hex()))

	g, ctx := errgroup.WithContext(ctx)

	native, ok := deps.Tokens.Native()
	if !ok {
		return errors.New("server mode: token registry has no native token")
	}
	rates := service.NewRates(deps.Exchange, deps.RateCache, a.cfg.Refresh.RateTTL.Duration, a.logger)

	orders := a.orderService(deps)
	coord := service.NewCoordinator(deps.Exchange, signer, deps.Sessions, orders, service.CoordinatorConfig{
		Limits:             deps.Limits,
		GasTier:            domain.GasTier(a.cfg.Gas.Tier),
		WrapGasLimit:       a.cfg.Gas.WrapGasLimit,
		LockTTL:            a.cfg.Submission.LockTTL.Duration,
		SubmitsPerMinute:   a.cfg.Submission.PerMinute,
		PromotionalWallets: a.cfg.PromotionalWallets(),
	}, a.logger).
		WithLocks(deps.LockManager).
		WithLimiter(deps.RateLimiter).
		WithRates(rates, native).
		WithMetrics(deps.Metrics)

	forms := service.NewForms(deps.Tokens, deps.Sessions, rates, deps.Exchange, deps.Limits, a.logger)

	wallets := append(a.cfg.WatchedWallets(), signer.Address())
	a.startBackground(ctx, g, deps, orders, wallets)

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: a.startedAt,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	checks := map[string]handler.CheckFunc{
		"postgres": deps.Postgres.Ping,
		"redis":    deps.Redis.Ping,
	}
	srv := server.NewServer(server.Config{
		Port:              a.cfg.Server.Port,
		CORSOrigins:       a.cfg.Server.CORSOrigins,
		APIKey:            a.cfg.Server.APIKey,
		ReadTimeout:       a.cfg.Server.ReadTimeout.Duration,
		WriteTimeout:      a.cfg.Server.WriteTimeout.Duration,
		RequestsPerMinute: a.cfg.Server.RequestsPerMinute,
	}, server.Handlers{
		Health:      handler.NewHealthHandler(checks, a.logger),
		Forms:       handler.NewFormHandler(forms, a.logger),
		Submissions: handler.NewSubmissionHandler(coord, a.logger),
		Orders:      handler.NewOrderHandler(orders, a.logger),
		Metrics:     deps.Metrics.Handler(),
	}, server.Options{
		Hub:      hub,
		Limiter:  deps.RateLimiter,
		Observer: deps.Metrics,
	}, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// WatchMode keeps sessions and order states current for the configured
// wallets without serving the API. Operators get notified of order events.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode")

	wallets := a.cfg.WatchedWallets()
	if len(wallets) == 0 {
		return errors.New("watch mode: refresh.wallets lists no valid wallet")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startBackground(ctx, g, deps, a.orderService(deps), wallets)

	if err := deps.Notifier.NotifyAll(ctx, "Watch started",
		fmt.Sprintf("Following %d wallet(s)", len(wallets))); err != nil {
		a.logger.WarnContext(ctx, "watch mode: startup notification failed", slog.String("error", err.Error()))
	}

	return g.Wait()
}

// ArchiveMode moves terminal orders older than the retention window to
// object storage once and returns.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	a.logger.InfoContext(ctx, "starting archive mode", slog.Time("before", cutoff))

	n, err := deps.Archiver.ArchiveOrders(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	a.logger.InfoContext(ctx, "archive complete", slog.Int64("orders", n))
	return nil
}

func (a *App) orderService(deps *Dependencies) *service.OrderService {
	return service.NewOrderService(
		deps.OrderStore, deps.Exchange, deps.Sessions, deps.SignalBus, deps.AuditStore, deps.Notifier, a.logger,
	).WithMetrics(deps.Metrics)
}

// startBackground runs the session refresher and the order status stream
// for wallets on g.
func (a *App) startBackground(ctx context.Context, g *errgroup.Group, deps *Dependencies, orders *service.OrderService, wallets []common.Address) {
	refresher := service.NewRefresher(deps.Exchange, deps.Sessions, a.cfg.Refresh.Interval.Duration, a.logger)
	stream := exchange.NewStream(a.cfg.Exchange.WSURL, a.logger)
	for _, w := range wallets {
		refresher.Watch(w)
		if err := stream.Watch(w); err != nil {
			a.logger.WarnContext(ctx, "status stream: watch failed",
				slog.String("wallet", w.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}

	stream.OnStatus(func(u exchange.StatusUpdate) {
		applyCtx, cancel := context.WithTimeout(ctx, statusTimeout)
		defer cancel()
		err := orders.ApplyStatus(applyCtx, u.OrderID, u.State, u.Reason, u.At)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrNotFound):
			a.logger.DebugContext(ctx, "status stream: update for unknown order", slog.String("order_id", u.OrderID))
		default:
			a.logger.WarnContext(ctx, "status stream: apply failed",
				slog.String("order_id", u.OrderID),
				slog.String("state", string(u.State)),
				slog.String("error", err.Error()),
			)
		}
	})

	g.Go(func() error {
		return refresher.Run(ctx)
	})
	g.Go(func() error {
		return stream.Run(ctx)
	})
}
