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

	"github.com/urfave/cli"

	"triarb/internal/api/rest"
	"triarb/internal/arbitrage"
	"triarb/internal/config"
	"triarb/internal/exchange/bybit"
	"triarb/internal/exchange/common"
	"triarb/internal/exchange/paper"
	"triarb/internal/exchange/throttle"
	"triarb/internal/graph"
	"triarb/internal/infra/health"
	"triarb/internal/infra/log"
	"triarb/internal/infra/metrics"
	"triarb/internal/infra/netutil"
	"triarb/internal/infra/network"
	"triarb/internal/infra/runner"
	"triarb/internal/infra/vault"
	"triarb/internal/infra/version"
	"triarb/internal/orderexec"
	"triarb/internal/pnl"
	"triarb/internal/tradelog"
)

func main() {
	app := cli.NewApp()
	app.Name = "triarb"
	app.Usage = "triangular arbitrage on a single exchange"
	app.Version = version.String()
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "path to the YAML config",
			EnvVar: "TRIARB_CONFIG",
		},
		cli.StringFlag{
			Name:  "env-file",
			Usage: "dotenv file holding BYBIT_API_KEY and BYBIT_SECRET",
			Value: ".env",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "build-cycles",
			Usage:  "list spot markets and write every triangular cycle to the cycle store",
			Action: buildCycles,
		},
		{
			Name:  "run",
			Usage: "evaluate the stored cycles continuously and trade profitable ones",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "dry-run, d", Usage: "settle orders on the paper exchange"},
			},
			Action: run,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(c *cli.Context) (config.Config, log.Logger, error) {
	var (
		cfg config.Config
		err error
	)
	if path := c.GlobalString("config"); path != "" {
		if cfg, err = config.LoadFile(path); err != nil {
			return cfg, log.Nop(), err
		}
	} else {
		cfg = config.Load()
		if err = cfg.Validate(); err != nil {
			return cfg, log.Nop(), err
		}
	}
	if c.Bool("dry-run") {
		cfg.Trading.Live = false
	}
	logger := log.NewLogger(cfg)

	store, err := vault.NewEnvStore(c.GlobalString("env-file"))
	if err != nil {
		return cfg, logger, err
	}
	if cfg.Exchange.APIKey == "" {
		key, secret, err := vault.Credentials(store, "BYBIT")
		switch {
		case err == nil:
			cfg.Exchange.APIKey, cfg.Exchange.Secret = key, secret
		case cfg.Trading.Live:
			return cfg, logger, fmt.Errorf("live trading needs exchange credentials: %w", err)
		default:
			logger.Warn().Err(err).Msg("no exchange credentials, public endpoints only")
		}
	}
	return cfg, logger, nil
}

func newClient(cfg config.Config, logger log.Logger) common.Client {
	httpc := network.NewHTTPClient(time.Duration(cfg.Exchange.TimeoutSeconds) * time.Second)
	rps := cfg.Trading.RequestsPerSecond
	return exchangeStack(cfg.Trading, bybit.New(cfg, httpc, logger), network.NewTokenBucket(rps, float64(rps)), cfg.Exchange.Retries, logger)
}

// exchangeStack puts the exchange behind the shared limiter. In dry runs the
// paper exchange sits on the throttled feed, so the book and market lookups it
// makes while filling spend the same request budget.
func exchangeStack(t config.Trading, raw common.Client, limiter throttle.Limiter, retries int, logger log.Logger) common.Client {
	feed := throttle.New(raw, limiter, retries, logger)
	if t.Live {
		return feed
	}
	fee := t.DefaultTakerFee
	if t.TakerFeeOverride != nil {
		fee = *t.TakerFeeOverride
	}
	ex := paper.New(feed, t.DryRunBalances, fee, t.BookDepth, logger)
	return throttle.New(ex, throttle.NoLimit{}, 0, logger)
}

func buildCycles(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := newClient(cfg, logger)
	markets, err := client.ListMarkets(ctx)
	if err != nil {
		return fmt.Errorf("list markets: %w", err)
	}
	opts := graph.Options{ExcludedQuotes: cfg.Trading.ExcludedAssets}
	started := time.Now()
	cycles := graph.BuildCycles(markets, opts)
	if err := graph.SaveCycles(cfg.Trading.CyclesPath, cycles); err != nil {
		return err
	}
	logger.Info().Int("markets", len(markets)).Int("tradable", len(graph.Tradable(markets, opts))).
		Int("cycles", len(cycles)).Dur("took", time.Since(started)).Str("path", cfg.Trading.CyclesPath).
		Msg("cycle store written")
	return nil
}

func run(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metrics.Init(logger)
	adminCIDRs, err := netutil.ParseCIDRs(cfg.Server.AdminAllowCIDRs)
	if err != nil {
		return fmt.Errorf("server.admin_allow_cidrs: %w", err)
	}
	client := newClient(cfg, logger)
	// order sizing needs instrument precision; a cold cache falls back to per-symbol lookups
	if markets, err := client.ListMarkets(ctx); err != nil {
		logger.Warn().Err(err).Msg("instrument cache not warmed")
	} else {
		logger.Info().Int("markets", len(markets)).Msg("instrument cache warmed")
	}

	journal, err := tradelog.Open(cfg.Trading.LogPath)
	if err != nil {
		return err
	}
	defer journal.Close()

	guard := arbitrage.NewTradeGuard()
	tracker := pnl.NewTracker(200)
	eng := arbitrage.New(cfg.Trading, arbitrage.Deps{
		Exchange: client,
		Guard:    guard,
		Trader:   orderexec.NewSequencer(client, cfg.Trading.SettleDelay(), logger),
		Journal:  journal,
		Tracker:  tracker,
		Logger:   logger,
		OnReady:  health.MarkReady,
	})

	api := rest.New(rest.Deps{
		Engine:     eng,
		Guard:      guard,
		Tracker:    tracker,
		Registry:   registry,
		AdminCIDRs: adminCIDRs,
		Exchange:   client.Name(),
		Live:       cfg.Trading.Live,
		Pprof:      cfg.Server.Pprof,
		Logger:     logger,
	})
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
	}

	logger.Info().Str("version", version.Version).Str("exchange", client.Name()).Bool("live", cfg.Trading.Live).
		Str("addr", cfg.Server.Addr).Msg("triangular arbitrage started")

	g, gctx := runner.NewGroup(ctx)
	g.Go(gctx, eng.Run)
	g.Go(gctx, func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() { errCh <- server.ListenAndServe() }()
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("admin server: %w", err)
		case <-ctx.Done():
		}
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	health.SetReady(false)
	if err != nil {
		logger.Error().Err(err).Msg("worker error")
		return err
	}
	logger.Info().Int("trades", tracker.Trades()).Msg("shutdown complete")
	return nil
}
