package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	DecisionLatencyMs    = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "decision_latency_ms", Help: "Snapshot to decision latency per cycle", Buckets: prometheus.ExponentialBuckets(1, 2, 14)})
	OrderSubmitLatencyMs = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "order_submit_latency_ms", Help: "Order submit latency", Buckets: prometheus.LinearBuckets(1, 10, 20)})
	RateLimitWaitMs      = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "rate_limit_wait_ms", Help: "Time spent waiting for a rate limiter token", Buckets: prometheus.ExponentialBuckets(0.5, 2, 14)})

	CyclesLoaded          = prometheus.NewGauge(prometheus.GaugeOpts{Name: "cycles_loaded", Help: "Triangular cycles loaded from the cycle store"})
	CyclesEvaluatedTotal  = prometheus.NewCounter(prometheus.CounterOpts{Name: "cycles_evaluated_total", Help: "Total cycle evaluations"})
	CyclePanicsTotal      = prometheus.NewCounter(prometheus.CounterOpts{Name: "cycle_panics_total", Help: "Panics recovered at the cycle boundary"})
	RoundsTotal           = prometheus.NewCounter(prometheus.CounterOpts{Name: "rounds_total", Help: "Completed evaluation rounds"})
	SurfaceOppsTotal      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "surface_opportunities_total", Help: "Surface opportunities by rotation"}, []string{"rotation"})
	DepthOppsTotal        = prometheus.NewCounter(prometheus.CounterOpts{Name: "depth_opportunities_total", Help: "Opportunities still profitable after depth and fees"})
	SurfaceRatePct        = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "surface_rate_pct", Help: "Surface profit pct of reported opportunities", Buckets: prometheus.LinearBuckets(0, 0.1, 30)})
	RealRatePct           = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "real_rate_pct", Help: "Depth-adjusted profit pct of reported opportunities", Buckets: prometheus.LinearBuckets(0, 0.05, 40)})
	GuardRejectionsTotal  = prometheus.NewCounter(prometheus.CounterOpts{Name: "guard_rejections_total", Help: "Opportunities abandoned because a trade was in flight"})
	TradeInFlight         = prometheus.NewGauge(prometheus.GaugeOpts{Name: "trade_in_flight", Help: "1 while a trade sequence holds the guard"})
	TradesTotal           = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "trades_total", Help: "Trade sequences by outcome"}, []string{"outcome"})
	OrdersSubmittedTotal  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "orders_submitted_total", Help: "Market orders submitted by side"}, []string{"side"})
	APIErrorsTotal        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "api_errors_total", Help: "API errors by exchange and endpoint"}, []string{"exchange", "endpoint"})
	LastTradePnLPct       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "last_trade_pnl_pct", Help: "PnL pct of the most recent completed sequence"})
	RealizedPnLByAsset    = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "realized_pnl", Help: "Cumulative realized PnL per starting asset"}, []string{"asset"})
)

// Init registers every collector on a fresh registry.
func Init(logger zerolog.Logger) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	toRegister := []prometheus.Collector{
		DecisionLatencyMs, OrderSubmitLatencyMs, RateLimitWaitMs,
		CyclesLoaded, CyclesEvaluatedTotal, CyclePanicsTotal, RoundsTotal,
		SurfaceOppsTotal, DepthOppsTotal, SurfaceRatePct, RealRatePct,
		GuardRejectionsTotal, TradeInFlight, TradesTotal, OrdersSubmittedTotal,
		APIErrorsTotal, LastTradePnLPct, RealizedPnLByAsset,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range toRegister {
		if err := reg.Register(c); err != nil {
			logger.Warn().Err(err).Msg("metric registration failed")
		}
	}
	logger.Info().Int("collectors", len(toRegister)).Msg("Prometheus metrics initialized")
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
