// Package rest serves the bot's admin HTTP surface.
package rest

import (
	"net"
	"net/http"
	"net/http/pprof"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"

	"triarb/internal/infra/health"
	"triarb/internal/infra/http/middleware"
	"triarb/internal/infra/log"
	"triarb/internal/infra/metrics"
	"triarb/internal/infra/version"
	"triarb/internal/pnl"
)

// Engine is the read-only view of the evaluation loop.
type Engine interface {
	Cycles() int
	TakerFee() float64
}

type Guard interface {
	InFlight() bool
}

type Deps struct {
	Engine     Engine
	Guard      Guard
	Tracker    *pnl.Tracker
	Registry   *prometheus.Registry
	AdminCIDRs []*net.IPNet
	Exchange   string
	Live       bool
	Pprof      bool
	Logger     log.Logger
}

type Server struct {
	router *mux.Router
	d      Deps
}

type status struct {
	Exchange    string             `json:"exchange"`
	Live        bool               `json:"live"`
	Cycles      int                `json:"cycles"`
	TakerFee    float64            `json:"taker_fee"`
	TradeActive bool               `json:"trade_in_flight"`
	Trades      int                `json:"trades"`
	Realized    map[string]float64 `json:"realized_pnl"`
	Version     string             `json:"version"`
}

func New(d Deps) *Server {
	s := &Server{router: mux.NewRouter(), d: d}
	s.router.Use(middleware.Recovery(d.Logger), middleware.RequestID, middleware.Logger(d.Logger))

	s.router.HandleFunc("/healthz", health.Healthz).Methods(http.MethodGet)
	s.router.HandleFunc("/readyz", health.Readyz).Methods(http.MethodGet)
	s.router.HandleFunc("/version", version.Handler).Methods(http.MethodGet)

	admin := s.router.NewRoute().Subrouter()
	admin.Use(middleware.AdminGate(d.AdminCIDRs))
	admin.HandleFunc("/status", s.status).Methods(http.MethodGet)
	admin.HandleFunc("/trades", s.trades).Methods(http.MethodGet)
	if d.Registry != nil {
		admin.Handle("/metrics", metrics.Handler(d.Registry)).Methods(http.MethodGet)
	}
	if d.Pprof {
		admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
		admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
		admin.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st := status{Exchange: s.d.Exchange, Live: s.d.Live, Version: version.Version, Realized: map[string]float64{}}
	if s.d.Engine != nil {
		st.Cycles = s.d.Engine.Cycles()
		st.TakerFee = s.d.Engine.TakerFee()
	}
	if s.d.Guard != nil {
		st.TradeActive = s.d.Guard.InFlight()
	}
	if s.d.Tracker != nil {
		st.Trades = s.d.Tracker.Trades()
		st.Realized = s.d.Tracker.Realized()
	}
	writeJSON(w, st)
}

func (s *Server) trades(w http.ResponseWriter, r *http.Request) {
	out := []pnl.TradeResult{}
	if s.d.Tracker != nil {
		out = append(out, s.d.Tracker.Snapshot()...)
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = jsoniter.NewEncoder(w).Encode(v)
}
