// Package health exposes liveness and readiness probes.
package health

import (
	"net/http"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
)

var (
	ready  atomic.Bool
	cycles atomic.Int64
)

// MarkReady records that the engine has loaded its cycles and is evaluating.
func MarkReady(n int) {
	cycles.Store(int64(n))
	ready.Store(true)
}

// SetReady marks readiness state
func SetReady(v bool) { ready.Store(v) }

// Ready returns current readiness
func Ready() bool { return ready.Load() }

// Healthz is a simple liveness probe
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type readiness struct {
	Ready  bool  `json:"ready"`
	Cycles int64 `json:"cycles"`
}

// Readyz reports 503 until the cycle list is loaded.
func Readyz(w http.ResponseWriter, r *http.Request) {
	st := readiness{Ready: Ready(), Cycles: cycles.Load()}
	w.Header().Set("Content-Type", "application/json")
	if !st.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = jsoniter.NewEncoder(w).Encode(st)
}
