package tradelog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"triarb/internal/pnl"
	"triarb/internal/strategy"
)

// Journal appends human-readable trading events to a file. Safe for concurrent use.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	now  func() time.Time
}

// Open creates or appends to path.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Journal{file: f, now: time.Now}, nil
}

func (j *Journal) Opportunity(q strategy.DepthQuote) error {
	s := q.Surface
	d := s.Descriptions()
	return j.write(fmt.Sprintf("Arbitrage Opportunity: cycle=%s rotation=%s start=%s amount=%g surface_pct=%.6f real_rate_pct=%.6f fee=%g | %s",
		s.Cycle.Key(), s.Rotation, s.StartAsset(), q.StartAmount, s.ProfitPct, q.RealRatePct, q.TakerFee, strings.Join(d[:], " ")))
}

func (j *Journal) Result(r pnl.TradeResult) error {
	return j.write(fmt.Sprintf("Swapping result: cycle=%s asset=%s start=%g final_balance=%g pnl=%g pnl_pct=%.6f orders=%s",
		r.Cycle, r.StartAsset, r.StartAmount, r.FinalBalance, r.PnL, r.PnLPct, strings.Join(r.OrderIDs, ",")))
}

func (j *Journal) Aborted(cycle string, err error) error {
	return j.write(fmt.Sprintf("Swapping aborted: cycle=%s reason=%v", cycle, err))
}

func (j *Journal) write(line string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return os.ErrClosed
	}
	_, err := fmt.Fprintf(j.file, "%s %s\n", j.now().UTC().Format(time.RFC3339), line)
	return err
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
