package graph

import (
	"fmt"
	"sort"
	"strings"
)

// Pair is one leg of a cycle with its orientation fixed at discovery.
type Pair struct {
	Symbol string `json:"symbol"`
	Base   string `json:"base"`
	Quote  string `json:"quote"`
}

// Cycle is a closed loop over three markets: A, B and C in discovery order.
type Cycle struct {
	Pairs [3]Pair `json:"pairs"`
}

func (c Cycle) A() Pair { return c.Pairs[0] }
func (c Cycle) B() Pair { return c.Pairs[1] }
func (c Cycle) C() Pair { return c.Pairs[2] }

// Key identifies the cycle in logs: symbols in discovery order.
func (c Cycle) Key() string {
	return c.Pairs[0].Symbol + "," + c.Pairs[1].Symbol + "," + c.Pairs[2].Symbol
}

// Canonical is the order-independent identity used for deduplication.
func (c Cycle) Canonical() string {
	s := []string{c.Pairs[0].Symbol, c.Pairs[1].Symbol, c.Pairs[2].Symbol}
	sort.Strings(s)
	return strings.Join(s, ",")
}

// Assets lists the three distinct assets of the cycle in first-seen order.
func (c Cycle) Assets() []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range c.Pairs {
		for _, a := range []string{p.Base, p.Quote} {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	return out
}

// Validate checks the closed-loop invariant: three distinct symbols and
// exactly three assets, each appearing on exactly two legs.
func (c Cycle) Validate() error {
	sym := map[string]bool{}
	count := map[string]int{}
	for _, p := range c.Pairs {
		if p.Symbol == "" || p.Base == "" || p.Quote == "" {
			return fmt.Errorf("cycle %s: incomplete pair %+v", c.Key(), p)
		}
		if p.Base == p.Quote {
			return fmt.Errorf("cycle %s: %s has identical base and quote", c.Key(), p.Symbol)
		}
		if sym[p.Symbol] {
			return fmt.Errorf("cycle %s: duplicate symbol %s", c.Key(), p.Symbol)
		}
		sym[p.Symbol] = true
		count[p.Base]++
		count[p.Quote]++
	}
	if len(count) != 3 {
		return fmt.Errorf("cycle %s: %d distinct assets, want 3", c.Key(), len(count))
	}
	for a, n := range count {
		if n != 2 {
			return fmt.Errorf("cycle %s: asset %s appears %d times, want 2", c.Key(), a, n)
		}
	}
	return nil
}
