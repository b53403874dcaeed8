package graph

import (
	"strings"

	"triarb/internal/exchange/common"
)

// Options filter the market list before cycle discovery.
type Options struct {
	// Markets quoted in one of these assets are skipped.
	ExcludedQuotes []string
}

// Tradable drops derivatives, degenerate markets and excluded quote assets.
func Tradable(markets []common.Market, opts Options) []common.Market {
	excluded := make(map[string]bool, len(opts.ExcludedQuotes))
	for _, a := range opts.ExcludedQuotes {
		excluded[strings.ToUpper(a)] = true
	}
	out := make([]common.Market, 0, len(markets))
	seen := map[string]bool{}
	for _, m := range markets {
		switch {
		case m.Derivative, strings.Contains(m.Symbol, ":"):
			continue
		case m.Symbol == "", m.Base == "", m.Quote == "", m.Base == m.Quote:
			continue
		case excluded[strings.ToUpper(m.Quote)]:
			continue
		case seen[m.Symbol]:
			continue
		}
		seen[m.Symbol] = true
		out = append(out, m)
	}
	return out
}

// BuildCycles enumerates every ordered triple of markets and keeps those that
// close a loop over three assets. Permutations of the same three symbols are
// collapsed to the first one discovered. O(n^3); meant to run once, offline.
func BuildCycles(markets []common.Market, opts Options) []Cycle {
	ms := Tradable(markets, opts)
	var out []Cycle
	seen := map[string]bool{}
	for i := range ms {
		a := ms[i]
		for j := range ms {
			if j == i {
				continue
			}
			b := ms[j]
			if !sharesAsset(a, b) {
				continue
			}
			for k := range ms {
				if k == i || k == j {
					continue
				}
				c := ms[k]
				if !closesLoop(a, b, c) {
					continue
				}
				cy := Cycle{Pairs: [3]Pair{pairOf(a), pairOf(b), pairOf(c)}}
				key := cy.Canonical()
				if seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, cy)
			}
		}
	}
	return out
}

func pairOf(m common.Market) Pair { return Pair{Symbol: m.Symbol, Base: m.Base, Quote: m.Quote} }

func sharesAsset(a, b common.Market) bool {
	return a.Base == b.Base || a.Base == b.Quote || a.Quote == b.Base || a.Quote == b.Quote
}

// closesLoop: the six base/quote slots hold exactly three assets, two each.
func closesLoop(a, b, c common.Market) bool {
	slots := [6]string{a.Base, a.Quote, b.Base, b.Quote, c.Base, c.Quote}
	var assets [3]string
	var counts [3]int
	n := 0
	for _, s := range slots {
		found := false
		for i := 0; i < n; i++ {
			if assets[i] == s {
				counts[i]++
				found = true
				break
			}
		}
		if found {
			continue
		}
		if n == 3 {
			return false
		}
		assets[n] = s
		counts[n] = 1
		n++
	}
	return n == 3 && counts[0] == 2 && counts[1] == 2 && counts[2] == 2
}
