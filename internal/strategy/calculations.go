package strategy

// invRate converts a price into "base per unit of quote"; a zero ask yields 0.
func invRate(ask float64) float64 {
	if ask == 0 {
		return 0
	}
	return 1 / ask
}

// ProfitPct is the relative change from start to end in percent. Zero start yields 0.
func ProfitPct(start, end float64) float64 {
	if start == 0 {
		return 0
	}
	return (end - start) / start * 100
}
