package risk

import (
	"context"
	"errors"
	"fmt"

	"triarb/internal/exchange/common"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

// BalanceError carries the numbers behind ErrInsufficientBalance.
type BalanceError struct {
	Asset string
	Free  float64
	Need  float64
	Cause error // balance lookup failure, if any
}

func (e *BalanceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("insufficient balance: %s free %g < %g (lookup failed: %v)", e.Asset, e.Free, e.Need, e.Cause)
	}
	return fmt.Sprintf("insufficient balance: %s free %g < %g", e.Asset, e.Free, e.Need)
}

func (e *BalanceError) Unwrap() error { return ErrInsufficientBalance }

// Balancer is the slice of an exchange the gate needs.
type Balancer interface {
	GetBalances(ctx context.Context) ([]common.Balance, error)
}

// RequireFree fails unless the free balance of asset covers need. A failed
// balance lookup counts as a zero balance.
func RequireFree(ctx context.Context, b Balancer, asset string, need float64) (float64, error) {
	bals, err := b.GetBalances(ctx)
	if err != nil {
		return 0, &BalanceError{Asset: asset, Need: need, Cause: err}
	}
	free := common.FreeBalance(bals, asset)
	if free < need {
		return free, &BalanceError{Asset: asset, Free: free, Need: need}
	}
	return free, nil
}
