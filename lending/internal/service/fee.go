package service

import (
	"time"

	"github.com/astlibr/lending-service/lending/internal/model"
)

const (
	feePerDayCents model.Cents = 50
	feeCapCents    model.Cents = 2500
)

// DaysOverdue returns how many late days have accrued by eval, rounding
// any started day up. Not overdue means 0.
func DaysOverdue(due, eval time.Time) int {
	if !eval.After(due) {
		return 0
	}
	const day = 24 * time.Hour
	d := eval.Sub(due)
	days := int(d / day)
	if d%day != 0 {
		days++
	}
	return days
}

// LateFee computes the capped late fee in cents for a transaction due at
// due and evaluated at eval.
func LateFee(due, eval time.Time) model.Cents {
	fee := model.Cents(DaysOverdue(due, eval)) * feePerDayCents
	if fee > feeCapCents {
		return feeCapCents
	}
	return fee
}
