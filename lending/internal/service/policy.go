package service

import (
	"github.com/astlibr/lending-service/lending/internal/model"
)

type policy struct {
	limit    int
	loanDays int
}

var policies = map[model.MembershipType]policy{
	model.MembershipBasic:   {limit: 3, loanDays: 14},
	model.MembershipPremium: {limit: 10, loanDays: 30},
	model.MembershipStudent: {limit: 5, loanDays: 21},
}

func policyFor(mt model.MembershipType) policy {
	if p, ok := policies[mt]; ok {
		return p
	}
	// unknown membership types get BASIC terms, not an error
	return policies[model.MembershipBasic]
}

// LimitFor returns the maximum number of concurrent active transactions
// for the membership type.
func LimitFor(mt model.MembershipType) int {
	return policyFor(mt).limit
}

// LoanPeriodDays returns the loan period for the membership type.
func LoanPeriodDays(mt model.MembershipType) int {
	return policyFor(mt).loanDays
}
