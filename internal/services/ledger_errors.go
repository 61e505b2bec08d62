package services

import "fmt"

// LedgerError is a business rule violation of a ledger operation.
// Message is safe to show to the agent; Code identifies the rule for errors.Is.
type LedgerError struct {
	Code    string
	Message string
}

func (e *LedgerError) Error() string {
	return e.Message
}

func (e *LedgerError) Is(target error) bool {
	t, ok := target.(*LedgerError)
	return ok && t.Code == e.Code
}

var (
	ErrInsufficientFunds   = &LedgerError{Code: "insufficient_funds", Message: "insufficient funds"}
	ErrBelowMinimumPayout  = &LedgerError{Code: "below_minimum_payout", Message: "amount is below the minimum payout"}
	ErrPaymentInFlight     = &LedgerError{Code: "payment_in_flight", Message: "a previous payment request is still being processed"}
	ErrBonusLocked         = &LedgerError{Code: "bonus_locked", Message: "bonus is not unlocked yet"}
	ErrNoBonus             = &LedgerError{Code: "no_bonus", Message: "there is no bonus to unlock"}
	ErrInvalidTransition   = &LedgerError{Code: "invalid_transition", Message: "status transition is not allowed"}
	ErrInvalidAmount       = &LedgerError{Code: "invalid_amount", Message: "amount must not be negative"}
	ErrReportNotReviewable = &LedgerError{Code: "report_not_reviewable", Message: "clinic report was already reviewed"}
	ErrReportUnlinked      = &LedgerError{Code: "report_unlinked", Message: "clinic report is not linked to a referral"}
	ErrReportNoAmount      = &LedgerError{Code: "report_no_amount", Message: "clinic report has no treatment amount"}
	ErrInvalidMonth        = &LedgerError{Code: "invalid_month", Message: "treatment month must look like YYYY-MM"}
)

func insufficientFunds(availableKopecks, requestedKopecks int64) *LedgerError {
	return &LedgerError{
		Code:    ErrInsufficientFunds.Code,
		Message: fmt.Sprintf("insufficient funds: available %s, requested %s", formatRubles(availableKopecks), formatRubles(requestedKopecks)),
	}
}

func belowMinimumPayout(minKopecks, requestedKopecks int64) *LedgerError {
	return &LedgerError{
		Code:    ErrBelowMinimumPayout.Code,
		Message: fmt.Sprintf("minimum payout is %s, requested %s", formatRubles(minKopecks), formatRubles(requestedKopecks)),
	}
}

func bonusLocked(required, paid int) *LedgerError {
	return &LedgerError{
		Code:    ErrBonusLocked.Code,
		Message: fmt.Sprintf("bonus unlocks after %d paid referrals, %d paid so far", required, paid),
	}
}

func invalidTransition(entity string, from, to any) *LedgerError {
	return &LedgerError{
		Code:    ErrInvalidTransition.Code,
		Message: fmt.Sprintf("%s cannot move from %v to %v", entity, from, to),
	}
}
