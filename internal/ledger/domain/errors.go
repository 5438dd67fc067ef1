package domain

import (
	"errors"
	"fmt"

	userdomain "github.com/smallbiznis/creditcore/internal/user/domain"
)

var (
	ErrInsufficientCredits   = errors.New("insufficient_credits")
	ErrUserNotFound          = userdomain.ErrUserNotFound
	ErrInvalidUser           = errors.New("invalid_user")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrInvalidPageToken      = errors.New("invalid_page_token")
	ErrReservationNotFound   = errors.New("reservation_not_found")
	ErrReservationClosed     = errors.New("reservation_closed")
	ErrSettlementExceedsHold = errors.New("settlement_exceeds_hold")
)

// InsufficientCreditsError reports a debit the balance cannot cover.
type InsufficientCreditsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// AsInsufficientCredits unwraps err into an InsufficientCreditsError.
func AsInsufficientCredits(err error) (*InsufficientCreditsError, bool) {
	var target *InsufficientCreditsError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
