package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Rejection reasons surfaced to users come from these errors; their
// messages are part of the API surface (clients match on "insufficient"
// and "not found").
var (
	ErrInvalidAsset  = errors.New("invalid asset")
	ErrUserNotFound  = errors.New("user not found - deposit first")
	ErrOrderNotFound = errors.New("order not found")
	ErrNotOwner      = errors.New("cannot cancel another user's order")
	ErrDuplicateID   = errors.New("order already exists")
)

// InsufficientBalanceError reports an available balance below the amount
// an allocation or withdrawal needs.
type InsufficientBalanceError struct {
	Have decimal.Decimal
	Need decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient available balance: have %s, need %s", e.Have, e.Need)
}

// InsufficientLiabilityError reports a liability balance below the amount
// a release or consume needs. Reaching it indicates a bookkeeping bug, not
// bad user input.
type InsufficientLiabilityError struct {
	Have decimal.Decimal
	Need decimal.Decimal
}

func (e *InsufficientLiabilityError) Error() string {
	return fmt.Sprintf("insufficient liability: have %s, need %s", e.Have, e.Need)
}
