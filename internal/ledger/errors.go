package ledger

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the ledger wraps exactly one of
// these, so callers can classify failures with errors.Is or Kind.
var (
	ErrParameter        = errors.New("parameter error")
	ErrAddress          = errors.New("address error")
	ErrAccountNotExist  = errors.New("account does not exist")
	ErrBalanceNotEnough = errors.New("balance not enough")
	ErrStorage          = errors.New("storage failure")
	ErrSigning          = errors.New("signing failure")
	ErrVerification     = errors.New("verification failure")
	ErrUnknown          = errors.New("unknown error")
)

var kinds = []error{
	ErrParameter,
	ErrAddress,
	ErrAccountNotExist,
	ErrBalanceNotEnough,
	ErrStorage,
	ErrSigning,
	ErrVerification,
	ErrUnknown,
}

// Kind returns the error kind err wraps, ErrUnknown for an unclassified
// error, and nil for nil.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrUnknown
}

// wrap tags cause with kind. A nil cause yields kind plus the message.
func wrap(kind error, msg string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", kind, msg)
	}
	return fmt.Errorf("%w: %s: %w", kind, msg, cause)
}
