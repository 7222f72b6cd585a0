package mutate

import (
	"errors"
	"fmt"
	"strings"

	"strapt-sync/internal/ledger"
)

// Classified mutation failures. Each maps a known contract revert signature
// or wallet outcome to a stable category callers can match on.
var (
	ErrNotAuthorized               = errors.New("not authorized for this stream")
	ErrNotFound                    = errors.New("stream not found")
	ErrAlreadyCompleted            = errors.New("stream already completed")
	ErrAlreadyCanceled             = errors.New("stream already canceled")
	ErrInsufficientContractBalance = errors.New("insufficient contract balance")
	ErrUserRejected                = errors.New("rejected by user")
	ErrAllowanceInsufficient       = errors.New("token allowance insufficient")
)

// classify maps revert reasons and wallet-level rejections onto the sentinel
// errors above. Unrecognized failures pass through wrapped so the raw text
// still reaches the caller.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var revert *ledger.RevertError
	if errors.As(err, &revert) {
		reason := strings.ToLower(revert.Reason)
		switch {
		case strings.Contains(reason, "not authorized"), strings.Contains(reason, "unauthorized"):
			return ErrNotAuthorized
		case strings.Contains(reason, "not found"), strings.Contains(reason, "does not exist"):
			return ErrNotFound
		case strings.Contains(reason, "already completed"):
			return ErrAlreadyCompleted
		case strings.Contains(reason, "already canceled"), strings.Contains(reason, "already cancelled"):
			return ErrAlreadyCanceled
		case strings.Contains(reason, "insufficient balance"), strings.Contains(reason, "insufficient funds"):
			return ErrInsufficientContractBalance
		}
		return fmt.Errorf("mutation reverted: %w", err)
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "user rejected") || strings.Contains(msg, "user denied") {
		return ErrUserRejected
	}

	return err
}
