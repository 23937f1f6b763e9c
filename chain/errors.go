package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// Error kinds returned by the bridge. Every error produced by this package
// matches exactly one of them with errors.Is.
var (
	ErrConnection          = errors.New("chain: connection unavailable")
	ErrTransactionRejected = errors.New("chain: transaction rejected by user")
	ErrUserBanned          = errors.New("chain: account is banned")
	ErrOperationFailed     = errors.New("chain: operation failed")
	ErrDataConversion      = errors.New("chain: data conversion failed")
	ErrEventNotFound       = errors.New("chain: event not found")
)

// ErrSignatureDenied is returned by wallets when the operator declines to sign.
var ErrSignatureDenied = errors.New("chain: signature request denied")

// BannedRevertMarker is the revert reason fragment the marketplace contract
// emits when a restricted account attempts an action.
const BannedRevertMarker = "user is banned"

const genericFailureReason = "transaction failed"

// userRejectedCode is the EIP-1193 provider error code for a declined request.
const userRejectedCode = 4001

// Error carries one taxonomy kind together with the raw cause.
type Error struct {
	Kind   error
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Reason == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Reason)
}

// Is reports whether target is the kind of this error.
func (e *Error) Is(target error) bool {
	return e != nil && target == e.Kind
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func newError(kind error, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

// ConnectionError reports that no session to the node is available.
func ConnectionError(reason string, cause error) error {
	return newError(ErrConnection, reason, cause)
}

// OperationFailed reports a generic failure carrying a human readable reason.
func OperationFailed(reason string, cause error) error {
	if strings.TrimSpace(reason) == "" {
		reason = genericFailureReason
	}
	return newError(ErrOperationFailed, reason, cause)
}

// DataConversionError reports a payload that does not match its declared shape.
func DataConversionError(reason string, cause error) error {
	return newError(ErrDataConversion, reason, cause)
}

// EventNotFoundError reports a receipt without the expected log.
func EventNotFoundError(event string) error {
	return newError(ErrEventNotFound, fmt.Sprintf("no %s log in receipt", event), nil)
}

// KindOf returns a short stable label for the taxonomy kind of err, suitable
// for metric labels.
func KindOf(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrTransactionRejected):
		return "rejected"
	case errors.Is(err, ErrUserBanned):
		return "banned"
	case errors.Is(err, ErrDataConversion):
		return "data_conversion"
	case errors.Is(err, ErrEventNotFound):
		return "event_not_found"
	default:
		return "operation_failed"
	}
}

// TranslateError maps a raw node, wallet or transport error onto the closed
// taxonomy: TransactionRejected, UserBanned, OperationFailed with the revert
// reason, or OperationFailed with a generic reason. Errors that already carry a
// taxonomy kind are returned unchanged.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}
	var translated *Error
	if errors.As(err, &translated) {
		return err
	}
	if isWalletRejection(err) {
		return newError(ErrTransactionRejected, "", err)
	}
	if reason, ok := RevertReason(err); ok {
		if isBanned(reason) {
			return newError(ErrUserBanned, reason, err)
		}
		return newError(ErrOperationFailed, reason, err)
	}
	if hasRejectionMarker(err) {
		return newError(ErrTransactionRejected, "", err)
	}
	if isBanned(err.Error()) {
		return newError(ErrUserBanned, BannedRevertMarker, err)
	}
	return newError(ErrOperationFailed, genericFailureReason, err)
}

func isWalletRejection(err error) bool {
	if errors.Is(err, ErrSignatureDenied) {
		return true
	}
	var coded rpc.Error
	return errors.As(err, &coded) && coded.ErrorCode() == userRejectedCode
}

// hasRejectionMarker matches wallet messages that carry no code. It is only
// consulted once no revert reason was found.
func hasRejectionMarker(err error) bool {
	lower := strings.ToLower(err.Error())
	for _, marker := range []string{"user rejected", "user denied", "rejected by user", "request denied"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func isBanned(text string) bool {
	return strings.Contains(strings.ToLower(text), BannedRevertMarker)
}

// RevertReason extracts the revert reason carried by a node error, either
// from the ABI encoded revert data or from an "execution reverted" message.
func RevertReason(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if raw, ok := dataErr.ErrorData().(string); ok {
			if data, decodeErr := hexutil.Decode(raw); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil && reason != "" {
					return reason, true
				}
			}
		}
	}
	const prefix = "execution reverted:"
	msg := err.Error()
	if idx := strings.Index(strings.ToLower(msg), prefix); idx >= 0 {
		reason := strings.TrimSpace(msg[idx+len(prefix):])
		if reason != "" {
			return reason, true
		}
	}
	return "", false
}
