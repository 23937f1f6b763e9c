package chain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"bookchain/chain"
	"bookchain/internal/chaintest"
)

var taxonomy = []error{
	chain.ErrConnection,
	chain.ErrTransactionRejected,
	chain.ErrUserBanned,
	chain.ErrOperationFailed,
	chain.ErrDataConversion,
	chain.ErrEventNotFound,
}

func matchingKinds(err error) []error {
	var out []error
	for _, kind := range taxonomy {
		if errors.Is(err, kind) {
			out = append(out, kind)
		}
	}
	return out
}

func TestTranslateErrorFixtures(t *testing.T) {
	cases := []struct {
		name   string
		raw    error
		kind   error
		reason string
	}{
		{"user rejected", chaintest.RejectedError{}, chain.ErrTransactionRejected, ""},
		{"wallet declined", fmt.Errorf("sign: %w", chain.ErrSignatureDenied), chain.ErrTransactionRejected, ""},
		{"banned revert", chaintest.Revert("User is banned"), chain.ErrUserBanned, "User is banned"},
		{"banned message", errors.New("execution reverted: user is banned"), chain.ErrUserBanned, "user is banned"},
		{"revert with reason", chaintest.Revert("book not available"), chain.ErrOperationFailed, "book not available"},
		{"reverted message", errors.New("execution reverted: incorrect payment amount"), chain.ErrOperationFailed, "incorrect payment amount"},
		{"unknown", errors.New("connection reset by peer"), chain.ErrOperationFailed, "transaction failed"},
		{"uncoded wallet refusal", errors.New("MetaMask Tx Signature: User denied transaction signature."), chain.ErrTransactionRejected, ""},
		{"revert mentioning denial", errors.New("execution reverted: Borrow request denied: trust level too low"), chain.ErrOperationFailed, "Borrow request denied: trust level too low"},
		{"banned revert mentioning rejection", errors.New("execution reverted: user is banned: appeal rejected by user council"), chain.ErrUserBanned, "user is banned: appeal rejected by user council"},
		{"encoded revert mentioning denial", chaintest.Revert("request denied by lender"), chain.ErrOperationFailed, "request denied by lender"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for i := 0; i < 2; i++ {
				translated := chain.TranslateError(tc.raw)
				require.Equal(t, []error{tc.kind}, matchingKinds(translated))
				var typed *chain.Error
				require.True(t, errors.As(translated, &typed))
				require.Equal(t, tc.reason, typed.Reason)
			}
		})
	}
}

func TestTranslateErrorPassesThroughTaxonomy(t *testing.T) {
	require.Nil(t, chain.TranslateError(nil))

	original := chain.ConnectionError("not connected", nil)
	require.Same(t, original, chain.TranslateError(original))

	wrapped := fmt.Errorf("borrow: %w", chain.DataConversionError("bad payload", nil))
	require.ErrorIs(t, chain.TranslateError(wrapped), chain.ErrDataConversion)
}

func TestRevertReason(t *testing.T) {
	reason, ok := chain.RevertReason(chaintest.Revert("operation is paused"))
	require.True(t, ok)
	require.Equal(t, "operation is paused", reason)

	_, ok = chain.RevertReason(errors.New("execution reverted"))
	require.False(t, ok)
	_, ok = chain.RevertReason(nil)
	require.False(t, ok)
}

func TestKindOf(t *testing.T) {
	require.Equal(t, "none", chain.KindOf(nil))
	require.Equal(t, "banned", chain.KindOf(chain.TranslateError(chaintest.Revert(chain.BannedRevertMarker))))
	require.Equal(t, "event_not_found", chain.KindOf(chain.EventNotFoundError("BookCreated")))
	require.Equal(t, "operation_failed", chain.KindOf(errors.New("plain")))
}

func TestOperationFailedDefaultsReason(t *testing.T) {
	err := chain.OperationFailed("  ", nil)
	require.EqualError(t, err, "chain: operation failed: transaction failed")
}
