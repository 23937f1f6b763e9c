package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"bookchain/crypto"
)

// Wallet is the session provider bound into a Client: it names the acting
// account and signs the transactions submitted on its behalf.
type Wallet interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// ErrWatchOnly is returned when a watch-only wallet is asked to sign.
var ErrWatchOnly = errors.New("chain: wallet is watch-only")

// KeyWallet signs with an in-process secp256k1 key.
type KeyWallet struct {
	key *crypto.PrivateKey
}

// NewKeyWallet wraps key.
func NewKeyWallet(key *crypto.PrivateKey) *KeyWallet {
	return &KeyWallet{key: key}
}

func (w *KeyWallet) Address() common.Address {
	return w.key.Address()
}

func (w *KeyWallet) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), w.key.PrivateKey)
}

// WatchWallet observes an account without being able to sign for it. Reads
// that depend on the caller (hasVoted) are issued from its address.
type WatchWallet struct {
	address common.Address
}

// NewWatchWallet returns a read-only wallet for address.
func NewWatchWallet(address common.Address) WatchWallet {
	return WatchWallet{address: address}
}

func (w WatchWallet) Address() common.Address { return w.address }

func (w WatchWallet) SignTx(context.Context, *types.Transaction, *big.Int) (*types.Transaction, error) {
	return nil, ErrWatchOnly
}

// ConfirmFunc is asked before every signature. Returning false declines.
type ConfirmFunc func(ctx context.Context, tx *types.Transaction) (bool, error)

// ConfirmingWallet asks for operator approval before delegating to the
// wrapped wallet. A declined request surfaces as ErrSignatureDenied.
type ConfirmingWallet struct {
	Wallet
	Confirm ConfirmFunc
}

func (w ConfirmingWallet) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if w.Confirm != nil {
		ok, err := w.Confirm(ctx, tx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrSignatureDenied
		}
	}
	return w.Wallet.SignTx(ctx, tx, chainID)
}
