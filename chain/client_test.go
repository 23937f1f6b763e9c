package chain_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"bookchain/chain"
	"bookchain/crypto"
	"bookchain/internal/chaintest"
)

var contract = common.HexToAddress("0x0000000000000000000000000000000000c0ffee")

type harness struct {
	node   *chaintest.Node
	market *chaintest.Marketplace
	key    *crypto.PrivateKey
	client *chain.Client
}

func newHarness(t *testing.T, opts ...chain.Option) *harness {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	node := chaintest.NewNode(contract)
	market := chaintest.NewMarketplace(node, 2)
	base := []chain.Option{
		chain.WithWallet(chain.NewKeyWallet(key)),
		chain.WithDialer(node.Dialer()),
		chain.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	client := chain.NewClient(chain.Config{
		Endpoint:     "memory",
		Contract:     contract,
		ChainID:      chaintest.DefaultChainID.Uint64(),
		PollInterval: time.Millisecond,
	}, append(base, opts...)...)
	t.Cleanup(client.Close)
	return &harness{node: node, market: market, key: key, client: client}
}

func (h *harness) connect(t *testing.T) chain.Session {
	t.Helper()
	session, err := h.client.Connect(context.Background())
	require.NoError(t, err)
	return session
}

func TestConnectIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.node.SetBalance(h.key.Address(), big.NewInt(1_500_000_000_000_000_000))
	require.Equal(t, chain.StateDisconnected, h.client.State())

	first := h.connect(t)
	require.Equal(t, h.key.Address(), first.Address)
	require.Equal(t, "1.5", first.Balance)
	require.Equal(t, chaintest.DefaultChainID, first.ChainID)
	require.Equal(t, chain.StateConnected, h.client.State())

	h.node.FailDial(errors.New("dial refused"))
	second := h.connect(t)
	require.Equal(t, first, second)

	h.client.Close()
	require.Equal(t, chain.StateDisconnected, h.client.State())
	require.True(t, h.node.Closed())
	_, ok := h.client.Session()
	require.False(t, ok)
}

func TestConnectFailures(t *testing.T) {
	node := chaintest.NewNode(contract)
	noWallet := chain.NewClient(chain.Config{Contract: contract}, chain.WithDialer(node.Dialer()))
	_, err := noWallet.Connect(context.Background())
	require.ErrorIs(t, err, chain.ErrConnection)

	watch := chain.WithWallet(chain.NewWatchWallet(common.HexToAddress("0x01")))
	noContract := chain.NewClient(chain.Config{}, watch, chain.WithDialer(node.Dialer()))
	_, err = noContract.Connect(context.Background())
	require.ErrorIs(t, err, chain.ErrConnection)

	wrongChain := chain.NewClient(chain.Config{Contract: contract, ChainID: 1}, watch, chain.WithDialer(node.Dialer()))
	_, err = wrongChain.Connect(context.Background())
	require.ErrorIs(t, err, chain.ErrConnection)
	require.Equal(t, chain.StateDisconnected, wrongChain.State())

	node.FailDial(errors.New("no route to host"))
	unreachable := chain.NewClient(chain.Config{Contract: contract}, watch, chain.WithDialer(node.Dialer()))
	_, err = unreachable.Connect(context.Background())
	require.ErrorIs(t, err, chain.ErrConnection)
}

func TestCallRequiresSession(t *testing.T) {
	h := newHarness(t)
	_, err := h.client.Call(context.Background(), chain.MethodAllPaused)
	require.ErrorIs(t, err, chain.ErrConnection)
	_, err = h.client.Submit(context.Background(), chain.MethodRegisterUser)
	require.ErrorIs(t, err, chain.ErrConnection)
}

func TestCallDecodesOutputs(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.market.MakeAdmin(h.key.Address())

	out, err := h.client.Call(context.Background(), chain.MethodGetUserInfo, h.key.Address())
	require.NoError(t, err)
	require.Equal(t, []any{true, false, uint8(1), true}, out)

	h.node.FailRead(chain.MethodAllPaused, chaintest.Revert("paused reader broken"))
	_, err = h.client.Call(context.Background(), chain.MethodAllPaused)
	require.ErrorIs(t, err, chain.ErrOperationFailed)
	require.Contains(t, err.Error(), "paused reader broken")

	_, err = h.client.Call(context.Background(), "noSuchMethod")
	require.ErrorIs(t, err, chain.ErrDataConversion)
}

func TestSubmitWaitsForReceiptAndExtractsEvent(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.market.Register(h.key.Address())
	h.node.DelayReceipts(3)

	deposit, err := chain.ParseNative("0.05")
	require.NoError(t, err)
	receipt, err := h.client.Submit(context.Background(), chain.MethodCreateRentableBook, "ipfs://QmBook", deposit, big.NewInt(14))
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)

	id, err := h.client.ExtractEventArg(receipt, chain.EventBookCreated, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), id.(*big.Int).Int64())

	uri, err := h.client.ExtractEventArg(receipt, chain.EventBookCreated, 2)
	require.NoError(t, err)
	require.Equal(t, "ipfs://QmBook", uri)

	_, err = h.client.ExtractEventArg(receipt, chain.EventBookPurchased, 0)
	require.ErrorIs(t, err, chain.ErrEventNotFound)
	_, err = h.client.ExtractEventArg(receipt, chain.EventBookCreated, 9)
	require.ErrorIs(t, err, chain.ErrDataConversion)

	sender, err := h.client.TransactionSender(context.Background(), receipt.TxHash)
	require.NoError(t, err)
	require.Equal(t, h.key.Address(), sender)
}

func TestSubmitTranslatesFailures(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	_, err := h.client.Submit(context.Background(), chain.MethodCreateSellableBook, "QmBook", big.NewInt(1))
	require.ErrorIs(t, err, chain.ErrOperationFailed)
	require.Contains(t, err.Error(), chaintest.ReasonNotRegistered)

	h.market.Ban(h.key.Address())
	_, err = h.client.Submit(context.Background(), chain.MethodCreateSellableBook, "QmBook", big.NewInt(1))
	require.ErrorIs(t, err, chain.ErrUserBanned)
	require.NotErrorIs(t, err, chain.ErrOperationFailed)

	_, err = h.client.SubmitWithValue(context.Background(), chain.MethodBuyBook, "-1", big.NewInt(1))
	require.ErrorIs(t, err, chain.ErrOperationFailed)
}

func TestSubmitRecoversMinedRevertReason(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.node.FailMined(chain.MethodRegisterUser, chaintest.Revert(chain.BannedRevertMarker))

	_, err := h.client.Submit(context.Background(), chain.MethodRegisterUser)
	require.ErrorIs(t, err, chain.ErrUserBanned)
}

func TestSubmitDeclinedSignature(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	var asked int
	wallet := chain.ConfirmingWallet{
		Wallet: chain.NewKeyWallet(key),
		Confirm: func(context.Context, *types.Transaction) (bool, error) {
			asked++
			return false, nil
		},
	}
	h := newHarness(t, chain.WithWallet(wallet))
	h.connect(t)

	_, err = h.client.Submit(context.Background(), chain.MethodRegisterUser)
	require.ErrorIs(t, err, chain.ErrTransactionRejected)
	require.Equal(t, 1, asked)
}

func TestWatchWalletCannotSign(t *testing.T) {
	h := newHarness(t, chain.WithWallet(chain.NewWatchWallet(common.HexToAddress("0xabc"))))
	h.connect(t)
	_, err := h.client.Submit(context.Background(), chain.MethodRegisterUser)
	require.ErrorIs(t, err, chain.ErrOperationFailed)
	require.ErrorIs(t, err, chain.ErrWatchOnly)
}

func TestFilterEventsAndBlockTime(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	borrower := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	other := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	h.node.EmitAt(5, common.HexToHash("0x01"), chaintest.EventLog(chain.EventBookBorrowed, big.NewInt(3), borrower, big.NewInt(10)))
	h.node.EmitAt(6, common.HexToHash("0x02"), chaintest.EventLog(chain.EventBookBorrowed, big.NewInt(4), other, big.NewInt(10)))

	events, err := h.client.FilterEvents(context.Background(), chain.EventQuery{
		Event:   chain.EventBookBorrowed,
		ToBlock: 10,
		Topics:  [][]common.Hash{nil, {chain.AddressTopic(borrower)}},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, chain.EventBookBorrowed, events[0].Name)
	require.Equal(t, []any{big.NewInt(3), borrower, big.NewInt(10)}, events[0].Args)
	who, ok := events[0].Arg("borrower")
	require.True(t, ok)
	require.Equal(t, borrower, who)

	decoded, err := h.client.DecodeEvent(events[0].Log)
	require.NoError(t, err)
	require.Equal(t, events[0].Args, decoded.Args)

	when, err := h.client.BlockTime(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, int64(chaintest.BlockTime(5)), when.Unix())

	h.node.FailFilter(chain.EventBookBorrowed, errors.New("query timeout"))
	_, err = h.client.FilterEvents(context.Background(), chain.EventQuery{Event: chain.EventBookBorrowed, ToBlock: 10})
	require.ErrorIs(t, err, chain.ErrOperationFailed)
}
