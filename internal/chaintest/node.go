// Package chaintest provides an in-memory chain.Backend serving the
// marketplace contract interface, for tests that exercise the bridge end to
// end without a node.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"bookchain/chain"
	"bookchain/crypto"
)

const (
	// GenesisTime is the timestamp of block zero.
	GenesisTime = 1_700_000_000
	// BlockInterval is the number of seconds between consecutive blocks.
	BlockInterval = 12

	defaultGas = 100_000
)

// DefaultChainID is the chain id served unless overridden.
var DefaultChainID = big.NewInt(31337)

// Call is one decoded contract invocation.
type Call struct {
	Method string
	From   common.Address
	Value  *big.Int
	Args   []any
	Block  uint64
	Time   uint64
}

// Uint returns argument i as a uint64. It panics on a type mismatch.
func (c Call) Uint(i int) uint64 {
	switch v := c.Args[i].(type) {
	case *big.Int:
		return v.Uint64()
	case uint8:
		return uint64(v)
	default:
		panic(fmt.Sprintf("chaintest: %s argument %d is %T", c.Method, i, c.Args[i]))
	}
}

// ReadFunc answers a view method with its outputs.
type ReadFunc func(Call) ([]any, error)

// CheckFunc validates a write before it is estimated or mined.
type CheckFunc func(Call) error

// ApplyFunc mutates state for a mined write and returns the logs it emits.
type ApplyFunc func(Call) ([]*types.Log, error)

type writeHandler struct {
	check CheckFunc
	apply ApplyFunc
}

// Node is an in-memory single-producer chain. Every accepted transaction
// is mined into its own block.
type Node struct {
	mu       sync.Mutex
	abi      abi.ABI
	chainID  *big.Int
	contract common.Address
	height   uint64
	closed   bool

	balances map[common.Address]*big.Int
	nonces   map[common.Address]uint64
	reads    map[string]ReadFunc
	writes   map[string]writeHandler

	logs     []types.Log
	txs      map[common.Hash]*types.Transaction
	receipts map[common.Hash]*types.Receipt
	polls    map[common.Hash]int
	reverted map[uint64]error

	dialErr     error
	callErr     error
	readErrs    map[string]error
	filterErrs  map[common.Hash]error
	minedErrs   map[string]error
	pendingPoll int
	sendHook    func(*types.Transaction) error
}

// NewNode returns a node hosting the marketplace contract at contract.
func NewNode(contract common.Address) *Node {
	return &Node{
		abi:        chain.ContractABI(),
		chainID:    new(big.Int).Set(DefaultChainID),
		contract:   contract,
		balances:   make(map[common.Address]*big.Int),
		nonces:     make(map[common.Address]uint64),
		reads:      make(map[string]ReadFunc),
		writes:     make(map[string]writeHandler),
		txs:        make(map[common.Hash]*types.Transaction),
		receipts:   make(map[common.Hash]*types.Receipt),
		polls:      make(map[common.Hash]int),
		reverted:   make(map[uint64]error),
		readErrs:   make(map[string]error),
		filterErrs: make(map[common.Hash]error),
		minedErrs:  make(map[string]error),
	}
}

// Dialer returns a chain.Dialer handing out this node.
func (n *Node) Dialer() chain.Dialer {
	return func(ctx context.Context, endpoint string) (chain.Backend, error) {
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.dialErr != nil {
			return nil, n.dialErr
		}
		n.closed = false
		return n, nil
	}
}

// HandleRead registers the answer to a view method.
func (n *Node) HandleRead(method string, fn ReadFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reads[method] = fn
}

// HandleWrite registers a state-changing method. check runs on estimation,
// on replay and before apply; either may be nil.
func (n *Node) HandleWrite(method string, check CheckFunc, apply ApplyFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.writes[method] = writeHandler{check: check, apply: apply}
}

// FailDial makes the next dials fail with err.
func (n *Node) FailDial(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dialErr = err
}

// FailCalls makes every eth_call fail with err; nil restores normal service.
func (n *Node) FailCalls(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.callErr = err
}

// FailRead makes calls of one view method fail with err.
func (n *Node) FailRead(method string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.readErrs[method] = err
}

// FailFilter makes log queries for event fail with err.
func (n *Node) FailFilter(event string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.filterErrs[n.abi.Events[event].ID] = err
}

// FailMined makes the next mined transaction calling method fail with err
// even though its estimation succeeded.
func (n *Node) FailMined(method string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.minedErrs[method] = err
}

// DelayReceipts makes every new receipt report not found for polls lookups.
func (n *Node) DelayReceipts(polls int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pendingPoll = polls
}

// OnSend installs a hook that may refuse a broadcast transaction.
func (n *Node) OnSend(hook func(*types.Transaction) error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sendHook = hook
}

// SetBalance credits account with base units.
func (n *Node) SetBalance(account common.Address, amount *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.balances[account] = new(big.Int).Set(amount)
}

// Mine advances the chain by count empty blocks.
func (n *Node) Mine(count uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.height += count
}

// Height returns the current block number.
func (n *Node) Height() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.height
}

// Closed reports whether the last session was closed.
func (n *Node) Closed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// BlockTime is the timestamp of block number.
func BlockTime(number uint64) uint64 {
	return GenesisTime + number*BlockInterval
}

// Emit mines one transaction signed by from whose receipt carries logs. It
// bypasses the contract handlers and returns the transaction hash.
func (n *Node) Emit(from *crypto.PrivateKey, logs ...*types.Log) (common.Hash, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	sender := from.Address()
	to := n.contract
	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    n.nonces[sender],
		GasPrice: big.NewInt(1),
		Gas:      defaultGas,
		To:       &to,
		Value:    new(big.Int),
	}), types.LatestSignerForChainID(n.chainID), from.PrivateKey)
	if err != nil {
		return common.Hash{}, err
	}
	n.nonces[sender]++
	n.height++
	n.record(tx, types.ReceiptStatusSuccessful, logs)
	return tx.Hash(), nil
}

// EmitAt appends logs to block number under an existing or synthetic
// transaction hash without creating a transaction.
func (n *Node) EmitAt(number uint64, txHash common.Hash, logs ...*types.Log) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if number > n.height {
		n.height = number
	}
	for _, log := range logs {
		entry := *log
		entry.Address = n.contract
		entry.BlockNumber = number
		entry.TxHash = txHash
		entry.Index = uint(len(n.logs))
		n.logs = append(n.logs, entry)
	}
}

func (n *Node) record(tx *types.Transaction, status uint64, logs []*types.Log) *types.Receipt {
	receipt := &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(n.height),
		GasUsed:     tx.Gas(),
	}
	for _, log := range logs {
		entry := *log
		entry.Address = n.contract
		entry.BlockNumber = n.height
		entry.TxHash = tx.Hash()
		entry.Index = uint(len(n.logs))
		n.logs = append(n.logs, entry)
		stored := entry
		receipt.Logs = append(receipt.Logs, &stored)
	}
	n.txs[tx.Hash()] = tx
	n.receipts[tx.Hash()] = receipt
	n.polls[tx.Hash()] = n.pendingPoll
	return receipt
}

func (n *Node) decode(data []byte) (*abi.Method, []any, error) {
	if len(data) < 4 {
		return nil, nil, errors.New("chaintest: calldata too short")
	}
	method, err := n.abi.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, err
	}
	return method, args, nil
}

func (n *Node) ChainID(ctx context.Context) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return new(big.Int).Set(n.chainID), nil
}

func (n *Node) BlockNumber(ctx context.Context) (uint64, error) {
	return n.Height(), nil
}

func (n *Node) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	height := n.height
	if number != nil {
		if !number.IsUint64() || number.Uint64() > n.height {
			return nil, ethereum.NotFound
		}
		height = number.Uint64()
	}
	return &types.Header{Number: new(big.Int).SetUint64(height), Time: BlockTime(height)}, nil
}

func (n *Node) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if balance, ok := n.balances[account]; ok {
		return new(big.Int).Set(balance), nil
	}
	return new(big.Int), nil
}

func (n *Node) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.callErr != nil {
		return nil, n.callErr
	}
	if msg.To == nil || *msg.To != n.contract {
		return nil, nil
	}
	method, args, err := n.decode(msg.Data)
	if err != nil {
		return nil, err
	}
	call := Call{Method: method.Name, From: msg.From, Value: valueOf(msg.Value), Args: args, Block: n.height, Time: BlockTime(n.height)}
	if blockNumber != nil {
		if err, ok := n.reverted[blockNumber.Uint64()]; ok {
			return nil, err
		}
	}
	if err := n.readErrs[method.Name]; err != nil {
		return nil, err
	}
	if fn, ok := n.reads[method.Name]; ok {
		outputs, err := fn(call)
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(outputs...)
	}
	if handler, ok := n.writes[method.Name]; ok {
		if handler.check != nil {
			if err := handler.check(call); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
	return nil, fmt.Errorf("chaintest: method %s not handled", method.Name)
}

func (n *Node) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(q.Topics) > 0 {
		for _, topic := range q.Topics[0] {
			if err := n.filterErrs[topic]; err != nil {
				return nil, err
			}
		}
	}
	from := uint64(0)
	if q.FromBlock != nil {
		from = q.FromBlock.Uint64()
	}
	to := n.height
	if q.ToBlock != nil {
		to = q.ToBlock.Uint64()
	}
	var out []types.Log
	for _, log := range n.logs {
		if log.BlockNumber < from || log.BlockNumber > to {
			continue
		}
		if len(q.Addresses) > 0 && !containsAddress(q.Addresses, log.Address) {
			continue
		}
		if !topicsMatch(q.Topics, log.Topics) {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func (n *Node) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	tx, ok := n.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, false, nil
}

func (n *Node) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	receipt, ok := n.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	if n.polls[hash] > 0 {
		n.polls[hash]--
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (n *Node) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nonces[account], nil
}

func (n *Node) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (n *Node) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.callErr != nil {
		return 0, n.callErr
	}
	method, args, err := n.decode(msg.Data)
	if err != nil {
		return 0, err
	}
	handler, ok := n.writes[method.Name]
	if !ok {
		return 0, fmt.Errorf("chaintest: method %s not handled", method.Name)
	}
	if handler.check != nil {
		call := Call{Method: method.Name, From: msg.From, Value: valueOf(msg.Value), Args: args, Block: n.height + 1, Time: BlockTime(n.height + 1)}
		if err := handler.check(call); err != nil {
			return 0, err
		}
	}
	return defaultGas, nil
}

func (n *Node) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sendHook != nil {
		if err := n.sendHook(tx); err != nil {
			return err
		}
	}
	from, err := types.Sender(types.LatestSignerForChainID(n.chainID), tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if tx.Nonce() != n.nonces[from] {
		return fmt.Errorf("nonce too low: have %d, want %d", tx.Nonce(), n.nonces[from])
	}
	method, args, err := n.decode(tx.Data())
	if err != nil {
		return err
	}
	handler, ok := n.writes[method.Name]
	if !ok {
		return fmt.Errorf("chaintest: method %s not handled", method.Name)
	}
	n.nonces[from]++
	n.height++
	call := Call{Method: method.Name, From: from, Value: valueOf(tx.Value()), Args: args, Block: n.height, Time: BlockTime(n.height)}

	failure := n.minedErrs[method.Name]
	delete(n.minedErrs, method.Name)
	if failure == nil && handler.check != nil {
		failure = handler.check(call)
	}
	var logs []*types.Log
	if failure == nil && handler.apply != nil {
		logs, failure = handler.apply(call)
	}
	if failure != nil {
		n.reverted[n.height] = failure
		n.record(tx, types.ReceiptStatusFailed, nil)
		return nil
	}
	n.record(tx, types.ReceiptStatusSuccessful, logs)
	return nil
}

func (n *Node) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
}

// RevertError mimics the JSON-RPC error a node returns for a reverted call.
type RevertError struct {
	Reason string
}

// Revert returns the error a node reports for require(false, reason).
func Revert(reason string) error {
	return &RevertError{Reason: reason}
}

func (e *RevertError) Error() string  { return "execution reverted" }
func (e *RevertError) ErrorCode() int { return 3 }

// ErrorData is the ABI encoded Error(string) payload.
func (e *RevertError) ErrorData() interface{} {
	typ, _ := abi.NewType("string", "", nil)
	packed, _ := abi.Arguments{{Type: typ}}.Pack(e.Reason)
	selector := []byte{0x08, 0xc3, 0x79, 0xa0}
	return hexutil.Encode(append(selector, packed...))
}

// RejectedError mimics a wallet provider declining a signature request.
type RejectedError struct{}

func (RejectedError) Error() string  { return "User denied transaction signature." }
func (RejectedError) ErrorCode() int { return 4001 }

// EventLog builds an unplaced marketplace log for event. Indexed arguments
// become topics; the rest is ABI encoded into the data. It panics when args
// do not fit the event.
func EventLog(event string, args ...any) *types.Log {
	ev, ok := chain.ContractABI().Events[event]
	if !ok {
		panic("chaintest: unknown event " + event)
	}
	if len(args) != len(ev.Inputs) {
		panic(fmt.Sprintf("chaintest: %s takes %d arguments, got %d", event, len(ev.Inputs), len(args)))
	}
	topics := []common.Hash{ev.ID}
	var values []any
	for i, input := range ev.Inputs {
		if !input.Indexed {
			values = append(values, args[i])
			continue
		}
		switch v := args[i].(type) {
		case *big.Int:
			topics = append(topics, common.BigToHash(v))
		case uint64:
			topics = append(topics, chain.UintTopic(v))
		case common.Address:
			topics = append(topics, chain.AddressTopic(v))
		default:
			panic(fmt.Sprintf("chaintest: unsupported indexed %T", v))
		}
	}
	data, err := ev.Inputs.NonIndexed().Pack(values...)
	if err != nil {
		panic(fmt.Sprintf("chaintest: pack %s: %v", event, err))
	}
	return &types.Log{Topics: topics, Data: data}
}

func valueOf(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func containsAddress(list []common.Address, addr common.Address) bool {
	for _, candidate := range list {
		if candidate == addr {
			return true
		}
	}
	return false
}

func topicsMatch(filter [][]common.Hash, topics []common.Hash) bool {
	if len(filter) > len(topics) {
		return false
	}
	for i, alternatives := range filter {
		if len(alternatives) == 0 {
			continue
		}
		matched := false
		for _, want := range alternatives {
			if topics[i] == want {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
