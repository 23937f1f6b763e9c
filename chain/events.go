package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"bookchain/observability"
)

// Event is a decoded marketplace log.
type Event struct {
	Name string
	// Args holds every event input in declaration order, indexed ones included.
	Args   []any
	Fields map[string]any
	Log    types.Log
}

// Arg returns the named argument.
func (e Event) Arg(name string) (any, bool) {
	v, ok := e.Fields[name]
	return v, ok
}

// EventQuery selects logs of one event inside an inclusive block range.
// Topics filter the indexed arguments in declaration order; a nil entry
// matches anything.
type EventQuery struct {
	Event     string
	FromBlock uint64
	ToBlock   uint64
	Topics    [][]common.Hash
}

// AddressTopic encodes an address as an indexed topic.
func AddressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

// UintTopic encodes an unsigned integer as an indexed topic.
func UintTopic(v uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(v))
}

// DecodeLog decodes a log emitted by the marketplace contract.
func DecodeLog(contract abi.ABI, log types.Log) (Event, error) {
	if len(log.Topics) == 0 {
		return Event{}, DataConversionError("log without topics", nil)
	}
	ev, err := contract.EventByID(log.Topics[0])
	if err != nil {
		return Event{}, DataConversionError(fmt.Sprintf("unknown event topic %s", log.Topics[0].Hex()), err)
	}
	return decodeAs(*ev, log)
}

// DecodeEvent decodes a log emitted by the bound contract.
func (c *Client) DecodeEvent(log types.Log) (Event, error) {
	if log.Address != c.cfg.Contract {
		return Event{}, DataConversionError(fmt.Sprintf("log emitted by %s, not the marketplace", log.Address.Hex()), nil)
	}
	return DecodeLog(c.abi, log)
}

func decodeAs(ev abi.Event, log types.Log) (Event, error) {
	fields := make(map[string]any, len(ev.Inputs))
	var indexed abi.Arguments
	for _, input := range ev.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if len(log.Topics) != len(indexed)+1 {
		return Event{}, DataConversionError(fmt.Sprintf("%s log has %d topics, want %d", ev.Name, len(log.Topics), len(indexed)+1), nil)
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, log.Topics[1:]); err != nil {
		return Event{}, DataConversionError(fmt.Sprintf("decode %s topics", ev.Name), err)
	}
	if err := ev.Inputs.UnpackIntoMap(fields, log.Data); err != nil {
		return Event{}, DataConversionError(fmt.Sprintf("decode %s data", ev.Name), err)
	}
	args := make([]any, 0, len(ev.Inputs))
	for _, input := range ev.Inputs {
		args = append(args, fields[input.Name])
	}
	return Event{Name: ev.Name, Args: args, Fields: fields, Log: log}, nil
}

// ExtractEventArg returns argument index of the first log in receipt that
// carries event. A receipt without such a log yields ErrEventNotFound.
func (c *Client) ExtractEventArg(receipt *types.Receipt, event string, index int) (any, error) {
	ev, ok := c.abi.Events[event]
	if !ok {
		return nil, DataConversionError(fmt.Sprintf("unknown event %s", event), nil)
	}
	if receipt == nil {
		return nil, EventNotFoundError(event)
	}
	for _, log := range receipt.Logs {
		if log == nil || len(log.Topics) == 0 || log.Topics[0] != ev.ID {
			continue
		}
		if log.Address != c.cfg.Contract {
			continue
		}
		decoded, err := decodeAs(ev, *log)
		if err != nil {
			return nil, err
		}
		if index < 0 || index >= len(decoded.Args) {
			return nil, DataConversionError(fmt.Sprintf("%s has no argument %d", event, index), nil)
		}
		return decoded.Args[index], nil
	}
	return nil, EventNotFoundError(event)
}

// FilterEvents queries and decodes marketplace logs.
func (c *Client) FilterEvents(ctx context.Context, q EventQuery) ([]Event, error) {
	backend, _, err := c.handle()
	if err != nil {
		return nil, err
	}
	ev, ok := c.abi.Events[q.Event]
	if !ok {
		return nil, DataConversionError(fmt.Sprintf("unknown event %s", q.Event), nil)
	}
	topics := append([][]common.Hash{{ev.ID}}, q.Topics...)
	logs, err := backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(q.FromBlock),
		ToBlock:   new(big.Int).SetUint64(q.ToBlock),
		Addresses: []common.Address{c.cfg.Contract},
		Topics:    topics,
	})
	if err != nil {
		return nil, TranslateError(err)
	}
	observability.Events().RecordScanned(q.Event, len(logs))
	events := make([]Event, 0, len(logs))
	for _, log := range logs {
		decoded, err := decodeAs(ev, log)
		if err != nil {
			return nil, err
		}
		events = append(events, decoded)
	}
	return events, nil
}
