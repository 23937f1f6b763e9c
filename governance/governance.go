// Package governance reads and toggles the marketplace pause switches and
// drives the admin-change proposal vote. Authorisation and vote thresholds
// are enforced by the contract; this package only reads tallies and submits
// single actions.
package governance

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"bookchain/chain"
	"bookchain/observability"
)

// Chain is the contract access governance needs. *chain.Client satisfies it.
type Chain interface {
	Call(ctx context.Context, method string, args ...any) ([]any, error)
	Submit(ctx context.Context, method string, args ...any) (*types.Receipt, error)
	ExtractEventArg(receipt *types.Receipt, event string, index int) (any, error)
}

// ServiceStatus is the pause state of every operation category plus the
// global switch.
type ServiceStatus struct {
	AllPaused bool              `json:"allPaused"`
	Paused    map[Category]bool `json:"paused"`
}

// Available reports whether c may currently be used.
func (s ServiceStatus) Available(c Category) bool {
	return !s.AllPaused && !s.Paused[c]
}

// Proposal is the current state of an admin-change proposal.
type Proposal struct {
	ID            uint64         `json:"id"`
	Type          ChangeType     `json:"type"`
	Target        common.Address `json:"target"`
	Proposer      common.Address `json:"proposer"`
	Approvals     uint64         `json:"approvals"`
	Rejections    uint64         `json:"rejections"`
	State         ProposalState  `json:"state"`
	VotedByCaller bool           `json:"votedByCaller"`
}

// Service is the governance reader-writer.
type Service struct {
	chain   Chain
	logger  *slog.Logger
	metrics *observability.GovernanceMetrics
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *observability.GovernanceMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService constructs a Service over c.
func NewService(c Chain, opts ...Option) *Service {
	s := &Service{chain: c, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observability.Governance()
	}
	return s
}

// IsOperationPaused reads the pause flag of c. A failed read is logged and
// reports the operation as not paused; the contract still rejects a paused
// operation on submit.
func (s *Service) IsOperationPaused(ctx context.Context, c Category) bool {
	out, err := s.chain.Call(ctx, chain.MethodIsOperationPaused, uint8(c))
	if err == nil {
		var paused bool
		if paused, err = chain.OutBool(out, 0); err == nil {
			return paused
		}
	}
	s.failOpen(c.String(), err)
	return false
}

// AreAllPaused reads the global pause flag, failing open like
// IsOperationPaused.
func (s *Service) AreAllPaused(ctx context.Context) bool {
	out, err := s.chain.Call(ctx, chain.MethodAllPaused)
	if err == nil {
		var paused bool
		if paused, err = chain.OutBool(out, 0); err == nil {
			return paused
		}
	}
	s.failOpen("all", err)
	return false
}

func (s *Service) failOpen(category string, err error) {
	s.metrics.RecordFailOpen(category)
	s.logger.Warn("pause flag unreadable, assuming not paused",
		slog.String("category", category),
		slog.String("kind", chain.KindOf(err)),
		slog.String("error", err.Error()))
}

// Status reads every pause flag.
func (s *Service) Status(ctx context.Context) ServiceStatus {
	status := ServiceStatus{AllPaused: s.AreAllPaused(ctx), Paused: make(map[Category]bool)}
	for _, c := range Categories() {
		status.Paused[c] = s.IsOperationPaused(ctx, c)
	}
	return status
}

// Available combines the global flag with the flag of c.
func (s *Service) Available(ctx context.Context, c Category) bool {
	return !s.AreAllPaused(ctx) && !s.IsOperationPaused(ctx, c)
}

// Pause stops operation c. The caller must be a contract admin.
func (s *Service) Pause(ctx context.Context, c Category) error {
	return s.toggle(ctx, chain.MethodPauseOperation, c)
}

// Unpause resumes operation c.
func (s *Service) Unpause(ctx context.Context, c Category) error {
	return s.toggle(ctx, chain.MethodUnpauseOperation, c)
}

func (s *Service) toggle(ctx context.Context, method string, c Category) error {
	if !c.Valid() {
		return chain.OperationFailed(fmt.Sprintf("unknown category %d", c), nil)
	}
	if _, err := s.chain.Submit(ctx, method, uint8(c)); err != nil {
		return err
	}
	s.logger.Info("pause switch updated", slog.String("method", method), slog.String("category", c.String()))
	return nil
}

// PauseAll engages the global switch.
func (s *Service) PauseAll(ctx context.Context) error {
	_, err := s.chain.Submit(ctx, chain.MethodPauseAll)
	return err
}

// UnpauseAll releases the global switch.
func (s *Service) UnpauseAll(ctx context.Context) error {
	_, err := s.chain.Submit(ctx, chain.MethodUnpauseAll)
	return err
}

// Pending lists the proposals still collecting votes.
func (s *Service) Pending(ctx context.Context) ([]Proposal, error) {
	out, err := s.chain.Call(ctx, chain.MethodGetPendingProposals)
	if err != nil {
		return nil, err
	}
	ids, err := chain.OutUint64Slice(out, 0)
	if err != nil {
		return nil, err
	}
	proposals := make([]Proposal, 0, len(ids))
	for _, id := range ids {
		p, err := s.Proposal(ctx, id)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	return proposals, nil
}

// Proposal reads one proposal and whether the session account voted on it.
func (s *Service) Proposal(ctx context.Context, id uint64) (Proposal, error) {
	arg := new(big.Int).SetUint64(id)
	out, err := s.chain.Call(ctx, chain.MethodGetProposalInfo, arg)
	if err != nil {
		return Proposal{}, err
	}
	p := Proposal{ID: id}
	changeType, err := chain.OutUint8(out, 0)
	if err != nil {
		return Proposal{}, err
	}
	p.Type = ChangeType(changeType)
	if p.Target, err = chain.OutAddress(out, 1); err != nil {
		return Proposal{}, err
	}
	if p.Proposer, err = chain.OutAddress(out, 2); err != nil {
		return Proposal{}, err
	}
	if p.Approvals, err = chain.OutUint64(out, 3); err != nil {
		return Proposal{}, err
	}
	if p.Rejections, err = chain.OutUint64(out, 4); err != nil {
		return Proposal{}, err
	}
	executed, err := chain.OutBool(out, 5)
	if err != nil {
		return Proposal{}, err
	}
	rejected, err := chain.OutBool(out, 6)
	if err != nil {
		return Proposal{}, err
	}
	p.State = stateOf(executed, rejected)

	voted, err := s.chain.Call(ctx, chain.MethodHasVoted, arg)
	if err != nil {
		return Proposal{}, err
	}
	if p.VotedByCaller, err = chain.OutBool(voted, 0); err != nil {
		return Proposal{}, err
	}
	return p, nil
}

// Propose submits an admin-change proposal and returns its id.
func (s *Service) Propose(ctx context.Context, change ChangeType, target common.Address) (uint64, error) {
	receipt, err := s.chain.Submit(ctx, chain.MethodProposeAdminChange, uint8(change), target)
	if err != nil {
		return 0, err
	}
	raw, err := s.chain.ExtractEventArg(receipt, chain.EventProposalCreated, 0)
	if err != nil {
		return 0, err
	}
	id, ok := raw.(*big.Int)
	if !ok || !id.IsUint64() {
		return 0, chain.DataConversionError("proposal id is not a uint64", nil)
	}
	s.logger.Info("admin change proposed",
		slog.Uint64("proposal_id", id.Uint64()),
		slog.String("type", change.String()),
		slog.String("target", target.Hex()))
	return id.Uint64(), nil
}

// Approve casts an approving vote.
func (s *Service) Approve(ctx context.Context, id uint64) error {
	_, err := s.chain.Submit(ctx, chain.MethodApproveProposal, new(big.Int).SetUint64(id))
	return err
}

// Reject casts a rejecting vote.
func (s *Service) Reject(ctx context.Context, id uint64) error {
	_, err := s.chain.Submit(ctx, chain.MethodRejectProposal, new(big.Int).SetUint64(id))
	return err
}
