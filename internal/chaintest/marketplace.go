package chaintest

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"bookchain/book"
	"bookchain/chain"
)

// Revert reasons raised by the simulated contract.
const (
	ReasonNotRegistered   = "user not registered"
	ReasonNotAdmin        = "caller is not an admin"
	ReasonPaused          = "operation is paused"
	ReasonUnknownBook     = "book does not exist"
	ReasonWrongVariant    = "wrong book type"
	ReasonUnavailable     = "book not available"
	ReasonWrongValue      = "incorrect payment amount"
	ReasonNotBorrower     = "caller is not the borrower"
	ReasonOwnBook         = "owner cannot take own book"
	ReasonBadRating       = "rating out of range"
	ReasonAlreadyVoted    = "already voted"
	ReasonUnknownProposal = "proposal does not exist"
	ReasonClosedProposal  = "proposal is closed"
)

// Proposal change types understood by the simulated contract.
const (
	ChangeAddAdmin uint8 = iota
	ChangeRemoveAdmin
)

var (
	// RentableVariant and SellableVariant are the variant contract
	// references getBookDetails reports.
	RentableVariant = common.HexToAddress("0x00000000000000000000000000000000000b0001")
	SellableVariant = common.HexToAddress("0x00000000000000000000000000000000000b0002")
)

type simBook struct {
	kind     book.Kind
	owner    common.Address
	raw      []byte
	payload  book.Payload
	override bool
}

type simUser struct {
	registered bool
	banned     bool
	trust      uint8
	admin      bool
}

type simProposal struct {
	changeType uint8
	target     common.Address
	proposer   common.Address
	approvals  uint64
	rejections uint64
	executed   bool
	rejected   bool
	voted      map[common.Address]bool
}

// Marketplace simulates the marketplace contract on top of a Node.
type Marketplace struct {
	mu        sync.Mutex
	books     map[uint64]*simBook
	nextBook  uint64
	users     map[common.Address]*simUser
	paused    map[uint8]bool
	allPaused bool
	proposals map[uint64]*simProposal
	nextProp  uint64
	quorum    uint64
}

// NewMarketplace registers the contract handlers on node. Proposals execute
// or reject once quorum votes agree.
func NewMarketplace(node *Node, quorum uint64) *Marketplace {
	if quorum == 0 {
		quorum = 1
	}
	m := &Marketplace{
		books:     make(map[uint64]*simBook),
		nextBook:  1,
		users:     make(map[common.Address]*simUser),
		paused:    make(map[uint8]bool),
		proposals: make(map[uint64]*simProposal),
		nextProp:  1,
		quorum:    quorum,
	}

	node.HandleRead(chain.MethodGetAllBookIDs, m.readIDs)
	node.HandleRead(chain.MethodGetBookDetails, m.readDetails)
	node.HandleRead(chain.MethodOwnerOf, m.readOwner)
	node.HandleRead(chain.MethodGetRating, m.readRating)
	node.HandleRead(chain.MethodGetUserInfo, m.readUser)
	node.HandleRead(chain.MethodIsOperationPaused, m.readPaused)
	node.HandleRead(chain.MethodAllPaused, m.readAllPaused)
	node.HandleRead(chain.MethodGetPendingProposals, m.readPending)
	node.HandleRead(chain.MethodGetProposalInfo, m.readProposal)
	node.HandleRead(chain.MethodHasVoted, m.readVoted)

	node.HandleWrite(chain.MethodCreateRentableBook, m.checkCreate(0), m.applyCreateRentable)
	node.HandleWrite(chain.MethodCreateSellableBook, m.checkCreate(1), m.applyCreateSellable)
	node.HandleWrite(chain.MethodBorrowBook, m.checkBorrow, m.applyBorrow)
	node.HandleWrite(chain.MethodReturnBook, m.checkReturn, m.applyReturn)
	node.HandleWrite(chain.MethodBuyBook, m.checkBuy, m.applyBuy)
	node.HandleWrite(chain.MethodRateRentableBook, m.checkRate(book.KindRentable), m.applyRate)
	node.HandleWrite(chain.MethodRateSellableBook, m.checkRate(book.KindSellable), m.applyRate)
	node.HandleWrite(chain.MethodRegisterUser, nil, m.applyRegister)
	node.HandleWrite(chain.MethodPauseOperation, m.checkAdmin, m.applyPause(true))
	node.HandleWrite(chain.MethodUnpauseOperation, m.checkAdmin, m.applyPause(false))
	node.HandleWrite(chain.MethodPauseAll, m.checkAdmin, m.applyPauseAll(true))
	node.HandleWrite(chain.MethodUnpauseAll, m.checkAdmin, m.applyPauseAll(false))
	node.HandleWrite(chain.MethodProposeAdminChange, m.checkAdmin, m.applyPropose)
	node.HandleWrite(chain.MethodApproveProposal, m.checkVote, m.applyVote(true))
	node.HandleWrite(chain.MethodRejectProposal, m.checkVote, m.applyVote(false))
	return m
}

// Register marks account as a registered user.
func (m *Marketplace) Register(account common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user(account).registered = true
}

// MakeAdmin registers account and grants it admin rights.
func (m *Marketplace) MakeAdmin(account common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.user(account)
	u.registered = true
	u.admin = true
}

// Ban restricts account.
func (m *Marketplace) Ban(account common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user(account).banned = true
}

// SetPaused toggles one operation category directly.
func (m *Marketplace) SetPaused(category uint8, paused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused[category] = paused
}

// Corrupt overrides the stored payload of a book with raw bytes and kind.
func (m *Marketplace) Corrupt(id uint64, kind book.Kind, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		b = &simBook{}
		m.books[id] = b
		if id >= m.nextBook {
			m.nextBook = id + 1
		}
	}
	b.kind = kind
	b.raw = raw
	b.override = true
}

// Payload returns the current payload of a book.
func (m *Marketplace) Payload(id uint64) (book.Payload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return book.Payload{}, false
	}
	return b.payload, true
}

func (m *Marketplace) user(account common.Address) *simUser {
	u, ok := m.users[account]
	if !ok {
		u = &simUser{trust: 1}
		m.users[account] = u
	}
	return u
}

func (m *Marketplace) lookup(call Call) (*simBook, error) {
	b, ok := m.books[call.Uint(0)]
	if !ok || b.override {
		return nil, Revert(ReasonUnknownBook)
	}
	return b, nil
}

func (m *Marketplace) active(account common.Address, category uint8) error {
	u := m.user(account)
	switch {
	case u.banned:
		return Revert(chain.BannedRevertMarker)
	case !u.registered:
		return Revert(ReasonNotRegistered)
	case m.allPaused || m.paused[category]:
		return Revert(ReasonPaused)
	}
	return nil
}

func (m *Marketplace) readIDs(Call) ([]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint64, 0, len(m.books))
	for id := range m.books {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*big.Int, 0, len(ids))
	for _, id := range ids {
		out = append(out, new(big.Int).SetUint64(id))
	}
	return []any{out}, nil
}

func (m *Marketplace) readDetails(call Call) ([]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[call.Uint(0)]
	if !ok {
		return nil, Revert(ReasonUnknownBook)
	}
	variant := RentableVariant
	if b.kind == book.KindSellable {
		variant = SellableVariant
	}
	if b.override {
		return []any{variant, uint8(b.kind), b.raw}, nil
	}
	data, err := book.EncodePayload(b.payload)
	if err != nil {
		return nil, err
	}
	return []any{variant, uint8(b.kind), data}, nil
}

func (m *Marketplace) readOwner(call Call) ([]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[call.Uint(0)]
	if !ok {
		return nil, Revert(ReasonUnknownBook)
	}
	return []any{b.owner}, nil
}

func (m *Marketplace) readRating(call Call) ([]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.lookup(call)
	if err != nil {
		return nil, err
	}
	return []any{b.payload.Base.RatingSum, b.payload.Base.RatingCount}, nil
}

func (m *Marketplace) readUser(call Call) ([]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[call.Args[0].(common.Address)]
	if !ok {
		return []any{false, false, uint8(0), false}, nil
	}
	return []any{u.registered, u.banned, u.trust, u.admin}, nil
}

func (m *Marketplace) readPaused(call Call) ([]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return []any{m.paused[call.Args[0].(uint8)]}, nil
}

func (m *Marketplace) readAllPaused(Call) ([]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return []any{m.allPaused}, nil
}

func (m *Marketplace) readPending(Call) ([]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*big.Int
	for id := uint64(1); id < m.nextProp; id++ {
		p := m.proposals[id]
		if p != nil && !p.executed && !p.rejected {
			out = append(out, new(big.Int).SetUint64(id))
		}
	}
	if out == nil {
		out = []*big.Int{}
	}
	return []any{out}, nil
}

func (m *Marketplace) readProposal(call Call) ([]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[call.Uint(0)]
	if !ok {
		return nil, Revert(ReasonUnknownProposal)
	}
	return []any{
		p.changeType, p.target, p.proposer,
		new(big.Int).SetUint64(p.approvals), new(big.Int).SetUint64(p.rejections),
		p.executed, p.rejected,
	}, nil
}

func (m *Marketplace) readVoted(call Call) ([]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[call.Uint(0)]
	if !ok {
		return []any{false}, nil
	}
	return []any{p.voted[call.From]}, nil
}

func (m *Marketplace) checkCreate(category uint8) CheckFunc {
	return func(call Call) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.active(call.From, category)
	}
}

func (m *Marketplace) create(call Call, terms book.Terms) []*types.Log {
	id := m.nextBook
	m.nextBook++
	uri := call.Args[0].(string)
	m.books[id] = &simBook{
		kind:  terms.Kind(),
		owner: call.From,
		payload: book.Payload{
			Base:  book.BaseTuple{MetadataURI: uri, RatingSum: new(big.Int), RatingCount: new(big.Int)},
			Terms: terms,
		},
	}
	return []*types.Log{EventLog(chain.EventBookCreated, new(big.Int).SetUint64(id), uint8(terms.Kind()), uri)}
}

func (m *Marketplace) applyCreateRentable(call Call) ([]*types.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.create(call, &book.RentalTerms{
		Deposit:           call.Args[1].(*big.Int),
		LendingPeriodDays: call.Args[2].(*big.Int),
		BorrowStart:       new(big.Int),
	}), nil
}

func (m *Marketplace) applyCreateSellable(call Call) ([]*types.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.create(call, &book.SaleTerms{Price: call.Args[1].(*big.Int), ForSale: true}), nil
}

func (m *Marketplace) checkBorrow(call Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.active(call.From, 2); err != nil {
		return err
	}
	b, err := m.lookup(call)
	if err != nil {
		return err
	}
	terms, ok := b.payload.Terms.(*book.RentalTerms)
	switch {
	case !ok:
		return Revert(ReasonWrongVariant)
	case b.owner == call.From:
		return Revert(ReasonOwnBook)
	case terms.Borrower != (common.Address{}):
		return Revert(ReasonUnavailable)
	case call.Value.Cmp(terms.Deposit) != 0:
		return Revert(ReasonWrongValue)
	}
	return nil
}

func (m *Marketplace) applyBorrow(call Call) ([]*types.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.lookup(call)
	if err != nil {
		return nil, err
	}
	terms := b.payload.Terms.(*book.RentalTerms)
	terms.Borrower = call.From
	terms.BorrowStart = new(big.Int).SetUint64(call.Time)
	return []*types.Log{EventLog(chain.EventBookBorrowed, new(big.Int).SetUint64(call.Uint(0)), call.From, terms.Deposit)}, nil
}

func (m *Marketplace) checkReturn(call Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user(call.From).banned {
		return Revert(chain.BannedRevertMarker)
	}
	if m.allPaused || m.paused[3] {
		return Revert(ReasonPaused)
	}
	b, err := m.lookup(call)
	if err != nil {
		return err
	}
	terms, ok := b.payload.Terms.(*book.RentalTerms)
	if !ok {
		return Revert(ReasonWrongVariant)
	}
	if terms.Borrower != call.From {
		return Revert(ReasonNotBorrower)
	}
	return nil
}

func (m *Marketplace) applyReturn(call Call) ([]*types.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.lookup(call)
	if err != nil {
		return nil, err
	}
	terms := b.payload.Terms.(*book.RentalTerms)
	terms.Borrower = common.Address{}
	terms.BorrowStart = new(big.Int)
	return []*types.Log{EventLog(chain.EventBookReturned, new(big.Int).SetUint64(call.Uint(0)), call.From)}, nil
}

func (m *Marketplace) checkBuy(call Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.active(call.From, 4); err != nil {
		return err
	}
	b, err := m.lookup(call)
	if err != nil {
		return err
	}
	terms, ok := b.payload.Terms.(*book.SaleTerms)
	switch {
	case !ok:
		return Revert(ReasonWrongVariant)
	case b.owner == call.From:
		return Revert(ReasonOwnBook)
	case !terms.ForSale:
		return Revert(ReasonUnavailable)
	case call.Value.Cmp(terms.Price) != 0:
		return Revert(ReasonWrongValue)
	}
	return nil
}

func (m *Marketplace) applyBuy(call Call) ([]*types.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.lookup(call)
	if err != nil {
		return nil, err
	}
	terms := b.payload.Terms.(*book.SaleTerms)
	seller := b.owner
	b.owner = call.From
	terms.ForSale = false
	return []*types.Log{EventLog(chain.EventBookPurchased, new(big.Int).SetUint64(call.Uint(0)), call.From, seller, terms.Price)}, nil
}

func (m *Marketplace) checkRate(kind book.Kind) CheckFunc {
	return func(call Call) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		u := m.user(call.From)
		if u.banned {
			return Revert(chain.BannedRevertMarker)
		}
		if !u.registered {
			return Revert(ReasonNotRegistered)
		}
		b, err := m.lookup(call)
		if err != nil {
			return err
		}
		if b.kind != kind {
			return Revert(ReasonWrongVariant)
		}
		if rating := call.Args[1].(*big.Int); rating.Sign() < 0 || rating.Cmp(big.NewInt(book.MaxRating*book.RatingScale)) > 0 {
			return Revert(ReasonBadRating)
		}
		return nil
	}
}

func (m *Marketplace) applyRate(call Call) ([]*types.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.lookup(call)
	if err != nil {
		return nil, err
	}
	base := &b.payload.Base
	base.RatingSum = new(big.Int).Add(base.RatingSum, call.Args[1].(*big.Int))
	base.RatingCount = new(big.Int).Add(base.RatingCount, big.NewInt(1))
	return nil, nil
}

func (m *Marketplace) applyRegister(call Call) ([]*types.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.user(call.From)
	if u.banned {
		return nil, Revert(chain.BannedRevertMarker)
	}
	u.registered = true
	return nil, nil
}

func (m *Marketplace) checkAdmin(call Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.user(call.From).admin {
		return Revert(ReasonNotAdmin)
	}
	return nil
}

func (m *Marketplace) applyPause(paused bool) ApplyFunc {
	return func(call Call) ([]*types.Log, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.paused[call.Args[0].(uint8)] = paused
		return nil, nil
	}
}

func (m *Marketplace) applyPauseAll(paused bool) ApplyFunc {
	return func(Call) ([]*types.Log, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.allPaused = paused
		return nil, nil
	}
}

func (m *Marketplace) applyPropose(call Call) ([]*types.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextProp
	m.nextProp++
	changeType := call.Args[0].(uint8)
	target := call.Args[1].(common.Address)
	m.proposals[id] = &simProposal{
		changeType: changeType,
		target:     target,
		proposer:   call.From,
		voted:      make(map[common.Address]bool),
	}
	return []*types.Log{EventLog(chain.EventProposalCreated, new(big.Int).SetUint64(id), changeType, target)}, nil
}

func (m *Marketplace) checkVote(call Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.user(call.From).admin {
		return Revert(ReasonNotAdmin)
	}
	p, ok := m.proposals[call.Uint(0)]
	switch {
	case !ok:
		return Revert(ReasonUnknownProposal)
	case p.executed || p.rejected:
		return Revert(ReasonClosedProposal)
	case p.voted[call.From]:
		return Revert(ReasonAlreadyVoted)
	}
	return nil
}

func (m *Marketplace) applyVote(approve bool) ApplyFunc {
	return func(call Call) ([]*types.Log, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		p := m.proposals[call.Uint(0)]
		p.voted[call.From] = true
		if !approve {
			p.rejections++
			p.rejected = p.rejections >= m.quorum
			return nil, nil
		}
		p.approvals++
		if p.approvals < m.quorum {
			return nil, nil
		}
		p.executed = true
		target := m.user(p.target)
		switch p.changeType {
		case ChangeAddAdmin:
			target.admin = true
			target.registered = true
		case ChangeRemoveAdmin:
			target.admin = false
		default:
			return nil, Revert(fmt.Sprintf("unknown change type %d", p.changeType))
		}
		return nil, nil
	}
}
