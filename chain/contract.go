package chain

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Marketplace contract methods.
const (
	MethodCreateRentableBook = "createRentableBook"
	MethodCreateSellableBook = "createSellableBook"
	MethodBorrowBook         = "borrowBook"
	MethodReturnBook         = "returnBook"
	MethodBuyBook            = "buyBook"
	MethodRateRentableBook   = "rateRentableBook"
	MethodRateSellableBook   = "rateSellableBook"
	MethodRegisterUser       = "registerUser"
	MethodPauseOperation     = "pauseOperation"
	MethodUnpauseOperation   = "unpauseOperation"
	MethodPauseAll           = "pauseAll"
	MethodUnpauseAll         = "unpauseAll"
	MethodProposeAdminChange = "proposeAdminChange"
	MethodApproveProposal    = "approveProposal"
	MethodRejectProposal     = "rejectProposal"

	MethodGetAllBookIDs       = "getAllBookIds"
	MethodGetBookDetails      = "getBookDetails"
	MethodOwnerOf             = "ownerOf"
	MethodGetRating           = "getRating"
	MethodGetUserInfo         = "getUserInfo"
	MethodIsOperationPaused   = "isOperationPaused"
	MethodAllPaused           = "allPaused"
	MethodGetPendingProposals = "getPendingProposals"
	MethodGetProposalInfo     = "getProposalInfo"
	MethodHasVoted            = "hasVoted"
)

// Marketplace contract events.
const (
	EventBookCreated     = "BookCreated"
	EventBookBorrowed    = "BookBorrowed"
	EventBookReturned    = "BookReturned"
	EventBookPurchased   = "BookPurchased"
	EventProposalCreated = "ProposalCreated"
)

const marketplaceABI = `[
  {"type":"function","name":"createRentableBook","stateMutability":"nonpayable","inputs":[{"name":"metadataURI","type":"string"},{"name":"deposit","type":"uint256"},{"name":"lendingPeriod","type":"uint256"}],"outputs":[{"name":"bookId","type":"uint256"}]},
  {"type":"function","name":"createSellableBook","stateMutability":"nonpayable","inputs":[{"name":"metadataURI","type":"string"},{"name":"price","type":"uint256"}],"outputs":[{"name":"bookId","type":"uint256"}]},
  {"type":"function","name":"borrowBook","stateMutability":"payable","inputs":[{"name":"bookId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"returnBook","stateMutability":"nonpayable","inputs":[{"name":"bookId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"buyBook","stateMutability":"payable","inputs":[{"name":"bookId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"rateRentableBook","stateMutability":"nonpayable","inputs":[{"name":"bookId","type":"uint256"},{"name":"rating","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"rateSellableBook","stateMutability":"nonpayable","inputs":[{"name":"bookId","type":"uint256"},{"name":"rating","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"registerUser","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"pauseOperation","stateMutability":"nonpayable","inputs":[{"name":"category","type":"uint8"}],"outputs":[]},
  {"type":"function","name":"unpauseOperation","stateMutability":"nonpayable","inputs":[{"name":"category","type":"uint8"}],"outputs":[]},
  {"type":"function","name":"pauseAll","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"unpauseAll","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"proposeAdminChange","stateMutability":"nonpayable","inputs":[{"name":"changeType","type":"uint8"},{"name":"target","type":"address"}],"outputs":[{"name":"proposalId","type":"uint256"}]},
  {"type":"function","name":"approveProposal","stateMutability":"nonpayable","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"rejectProposal","stateMutability":"nonpayable","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"getAllBookIds","stateMutability":"view","inputs":[],"outputs":[{"name":"ids","type":"uint256[]"}]},
  {"type":"function","name":"getBookDetails","stateMutability":"view","inputs":[{"name":"bookId","type":"uint256"}],"outputs":[{"name":"variantContract","type":"address"},{"name":"bookType","type":"uint8"},{"name":"data","type":"bytes"}]},
  {"type":"function","name":"ownerOf","stateMutability":"view","inputs":[{"name":"bookId","type":"uint256"}],"outputs":[{"name":"owner","type":"address"}]},
  {"type":"function","name":"getRating","stateMutability":"view","inputs":[{"name":"bookId","type":"uint256"}],"outputs":[{"name":"sum","type":"uint256"},{"name":"count","type":"uint256"}]},
  {"type":"function","name":"getUserInfo","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"registered","type":"bool"},{"name":"banned","type":"bool"},{"name":"trustLevel","type":"uint8"},{"name":"isAdmin","type":"bool"}]},
  {"type":"function","name":"isOperationPaused","stateMutability":"view","inputs":[{"name":"category","type":"uint8"}],"outputs":[{"name":"paused","type":"bool"}]},
  {"type":"function","name":"allPaused","stateMutability":"view","inputs":[],"outputs":[{"name":"paused","type":"bool"}]},
  {"type":"function","name":"getPendingProposals","stateMutability":"view","inputs":[],"outputs":[{"name":"ids","type":"uint256[]"}]},
  {"type":"function","name":"getProposalInfo","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[{"name":"changeType","type":"uint8"},{"name":"target","type":"address"},{"name":"proposer","type":"address"},{"name":"approvals","type":"uint256"},{"name":"rejections","type":"uint256"},{"name":"executed","type":"bool"},{"name":"rejected","type":"bool"}]},
  {"type":"function","name":"hasVoted","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[{"name":"voted","type":"bool"}]},
  {"type":"event","name":"BookCreated","anonymous":false,"inputs":[{"name":"bookId","type":"uint256","indexed":true},{"name":"bookType","type":"uint8","indexed":false},{"name":"metadataURI","type":"string","indexed":false}]},
  {"type":"event","name":"BookBorrowed","anonymous":false,"inputs":[{"name":"bookId","type":"uint256","indexed":true},{"name":"borrower","type":"address","indexed":true},{"name":"deposit","type":"uint256","indexed":false}]},
  {"type":"event","name":"BookReturned","anonymous":false,"inputs":[{"name":"bookId","type":"uint256","indexed":true},{"name":"borrower","type":"address","indexed":true}]},
  {"type":"event","name":"BookPurchased","anonymous":false,"inputs":[{"name":"bookId","type":"uint256","indexed":true},{"name":"buyer","type":"address","indexed":true},{"name":"seller","type":"address","indexed":true},{"name":"price","type":"uint256","indexed":false}]},
  {"type":"event","name":"ProposalCreated","anonymous":false,"inputs":[{"name":"proposalId","type":"uint256","indexed":true},{"name":"changeType","type":"uint8","indexed":false},{"name":"target","type":"address","indexed":true}]}
]`

var (
	contractOnce sync.Once
	contractABI  abi.ABI
	contractErr  error
)

// ContractABI returns the parsed marketplace contract interface.
func ContractABI() abi.ABI {
	contractOnce.Do(func() {
		contractABI, contractErr = abi.JSON(strings.NewReader(marketplaceABI))
	})
	if contractErr != nil {
		panic("chain: invalid marketplace abi: " + contractErr.Error())
	}
	return contractABI
}
