// Package book materialises marketplace assets from the ledger. A book is
// either rentable or sellable for its whole lifetime; the variant is selected
// by the discriminant stored next to the binary payload on-chain.
package book

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/text/unicode/norm"
)

// Kind is the on-chain discriminant of a book payload.
type Kind uint8

const (
	KindRentable Kind = 0
	KindSellable Kind = 1
)

func (k Kind) String() string {
	switch k {
	case KindRentable:
		return "rentable"
	case KindSellable:
		return "sellable"
	default:
		return "unknown"
	}
}

// Status is the lifecycle status of a book.
type Status string

const (
	StatusAvailable Status = "Available"
	StatusForRent   Status = "ForRent"
	StatusLent      Status = "Lent"
	StatusSold      Status = "Sold"
)

// LendingState is derived from the borrow start and the lending period.
type LendingState string

const (
	LendingNone    LendingState = ""
	LendingActive  LendingState = "Active"
	LendingOverdue LendingState = "Overdue"
)

// Genre is one of the fixed marketplace genres.
type Genre string

const (
	GenreFiction        Genre = "Fiction"
	GenreNonFiction     Genre = "NonFiction"
	GenreMystery        Genre = "Mystery"
	GenreFantasy        Genre = "Fantasy"
	GenreScienceFiction Genre = "ScienceFiction"
	GenreRomance        Genre = "Romance"
	GenreBiography      Genre = "Biography"
	GenreHistory        Genre = "History"
	GenreScience        Genre = "Science"
	GenrePoetry         Genre = "Poetry"
	GenreChildren       Genre = "Children"
	GenreOther          Genre = "Other"
)

var genres = []Genre{
	GenreFiction, GenreNonFiction, GenreMystery, GenreFantasy, GenreScienceFiction, GenreRomance,
	GenreBiography, GenreHistory, GenreScience, GenrePoetry, GenreChildren, GenreOther,
}

// Genres lists the accepted genres.
func Genres() []Genre {
	out := make([]Genre, len(genres))
	copy(out, genres)
	return out
}

// ParseGenre matches value case-insensitively after NFKC folding, ignoring
// separators. Unknown values map to GenreOther.
func ParseGenre(value string) Genre {
	folded := norm.NFKC.String(strings.ToLower(strings.TrimSpace(value)))
	normalized := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(folded))
	for _, g := range genres {
		if strings.ToLower(string(g)) == normalized {
			return g
		}
	}
	return GenreOther
}

// Book carries the fields shared by both variants.
type Book struct {
	ID              uint64         `json:"id"`
	Kind            Kind           `json:"kind"`
	Title           string         `json:"title"`
	Author          string         `json:"author"`
	Genre           Genre          `json:"genre"`
	PublicationYear int            `json:"publicationYear"`
	Description     string         `json:"description,omitempty"`
	CoverImage      string         `json:"coverImage,omitempty"`
	CoverColor      string         `json:"coverColor"`
	Status          Status         `json:"status"`
	Owner           common.Address `json:"owner"`
	Rating          float64        `json:"rating"`
	RatingCount     uint64         `json:"ratingCount"`
	MetadataURI     string         `json:"metadataUri"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// RentableBook is lent against a refundable deposit for a fixed period.
type RentableBook struct {
	Book
	Deposit           float64         `json:"depositAmount"`
	LendingPeriodDays uint64          `json:"lendingPeriod"`
	Borrower          *common.Address `json:"borrower,omitempty"`
	BorrowedAt        *time.Time      `json:"borrowedAt,omitempty"`
	LendingState      LendingState    `json:"lendingState,omitempty"`
}

// SellableBook is listed for a one-off purchase.
type SellableBook struct {
	Book
	Price float64 `json:"price"`
}

// Record is a materialised book of either variant.
type Record interface {
	Base() *Book
	isRecord()
}

func (b *RentableBook) Base() *Book { return &b.Book }
func (b *SellableBook) Base() *Book { return &b.Book }

func (*RentableBook) isRecord() {}
func (*SellableBook) isRecord() {}
