package book

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"bookchain/chain"
	"bookchain/metadata"
)

const (
	day = 24 * time.Hour

	FallbackTitle      = "Unknown Book"
	FallbackAuthor     = "Unknown Author"
	DefaultCoverColor  = "#4A5568"
	millisecondEpochAt = 1_000_000_000_000
)

// Decoder turns (discriminant, payload, owner) triples into typed records,
// merging the off-chain metadata the payload points at.
type Decoder struct {
	metadata metadata.Fetcher
	now      func() time.Time
	logger   *slog.Logger
}

// DecoderOption customises a Decoder.
type DecoderOption func(*Decoder)

// WithClock sets the function used to derive overdue state and fallback years.
func WithClock(clock func() time.Time) DecoderOption {
	return func(d *Decoder) { d.now = clock }
}

// WithDecoderLogger sets the logger used to report metadata fallbacks.
func WithDecoderLogger(l *slog.Logger) DecoderOption {
	return func(d *Decoder) { d.logger = l }
}

// NewDecoder constructs a decoder reading metadata through fetcher.
func NewDecoder(fetcher metadata.Fetcher, opts ...DecoderOption) *Decoder {
	d := &Decoder{metadata: fetcher, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// FallbackMetadata is substituted when a book's metadata cannot be fetched.
func FallbackMetadata(now time.Time) metadata.Record {
	return metadata.Record{
		Title:           FallbackTitle,
		Author:          FallbackAuthor,
		Genre:           string(GenreOther),
		PublicationYear: now.Year(),
		CoverColor:      DefaultCoverColor,
	}
}

// Decode decodes data with the shape kind selects and materialises the book.
// A payload that does not match its shape fails with chain.ErrDataConversion;
// metadata failures never fail the decode.
func (d *Decoder) Decode(ctx context.Context, id uint64, kind Kind, data []byte, owner common.Address) (Record, error) {
	payload, err := DecodePayload(kind, data)
	if err != nil {
		return nil, fmt.Errorf("book %d: %w", id, err)
	}
	return d.Materialize(ctx, id, owner, payload)
}

// Materialize builds the record for an already decoded payload.
func (d *Decoder) Materialize(ctx context.Context, id uint64, owner common.Address, payload Payload) (Record, error) {
	now := d.now()
	meta := d.describe(ctx, id, payload.Base.MetadataURI, now)
	base := Book{
		ID:              id,
		Title:           meta.Title,
		Author:          meta.Author,
		Genre:           ParseGenre(meta.Genre),
		PublicationYear: meta.PublicationYear,
		Description:     meta.Description,
		CoverImage:      meta.CoverImage,
		CoverColor:      meta.CoverColor,
		Owner:           owner,
		Rating:          AverageRating(payload.Base.RatingSum, payload.Base.RatingCount),
		MetadataURI:     payload.Base.MetadataURI,
		CreatedAt:       createdAt(meta.CreatedAt, now),
	}
	if base.CoverColor == "" {
		base.CoverColor = DefaultCoverColor
	}
	if count := payload.Base.RatingCount; count != nil && count.IsUint64() {
		base.RatingCount = count.Uint64()
	}

	switch terms := payload.Terms.(type) {
	case *RentalTerms:
		book, err := rentable(base, terms, now)
		if err != nil {
			return nil, err
		}
		return book, nil
	case *SaleTerms:
		return sellable(base, terms), nil
	default:
		return nil, chain.DataConversionError(fmt.Sprintf("book %d: payload terms missing", id), nil)
	}
}

func (d *Decoder) describe(ctx context.Context, id uint64, uri string, now time.Time) metadata.Record {
	record, err := metadata.FetchOrFallback(ctx, d.metadata, uri, func() metadata.Record {
		return FallbackMetadata(now)
	})
	if err != nil {
		d.logger.Warn("book metadata unavailable, using fallback",
			slog.Uint64("book_id", id),
			slog.String("metadata_uri", uri),
			slog.String("error", err.Error()))
	}
	return record
}

func rentable(base Book, terms *RentalTerms, now time.Time) (*RentableBook, error) {
	base.Kind = KindRentable
	period, err := toUint64(terms.LendingPeriodDays, "lending period")
	if err != nil {
		return nil, fmt.Errorf("book %d: %w", base.ID, err)
	}
	book := &RentableBook{
		Book:              base,
		Deposit:           chain.NativeToFloat(terms.Deposit),
		LendingPeriodDays: period,
	}
	if (terms.Borrower == common.Address{}) {
		book.Status = StatusForRent
		return book, nil
	}
	borrower := terms.Borrower
	book.Status = StatusLent
	book.Borrower = &borrower
	start, err := toUint64(terms.BorrowStart, "borrow start")
	if err != nil {
		return nil, fmt.Errorf("book %d: %w", base.ID, err)
	}
	if start > 0 {
		borrowedAt := time.Unix(int64(start), 0).UTC()
		book.BorrowedAt = &borrowedAt
		book.LendingState = LendingActive
		if IsOverdue(borrowedAt, period, now) {
			book.LendingState = LendingOverdue
		}
	}
	return book, nil
}

func sellable(base Book, terms *SaleTerms) *SellableBook {
	base.Kind = KindSellable
	base.Status = StatusSold
	if terms.ForSale {
		base.Status = StatusAvailable
	}
	return &SellableBook{Book: base, Price: chain.NativeToFloat(terms.Price)}
}

// IsOverdue reports whether now is strictly past start plus periodDays.
// Periods too long for a time.Duration are never overdue.
func IsOverdue(start time.Time, periodDays uint64, now time.Time) bool {
	if periodDays > uint64(math.MaxInt64/int64(day)) {
		return false
	}
	return now.After(start.Add(time.Duration(periodDays) * day))
}

func toUint64(v *big.Int, field string) (uint64, error) {
	if v == nil {
		return 0, nil
	}
	if !v.IsUint64() {
		return 0, chain.DataConversionError(fmt.Sprintf("%s %s out of range", field, v), nil)
	}
	return v.Uint64(), nil
}

func createdAt(raw int64, now time.Time) time.Time {
	switch {
	case raw <= 0:
		return now.UTC()
	case raw >= millisecondEpochAt:
		return time.UnixMilli(raw).UTC()
	default:
		return time.Unix(raw, 0).UTC()
	}
}
