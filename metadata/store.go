// Package metadata talks to the off-chain content store that holds the
// descriptive part of a book (title, author, cover...). The ledger only keeps
// a content identifier pointing here.
package metadata

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when no content exists for an identifier.
var ErrNotFound = errors.New("metadata: content not found")

// Record is the descriptive metadata document of a book.
type Record struct {
	Title           string `json:"title"`
	Author          string `json:"author"`
	Genre           string `json:"genre"`
	PublicationYear int    `json:"publicationYear"`
	Description     string `json:"description,omitempty"`
	CoverImage      string `json:"coverImage,omitempty"`
	CoverColor      string `json:"coverColor,omitempty"`
	CreatedAt       int64  `json:"createdAt,omitempty"`
}

// Fetcher resolves a content identifier into a metadata record.
type Fetcher interface {
	Fetch(ctx context.Context, cid string) (Record, error)
}

// Store is the full content store used by write flows.
type Store interface {
	Fetcher
	Upload(ctx context.Context, data []byte) (string, error)
	UploadMetadata(ctx context.Context, record Record) (string, error)
}

// NormalizeCID strips the ipfs:// scheme and surrounding whitespace.
func NormalizeCID(ref string) string {
	trimmed := strings.TrimSpace(ref)
	trimmed = strings.TrimPrefix(trimmed, "ipfs://")
	return strings.TrimPrefix(trimmed, "ipfs/")
}

// FallbackFunc builds the record used when content cannot be fetched.
type FallbackFunc func() Record

// FetchOrFallback resolves cid through f and substitutes fallback on any
// failure. The returned error is the fetch failure, nil when the fetched
// record was used; callers may log it but the record is always usable.
func FetchOrFallback(ctx context.Context, f Fetcher, cid string, fallback FallbackFunc) (Record, error) {
	if f == nil {
		return fallback(), errors.New("metadata: no fetcher configured")
	}
	record, err := f.Fetch(ctx, cid)
	if err != nil {
		return fallback(), err
	}
	return record, nil
}
