package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	record := Record{Title: "Dune", Author: "Frank Herbert", Genre: "ScienceFiction", PublicationYear: 1965}

	cid, err := store.UploadMetadata(ctx, record)
	require.NoError(t, err)
	again, err := store.UploadMetadata(ctx, record)
	require.NoError(t, err)
	require.Equal(t, cid, again)

	got, err := store.Fetch(ctx, "ipfs://"+cid)
	require.NoError(t, err)
	require.Equal(t, record, got)

	_, err = store.Fetch(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

type failingFetcher struct{}

func (failingFetcher) Fetch(context.Context, string) (Record, error) {
	return Record{}, errors.New("gateway down")
}

func TestFetchOrFallback(t *testing.T) {
	fallback := func() Record { return Record{Title: "Unknown Book"} }

	record, err := FetchOrFallback(context.Background(), failingFetcher{}, "cid", fallback)
	require.Error(t, err)
	require.Equal(t, "Unknown Book", record.Title)

	record, err = FetchOrFallback(context.Background(), nil, "cid", fallback)
	require.Error(t, err)
	require.Equal(t, "Unknown Book", record.Title)
}

func TestIPFSClientFetchAndPin(t *testing.T) {
	var pinnedAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/ipfs/QmBook", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Record{Title: "Emma", Author: "Jane Austen", PublicationYear: 1815})
	})
	mux.HandleFunc("/pinning/pinJSONToIPFS", func(w http.ResponseWriter, r *http.Request) {
		pinnedAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.Contains(t, string(body), "pinataContent")
		_ = json.NewEncoder(w).Encode(map[string]string{"IpfsHash": "QmNew"})
	})
	mux.HandleFunc("/pinning/pinFileToIPFS", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_ = json.NewEncoder(w).Encode(map[string]string{"IpfsHash": "QmFile"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := NewIPFSClient(IPFSConfig{GatewayURL: server.URL, PinningURL: server.URL, Token: "jwt"})
	require.NoError(t, err)
	ctx := context.Background()

	record, err := client.Fetch(ctx, "ipfs://QmBook")
	require.NoError(t, err)
	require.Equal(t, "Emma", record.Title)

	_, err = client.Fetch(ctx, "QmMissing")
	require.ErrorIs(t, err, ErrNotFound)

	cid, err := client.UploadMetadata(ctx, Record{Title: "New"})
	require.NoError(t, err)
	require.Equal(t, "QmNew", cid)
	require.Equal(t, "Bearer jwt", pinnedAuth)

	cid, err = client.Upload(ctx, []byte("cover"))
	require.NoError(t, err)
	require.Equal(t, "QmFile", cid)
}

func TestNewIPFSClientRequiresGateway(t *testing.T) {
	_, err := NewIPFSClient(IPFSConfig{})
	require.Error(t, err)
}
