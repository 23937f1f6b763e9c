package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const maxRecordBytes = 1 << 20

// IPFSConfig controls the gateway and pinning endpoints.
type IPFSConfig struct {
	GatewayURL        string
	PinningURL        string
	Token             string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	// CachePath, when set, keeps fetched records in a BoltDB file.
	CachePath string
}

// IPFSClient reads content through an HTTP gateway and writes through a
// Pinata-compatible pinning API.
type IPFSClient struct {
	gateway string
	pinning string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

// NewIPFSClient constructs a client from cfg.
func NewIPFSClient(cfg IPFSConfig) (*IPFSClient, error) {
	gateway := strings.TrimRight(strings.TrimSpace(cfg.GatewayURL), "/")
	if gateway == "" {
		return nil, fmt.Errorf("metadata: gateway url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &IPFSClient{
		gateway: gateway,
		pinning: strings.TrimRight(strings.TrimSpace(cfg.PinningURL), "/"),
		token:   strings.TrimSpace(cfg.Token),
		http:    &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

func (c *IPFSClient) Fetch(ctx context.Context, cid string) (Record, error) {
	normalized := NormalizeCID(cid)
	if normalized == "" {
		return Record{}, fmt.Errorf("%w: empty identifier", ErrNotFound)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Record{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.gateway+"/ipfs/"+normalized, nil)
	if err != nil {
		return Record{}, fmt.Errorf("metadata: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return Record{}, fmt.Errorf("metadata: fetch %s: %w", normalized, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, normalized)
	case resp.StatusCode >= 300:
		return Record{}, fmt.Errorf("metadata: fetch %s: unexpected status %d", normalized, resp.StatusCode)
	}
	var record Record
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRecordBytes)).Decode(&record); err != nil {
		return Record{}, fmt.Errorf("metadata: decode %s: %w", normalized, err)
	}
	return record, nil
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

func (c *IPFSClient) Upload(ctx context.Context, data []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "content")
	if err != nil {
		return "", fmt.Errorf("metadata: build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("metadata: build upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("metadata: build upload: %w", err)
	}
	return c.pin(ctx, "/pinning/pinFileToIPFS", writer.FormDataContentType(), &body)
}

func (c *IPFSClient) UploadMetadata(ctx context.Context, record Record) (string, error) {
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(map[string]any{"pinataContent": record}); err != nil {
		return "", fmt.Errorf("metadata: encode record: %w", err)
	}
	return c.pin(ctx, "/pinning/pinJSONToIPFS", "application/json", &body)
}

func (c *IPFSClient) pin(ctx context.Context, path, contentType string, body io.Reader) (string, error) {
	if c.pinning == "" {
		return "", fmt.Errorf("metadata: pinning url is not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pinning+path, body)
	if err != nil {
		return "", fmt.Errorf("metadata: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("metadata: pin: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("metadata: pin: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var parsed pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("metadata: decode pin response: %w", err)
	}
	if parsed.IpfsHash == "" {
		return "", fmt.Errorf("metadata: pin response missing hash")
	}
	return parsed.IpfsHash, nil
}
