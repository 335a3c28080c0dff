// Package frs is the client for the upstream face-recognition engine. It
// owns result shaping and threshold policy; detection and verification
// themselves are a black box behind two HTTP endpoints.
package frs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

var (
	// ErrNoFaceDetected signals a domain condition: the image is readable
	// but contains no usable face. Clients should adjust input, not retry.
	ErrNoFaceDetected = errors.New("no face detected")
)

// UpstreamError wraps transport and HTTP failures talking to the engine.
// It is retryable and must never be conflated with ErrNoFaceDetected.
type UpstreamError struct {
	Op     string
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("frs %s: upstream status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("frs %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Face is one detected face as reported by the engine.
type Face struct {
	ID         string             `json:"id"`
	Confidence float64            `json:"confidence"`
	BBox       [4]int             `json:"bbox"`
	Attributes map[string]float64 `json:"attributes,omitempty"`
}

// Client calls the engine's detect and verify endpoints. MatchThreshold is
// policy owned by this side, not by the engine.
type Client struct {
	baseURL        string
	apiKey         string
	matchThreshold float64
	httpClient     *http.Client
	videoClient    *http.Client
}

// Config configures the recognition client.
type Config struct {
	BaseURL        string
	APIKey         string
	MatchThreshold float64
	Timeout        time.Duration
	VideoTimeout   time.Duration
}

// New creates a recognition client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("frs base URL is required")
	}
	if cfg.MatchThreshold <= 0 || cfg.MatchThreshold > 1 {
		return nil, fmt.Errorf("match threshold must be in (0, 1], got %v", cfg.MatchThreshold)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.VideoTimeout <= 0 {
		cfg.VideoTimeout = 5 * time.Minute
	}
	return &Client{
		baseURL:        cfg.BaseURL,
		apiKey:         cfg.APIKey,
		matchThreshold: cfg.MatchThreshold,
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		videoClient:    &http.Client{Timeout: cfg.VideoTimeout},
	}, nil
}

// MatchThreshold returns the configured similarity cutoff.
func (c *Client) MatchThreshold() float64 { return c.matchThreshold }

type detectResponse struct {
	Faces []Face `json:"faces"`
}

// Detect uploads one image and returns the detected faces. An empty face
// list is a successful response, not an error; callers decide whether zero
// faces is acceptable for their operation.
func (c *Client) Detect(ctx context.Context, image []byte) ([]Face, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "image")
	if err != nil {
		return nil, &UpstreamError{Op: "detect", Err: err}
	}
	if _, err := part.Write(image); err != nil {
		return nil, &UpstreamError{Op: "detect", Err: err}
	}
	if err := mw.Close(); err != nil {
		return nil, &UpstreamError{Op: "detect", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", &buf)
	if err != nil {
		return nil, &UpstreamError{Op: "detect", Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	var out detectResponse
	if err := c.do(c.httpClient, req, "detect", &out); err != nil {
		return nil, err
	}
	return out.Faces, nil
}

type verifyRequest struct {
	FaceID1 string `json:"face_id_1"`
	FaceID2 string `json:"face_id_2"`
}

type verifyResponse struct {
	Similarity float64 `json:"similarity"`
}

// Verify compares two previously detected faces and returns the raw
// similarity score.
func (c *Client) Verify(ctx context.Context, faceID1, faceID2 string) (float64, error) {
	body, err := json.Marshal(verifyRequest{FaceID1: faceID1, FaceID2: faceID2})
	if err != nil {
		return 0, &UpstreamError{Op: "verify", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return 0, &UpstreamError{Op: "verify", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	var out verifyResponse
	if err := c.do(c.httpClient, req, "verify", &out); err != nil {
		return 0, err
	}
	return out.Similarity, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) do(hc *http.Client, req *http.Request, op string, out any) error {
	resp, err := hc.Do(req)
	if err != nil {
		return &UpstreamError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &UpstreamError{Op: op, Status: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &UpstreamError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
