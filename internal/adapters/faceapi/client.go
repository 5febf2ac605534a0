// Package faceapi implements the face provider on an embedding server
// exposing POST /embed/face.
package faceapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/ewilliams-labs/duet/internal/core/domain"
	"github.com/ewilliams-labs/duet/internal/core/ports"
)

const (
	providerName   = "face"
	defaultURL     = "http://localhost:8000"
	defaultTimeout = 10 * time.Second
	// maxPhotoBytes caps what is read from the photo store per request.
	maxPhotoBytes = 20 << 20
)

// Client computes face embeddings through the embedding server and compares
// them by cosine distance.
type Client struct {
	baseURL string
	client  *http.Client
	photos  ports.PhotoStore
	breaker *gobreaker.CircuitBreaker[[]float32]
	logger  *zap.Logger
}

var (
	_ ports.FaceProvider = (*Client)(nil)
	_ ports.FaceEmbedder = (*Client)(nil)
)

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a face client reading photos from photos.
func NewClient(baseURL string, photos ports.PhotoStore, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = defaultURL
	}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
		photos:  photos,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// faceDetection is a single detected face.
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"`
	DetScore  float64   `json:"det_score"`
}

// faceResponse is the body returned by /embed/face.
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// FaceDistance returns the cosine distance between the two users' faces.
// Precomputed embeddings are used when present; otherwise the photo is
// embedded on the fly. The result is symmetric.
func (c *Client) FaceDistance(ctx context.Context, a, b domain.FaceInput) (float64, error) {
	ea, err := c.embeddingFor(ctx, a)
	if err != nil {
		return 0, err
	}
	eb, err := c.embeddingFor(ctx, b)
	if err != nil {
		return 0, err
	}
	if len(ea) != len(eb) {
		return 0, domain.Degraded(providerName, domain.ReasonInvalidDistance,
			fmt.Errorf("embedding dimensions differ: %d vs %d", len(ea), len(eb)))
	}
	return domain.CosineDistance(ea, eb), nil
}

func (c *Client) embeddingFor(ctx context.Context, in domain.FaceInput) ([]float32, error) {
	if in.HasEmbedding() {
		return in.Embedding, nil
	}
	return c.EmbedFace(ctx, in.PhotoRef)
}

// EmbedFace returns the embedding of the most confidently detected face in
// the stored photo.
func (c *Client) EmbedFace(ctx context.Context, photoRef string) ([]float32, error) {
	if photoRef == "" {
		return nil, domain.Degraded(providerName, domain.ReasonMissingImage, nil)
	}
	if c.photos == nil {
		return nil, domain.Degraded(providerName, domain.ReasonMissingImage, fmt.Errorf("no photo store configured"))
	}

	rc, err := c.photos.Open(ctx, photoRef)
	if err != nil {
		return nil, domain.Degraded(providerName, domain.ReasonMissingImage, err)
	}
	data, err := io.ReadAll(io.LimitReader(rc, maxPhotoBytes))
	rc.Close()
	if err != nil {
		return nil, domain.Degraded(providerName, domain.ReasonMissingImage, err)
	}

	if c.breaker == nil {
		return c.embed(ctx, data)
	}
	emb, err := c.breaker.Execute(func() ([]float32, error) {
		return c.embed(ctx, data)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return emb, nil
}

func (c *Client) embed(ctx context.Context, imageData []byte) ([]float32, error) {
	body, err := c.postMultipartImage(ctx, "/embed/face", imageData)
	if err != nil {
		return nil, domain.Degraded(providerName, domain.ReasonUnavailable, err)
	}

	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, domain.Degraded(providerName, domain.ReasonUnavailable, fmt.Errorf("failed to parse response: %w", err))
	}

	best := -1
	for i, f := range resp.Faces {
		if len(f.Embedding) == 0 {
			continue
		}
		if best < 0 || f.DetScore > resp.Faces[best].DetScore {
			best = i
		}
	}
	if best < 0 {
		return nil, domain.Degraded(providerName, domain.ReasonNoFace, nil)
	}
	if len(resp.Faces) > 1 {
		c.logger.Debug("faceapi: multiple faces detected, using the most confident",
			zap.Int("faces", len(resp.Faces)),
			zap.Float64("det_score", resp.Faces[best].DetScore),
		)
	}
	return resp.Faces[best].Embedding, nil
}

// postMultipartImage posts the image as the "file" form field.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", http.DetectContentType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}
