// Package media is a client for a content-addressed pinning gateway.
//
// Uploads are write-once. The store cannot delete content, so Delete is a
// successful no-op and compensations against media only record intent.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/triad/internal/canonical"
	"github.com/roach88/triad/internal/logging"
	"github.com/roach88/triad/internal/model"
	"github.com/roach88/triad/internal/storage"
)

const scheme = "ipfs://"

// Config configures the gateway client.
type Config struct {
	// APIURL is the pinning service base, e.g. https://pin.example/api/v1.
	APIURL string
	// GatewayURL serves pinned content, e.g. https://gw.example/ipfs/.
	GatewayURL string
	// Token is sent as a bearer token. Never reported by Config().
	Token string

	Timeout       time.Duration
	DegradedAfter time.Duration
}

// Store implements storage.MediaStore over HTTP.
type Store struct {
	cfg    Config
	client *http.Client
	log    *slog.Logger
}

var _ storage.MediaStore = (*Store)(nil)

// Option customises a Store.
type Option func(*Store)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New validates cfg and returns a Store.
func New(cfg Config, opts ...Option) (*Store, error) {
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("media: api url is required")
	}
	if _, err := url.Parse(cfg.APIURL); err != nil {
		return nil, fmt.Errorf("media: parse api url: %w", err)
	}
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = strings.TrimSuffix(cfg.APIURL, "/") + "/ipfs/"
	}
	if !strings.HasSuffix(cfg.GatewayURL, "/") {
		cfg.GatewayURL += "/"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	s := &Store{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    logging.Component("media"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name returns the media store name.
func (s *Store) Name() string { return model.StoreMedia }

// Config reports the endpoints and the auth mode, never the token.
func (s *Store) Config() map[string]string {
	auth := "none"
	if s.cfg.Token != "" {
		auth = "bearer"
	}
	return map[string]string{
		"api_url":     s.cfg.APIURL,
		"gateway_url": s.cfg.GatewayURL,
		"auth":        auth,
	}
}

// HealthCheck probes GET {api}/health.
func (s *Store) HealthCheck(ctx context.Context) model.HealthStatus {
	return storage.Probe(ctx, s.Name(), s.cfg.Timeout, s.cfg.DegradedAfter, nil, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint("health"), nil)
		if err != nil {
			return err
		}
		s.authorize(req)
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode >= 300 {
			return fmt.Errorf("health returned %s", resp.Status)
		}
		return nil
	})
}

type uploadResponse struct {
	CID  string `json:"cid"`
	Size int64  `json:"size"`
}

// Upload pins content and returns its ipfs:// URI. Tags travel as a JSON
// header so the gateway can index them.
func (s *Store) Upload(ctx context.Context, content []byte, contentType string, tags map[string]string) (model.Upload, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint("upload"), bytes.NewReader(content))
	if err != nil {
		return model.Upload{}, model.NewUploadError(err)
	}
	req.Header.Set("Content-Type", contentType)
	if len(tags) > 0 {
		tagJSON, err := canonical.Marshal(tags)
		if err != nil {
			return model.Upload{}, model.NewUploadError(fmt.Errorf("encode tags: %w", err))
		}
		req.Header.Set("X-Pin-Tags", string(tagJSON))
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return model.Upload{}, model.NewUploadError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return model.Upload{}, model.NewUploadError(fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return model.Upload{}, model.NewUploadError(fmt.Errorf("gateway rejected credentials: %s", resp.Status))
	}
	if resp.StatusCode >= 300 {
		return model.Upload{}, model.NewUploadError(fmt.Errorf("gateway returned %s: %s", resp.Status, strings.TrimSpace(string(body))))
	}

	var out uploadResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return model.Upload{}, model.NewUploadError(fmt.Errorf("decode response: %w", err))
	}
	if out.CID == "" {
		return model.Upload{}, model.NewUploadError(fmt.Errorf("gateway response missing cid"))
	}
	if out.Size == 0 {
		out.Size = int64(len(content))
	}

	up := model.Upload{
		URI:         scheme + out.CID,
		ContentHash: canonical.ContentHash(content),
		Size:        out.Size,
	}
	s.log.Debug("pinned content", "uri", up.URI, "size", up.Size, "content_type", contentType)
	return up, nil
}

// UploadJSON canonically encodes v before uploading, so equal documents map
// to the same content id.
func (s *Store) UploadJSON(ctx context.Context, v any, tags map[string]string) (model.Upload, error) {
	data, err := canonical.Marshal(v)
	if err != nil {
		return model.Upload{}, model.NewUploadError(fmt.Errorf("encode document: %w", err))
	}
	return s.Upload(ctx, data, "application/json", tags)
}

// Delete does nothing; pinned content is immutable.
func (s *Store) Delete(_ context.Context, uri string) error {
	s.log.Debug("delete is a no-op for content-addressed media", "uri", uri)
	return nil
}

// ResolveURL turns ipfs://<cid>[/path] or a bare cid into a gateway URL.
// Values that are already http(s) URLs are returned unchanged.
func (s *Store) ResolveURL(ref string) string {
	return Resolve(s.cfg.GatewayURL, ref)
}

// Resolve is ResolveURL without a Store.
func Resolve(gateway, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}
	return gateway + strings.TrimPrefix(strings.TrimPrefix(ref, scheme), "/")
}

// Reachable issues a HEAD request against url.
func (s *Store) Reachable(ctx context.Context, rawURL string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return fmt.Errorf("reachable %s: %w", rawURL, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("reachable %s: %w", rawURL, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("reachable %s: %s", rawURL, resp.Status)
	}
	return nil
}

func (s *Store) endpoint(path string) string {
	return strings.TrimSuffix(s.cfg.APIURL, "/") + "/" + path
}

func (s *Store) authorize(req *http.Request) {
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
}
