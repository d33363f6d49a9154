package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/roach88/triad/internal/canonical"
	"github.com/roach88/triad/internal/model"
	"github.com/roach88/triad/internal/storage"
)

// FakeGateway is the URL prefix FakeMedia resolves refs under.
const FakeGateway = "https://gateway.test/ipfs/"

// FakeMedia is an in-memory content-addressed store. Refs are sequential
// ("ipfs://media-1", ...) but identical content always maps to the same ref.
//
// Fault ops: "upload", "delete", "reachable".
type FakeMedia struct {
	Faults

	mu      sync.Mutex
	journal *Journal
	health  model.HealthState
	byHash  map[string]string
	objects map[string][]byte
	unpin   map[string]bool
	uploads int
}

var _ storage.MediaStore = (*FakeMedia)(nil)

// NewFakeMedia returns a healthy, empty store writing to journal (may be nil).
func NewFakeMedia(journal *Journal) *FakeMedia {
	return &FakeMedia{
		journal: journal,
		health:  model.Healthy,
		byHash:  make(map[string]string),
		objects: make(map[string][]byte),
		unpin:   make(map[string]bool),
	}
}

func (m *FakeMedia) Name() string { return model.StoreMedia }

func (m *FakeMedia) Config() map[string]string {
	return map[string]string{"gateway": FakeGateway}
}

// SetHealth sets what HealthCheck reports.
func (m *FakeMedia) SetHealth(s model.HealthState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health = s
}

func (m *FakeMedia) HealthCheck(context.Context) model.HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return model.HealthStatus{Store: m.Name(), Status: m.health, ResponseTime: time.Millisecond}
}

func (m *FakeMedia) Upload(_ context.Context, content []byte, _ string, _ map[string]string) (model.Upload, error) {
	if err := m.check("upload"); err != nil {
		return model.Upload{}, model.NewUploadError(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := canonical.ContentHash(content)
	uri, ok := m.byHash[hash]
	if !ok {
		m.uploads++
		uri = fmt.Sprintf("ipfs://media-%d", m.uploads)
		m.byHash[hash] = uri
		m.objects[uri] = append([]byte(nil), content...)
	}
	delete(m.unpin, uri)
	m.journal.Record("media.upload %s", uri)
	return model.Upload{URI: uri, ContentHash: hash, Size: int64(len(content))}, nil
}

func (m *FakeMedia) UploadJSON(ctx context.Context, v any, tags map[string]string) (model.Upload, error) {
	data, err := canonical.Marshal(v)
	if err != nil {
		return model.Upload{}, fmt.Errorf("encode json upload: %w", err)
	}
	return m.Upload(ctx, data, "application/json", tags)
}

// Delete records the call and otherwise does nothing, like real
// content-addressed storage.
func (m *FakeMedia) Delete(_ context.Context, uri string) error {
	if err := m.check("delete"); err != nil {
		return err
	}
	m.journal.Record("media.delete %s", uri)
	return nil
}

func (m *FakeMedia) ResolveURL(ref string) string {
	if cid, ok := strings.CutPrefix(ref, "ipfs://"); ok {
		return FakeGateway + cid
	}
	return ref
}

func (m *FakeMedia) Reachable(_ context.Context, url string) error {
	if err := m.check("reachable"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	uri := "ipfs://" + strings.TrimPrefix(url, FakeGateway)
	if _, ok := m.objects[uri]; !ok || m.unpin[uri] {
		return fmt.Errorf("fetch %s: 404 Not Found", url)
	}
	return nil
}

// Unpin makes uri unreachable until it is uploaded again.
func (m *FakeMedia) Unpin(uri string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unpin[uri] = true
}

// Object returns the stored bytes for uri.
func (m *FakeMedia) Object(uri string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[uri]
	return b, ok
}

// Uploads counts distinct objects stored.
func (m *FakeMedia) Uploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploads
}
