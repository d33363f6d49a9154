package media

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/roach88/triad/internal/canonical"
)

// DevGateway is an in-memory pinning gateway speaking the same protocol as
// Store. Content ids are the SHA-256 of the bytes. It backs local runs and
// tests.
type DevGateway struct {
	// Token, when set, is required as a bearer token on uploads.
	Token string

	mu      sync.RWMutex
	objects map[string][]byte
	types   map[string]string
}

// NewDevGateway returns an empty gateway.
func NewDevGateway() *DevGateway {
	return &DevGateway{objects: make(map[string][]byte), types: make(map[string]string)}
}

// Count returns the number of pinned objects.
func (g *DevGateway) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.objects)
}

// Unpin removes an object, simulating content lost by the pinning service.
func (g *DevGateway) Unpin(cid string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cid = strings.TrimPrefix(cid, scheme)
	delete(g.objects, cid)
	delete(g.types, cid)
}

// ServeHTTP serves the pinning API and the content gateway.
func (g *DevGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	switch {
	case path == "health":
		w.WriteHeader(http.StatusOK)
	case path == "upload" && r.Method == http.MethodPost:
		g.upload(w, r)
	case strings.HasPrefix(path, "ipfs/") && (r.Method == http.MethodGet || r.Method == http.MethodHead):
		g.fetch(w, r, strings.TrimPrefix(path, "ipfs/"))
	default:
		http.NotFound(w, r)
	}
}

func (g *DevGateway) upload(w http.ResponseWriter, r *http.Request) {
	if g.Token != "" && r.Header.Get("Authorization") != "Bearer "+g.Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cid := canonical.ContentHash(body)

	g.mu.Lock()
	g.objects[cid] = body
	g.types[cid] = r.Header.Get("Content-Type")
	g.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(uploadResponse{CID: cid, Size: int64(len(body))})
}

func (g *DevGateway) fetch(w http.ResponseWriter, r *http.Request, cid string) {
	g.mu.RLock()
	body, ok := g.objects[cid]
	ct := g.types[cid]
	g.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	if ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	_, _ = w.Write(body)
}
