package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/devaloi/giftline/internal/domain"
)

// MockClient implements hub.Client for testing.
type MockClient struct {
	Conn     string
	User     string
	messages [][]byte
	closed   bool
	mu       sync.Mutex
}

// NewMockClient creates a new MockClient for a user.
func NewMockClient(connID, userID string) *MockClient {
	return &MockClient{Conn: connID, User: userID}
}

// ID returns the mock connection id.
func (m *MockClient) ID() string { return m.Conn }

// UserID returns the mock client's user.
func (m *MockClient) UserID() string { return m.User }

// Send records a message sent to the mock client unless it is closed.
func (m *MockClient) Send(data []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.messages = append(m.messages, cp)
	return true
}

// Close makes every later Send fail.
func (m *MockClient) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// GetMessages returns a copy of all messages received by the mock client.
func (m *MockClient) GetMessages() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([][]byte, len(m.messages))
	copy(cp, m.messages)
	return cp
}

// EventsOfType returns the received messages whose "type" field equals typ.
func (m *MockClient) EventsOfType(typ string) []json.RawMessage {
	var out []json.RawMessage
	for _, raw := range m.GetMessages() {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err == nil && head.Type == typ {
			out = append(out, raw)
		}
	}
	return out
}

// Publication is one call recorded by FakePublisher.
type Publication struct {
	Room    string
	Payload []byte
}

// FakePublisher records publications instead of delivering them.
type FakePublisher struct {
	mu   sync.Mutex
	pubs []Publication
	Err  error
}

// Publish records the publication, or returns Err when set.
func (p *FakePublisher) Publish(_ context.Context, room string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.pubs = append(p.pubs, Publication{Room: room, Payload: payload})
	return nil
}

// Publications returns a copy of everything published so far.
func (p *FakePublisher) Publications() []Publication {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]Publication, len(p.pubs))
	copy(cp, p.pubs)
	return cp
}

// FakeFiles implements files.Storage in memory.
type FakeFiles struct {
	mu      sync.Mutex
	objects map[string][]byte
	next    int
	// FailURL makes URL fail for these keys.
	FailURL map[string]bool
}

// NewFakeFiles creates an empty FakeFiles.
func NewFakeFiles() *FakeFiles {
	return &FakeFiles{objects: make(map[string][]byte), FailURL: make(map[string]bool)}
}

// Put stores data under key directly.
func (f *FakeFiles) Put(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
}

// Upload stores data under a sequential key.
func (f *FakeFiles) Upload(_ context.Context, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	key := fmt.Sprintf("file-%d", f.next)
	f.objects[key] = data
	return key, nil
}

// URL returns a fake URL for a stored key.
func (f *FakeFiles) URL(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailURL[key] {
		return "", fmt.Errorf("storage unavailable")
	}
	if _, ok := f.objects[key]; !ok {
		return "", domain.NotFound("file does not exist")
	}
	return "https://files.test/" + key, nil
}

// Delete removes a stored key.
func (f *FakeFiles) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[key]; !ok {
		return domain.NotFound("file does not exist")
	}
	delete(f.objects, key)
	return nil
}

// Has reports whether key is stored.
func (f *FakeFiles) Has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}
