package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"physio/physio/types"
	utiltypes "physio/physio/utils/types"
)

// memStore is an in-memory Store with one-shot failure injection.
type memStore struct {
	mu    sync.Mutex
	convs map[string]*types.Conversation
	next  int
	clock time.Time

	errCreate error
	errAppend error
	errGet    error

	// hold blocks the next AppendMessage until it is closed; the append then
	// commits whatever its context says.
	hold chan struct{}

	creates int
	appends int
}

func newMemStore() *memStore {
	return &memStore{convs: map[string]*types.Conversation{}, clock: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func take(err *error) error {
	e := *err
	*err = nil
	return e
}

func (s *memStore) CreateConversation(ctx context.Context, patientID, title string) (*types.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	if err := take(&s.errCreate); err != nil {
		return nil, err
	}
	s.next++
	now := s.tick()
	c := &types.Conversation{
		ID:        fmt.Sprintf("conv-%d", s.next),
		PatientID: patientID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.convs[c.ID] = c
	cp := *c
	return &cp, nil
}

func (s *memStore) AppendMessage(ctx context.Context, msg types.Message) (*types.Message, error) {
	s.mu.Lock()
	hold := s.hold
	s.hold = nil
	s.mu.Unlock()
	if hold != nil {
		<-hold
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends++
	if err := take(&s.errAppend); err != nil {
		return nil, err
	}
	for _, c := range s.convs {
		for _, m := range c.Messages {
			if m.ID == msg.ID {
				if c.ID != msg.ConversationID {
					return nil, types.ErrConflict
				}
				cp := m
				return &cp, nil
			}
		}
	}
	c, ok := s.convs[msg.ConversationID]
	if !ok {
		return nil, types.ErrNotFound
	}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = s.tick()
	cp := msg
	return &cp, nil
}

func (s *memStore) GetConversation(ctx context.Context, id string) (*types.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := take(&s.errGet); err != nil {
		return nil, err
	}
	c, ok := s.convs[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, types.ErrNotFound)
	}
	cp := *c
	cp.Messages = slices.Clone(c.Messages)
	return &cp, nil
}

func (s *memStore) ListConversations(ctx context.Context, patientID string) ([]types.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.ConversationSummary
	for _, c := range s.convs {
		if c.PatientID != patientID {
			continue
		}
		out = append(out, types.ConversationSummary{
			ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt,
			MessageCount: int64(len(c.Messages)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *memStore) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; !ok {
		return types.ErrNotFound
	}
	delete(s.convs, id)
	return nil
}

func (s *memStore) TouchConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return types.ErrNotFound
	}
	c.UpdatedAt = s.tick()
	return nil
}

func (s *memStore) UpdateTitle(ctx context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return types.ErrNotFound
	}
	c.Title = title
	return nil
}

// seed inserts a conversation with messages, bypassing the append counters.
func (s *memStore) seed(patientID string, msgs ...types.Message) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := fmt.Sprintf("conv-%d", s.next)
	now := s.tick()
	for i := range msgs {
		msgs[i].ConversationID = id
		if msgs[i].ID == "" {
			msgs[i].ID = fmt.Sprintf("%s-m%d", id, i)
		}
	}
	s.convs[id] = &types.Conversation{ID: id, PatientID: patientID, Title: "seeded", CreatedAt: now, UpdatedAt: now, Messages: msgs}
	return id
}

func (s *memStore) messages(id string) []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[id]; ok {
		return slices.Clone(c.Messages)
	}
	return nil
}

// chunkReader returns one part per Read, then EOF or err.
type chunkReader struct {
	mu     sync.Mutex
	parts  []string
	err    error
	closed bool
}

func newChunkReader(parts ...string) *chunkReader {
	return &chunkReader{parts: parts}
}

func (r *chunkReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, errors.New("read on closed body")
	}
	if len(r.parts) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.parts[0])
	r.parts[0] = r.parts[0][n:]
	if r.parts[0] == "" {
		r.parts = r.parts[1:]
	}
	return n, nil
}

func (r *chunkReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// fakeGateway answers each OpenStream with the next scripted response.
type fakeGateway struct {
	mu       sync.Mutex
	requests []utiltypes.CompletionRequest
	script   []func(ctx context.Context) (io.ReadCloser, error)
}

func (g *fakeGateway) then(fn func(ctx context.Context) (io.ReadCloser, error)) *fakeGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.script = append(g.script, fn)
	return g
}

func (g *fakeGateway) reply(parts ...string) *fakeGateway {
	return g.then(func(context.Context) (io.ReadCloser, error) { return newChunkReader(parts...), nil })
}

func (g *fakeGateway) fail(err error) *fakeGateway {
	return g.then(func(context.Context) (io.ReadCloser, error) { return nil, err })
}

func (g *fakeGateway) breakAfter(err error, parts ...string) *fakeGateway {
	return g.then(func(context.Context) (io.ReadCloser, error) {
		r := newChunkReader(parts...)
		r.err = err
		return r, nil
	})
}

// pipe scripts a response the test writes itself.
func (g *fakeGateway) pipe() *io.PipeWriter {
	pr, pw := io.Pipe()
	g.then(func(context.Context) (io.ReadCloser, error) { return pr, nil })
	return pw
}

func (g *fakeGateway) OpenStream(ctx context.Context, req utiltypes.CompletionRequest) (io.ReadCloser, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	if len(g.script) == 0 {
		g.mu.Unlock()
		return nil, errors.New("no scripted response")
	}
	fn := g.script[0]
	g.script = g.script[1:]
	g.mu.Unlock()
	return fn(ctx)
}

func (g *fakeGateway) lastRequest() utiltypes.CompletionRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.requests) == 0 {
		return utiltypes.CompletionRequest{}
	}
	return g.requests[len(g.requests)-1]
}

func contents(msgs []types.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.Role) + ":" + m.Content
	}
	return out
}

// bytewise splits s into single-byte parts, cutting through multi-byte runes.
func bytewise(s string) []string {
	out := make([]string, len(s))
	for i := range len(s) {
		out[i] = s[i : i+1]
	}
	return out
}

// pendingContents lists the distinct texts the pending assistant message showed.
func pendingContents(states []State) []string {
	var out []string
	for _, s := range states {
		if s.PendingAssistantID == "" {
			continue
		}
		for _, m := range s.Messages {
			if m.ID != s.PendingAssistantID || m.Content == "" {
				continue
			}
			if len(out) == 0 || out[len(out)-1] != m.Content {
				out = append(out, m.Content)
			}
		}
	}
	return out
}

func joinFragments(parts []string) string {
	return strings.Join(parts, "")
}
