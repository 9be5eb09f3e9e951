package controllers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"physio/physio/types"
	utiltypes "physio/physio/utils/types"
)

type memStore struct {
	convs   map[string]*types.Conversation
	n       int
	renamed map[string]string
	touched []string
}

func newMemStore() *memStore {
	return &memStore{convs: map[string]*types.Conversation{}, renamed: map[string]string{}}
}

func (s *memStore) CreateConversation(ctx context.Context, patientID, title string) (*types.Conversation, error) {
	s.n++
	c := &types.Conversation{ID: fmt.Sprintf("c%d", s.n), PatientID: patientID, Title: title}
	s.convs[c.ID] = c
	cp := *c
	return &cp, nil
}

func (s *memStore) AppendMessage(ctx context.Context, msg types.Message) (*types.Message, error) {
	c, ok := s.convs[msg.ConversationID]
	if !ok {
		return nil, types.ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("m%d", len(c.Messages)+1)
	}
	c.Messages = append(c.Messages, msg)
	return &msg, nil
}

func (s *memStore) GetConversation(ctx context.Context, id string) (*types.Conversation, error) {
	c, ok := s.convs[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, types.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) ListConversations(ctx context.Context, patientID string) ([]types.ConversationSummary, error) {
	var out []types.ConversationSummary
	for _, c := range s.convs {
		if c.PatientID == patientID {
			out = append(out, types.ConversationSummary{ID: c.ID, Title: c.Title, MessageCount: int64(len(c.Messages))})
		}
	}
	return out, nil
}

func (s *memStore) DeleteConversation(ctx context.Context, id string) error {
	if _, ok := s.convs[id]; !ok {
		return types.ErrNotFound
	}
	delete(s.convs, id)
	return nil
}

func (s *memStore) TouchConversation(ctx context.Context, id string) error {
	s.touched = append(s.touched, id)
	return nil
}

func (s *memStore) UpdateTitle(ctx context.Context, id, title string) error {
	s.renamed[id] = title
	return nil
}

type fakeArchive struct {
	uploaded []types.Conversation
	err      error
}

func (a *fakeArchive) UploadTranscript(ctx context.Context, conv types.Conversation) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.uploaded = append(a.uploaded, conv)
	return conv.PatientID + "/" + conv.ID + ".json", nil
}

func (a *fakeArchive) GetTranscript(ctx context.Context, patientID, conversationID string) ([]byte, error) {
	for _, c := range a.uploaded {
		if c.ID == conversationID && c.PatientID == patientID {
			return []byte(`{"id":"` + c.ID + `"}`), nil
		}
	}
	return nil, types.ErrNotFound
}

func newTestConversations(t *testing.T, archive Archive) (*ConversationController, *memStore) {
	t.Helper()
	store := newMemStore()
	c := NewConversationController(store, archive, testPrompts(t))
	c.now = func() time.Time { return time.Date(2026, 7, 9, 12, 0, 0, 0, time.UTC) }
	return c, store
}

func TestCreateUsesPlaceholderTitle(t *testing.T) {
	c, _ := newTestConversations(t, nil)
	ctx := context.Background()

	conv, err := c.Create(ctx, "p1", "   ")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if conv.Title != "Conversación 09/07/2026" {
		t.Errorf("unexpected title %q", conv.Title)
	}

	conv, err = c.Create(ctx, "p1", " Rodilla ")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if conv.Title != "Rodilla" {
		t.Errorf("unexpected title %q", conv.Title)
	}
}

func TestListNeverNil(t *testing.T) {
	c, _ := newTestConversations(t, nil)

	list, err := c.List(context.Background(), "p1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if list == nil {
		t.Error("expected empty slice, got nil")
	}
}

func TestForeignConversationIsNotFound(t *testing.T) {
	c, store := newTestConversations(t, nil)
	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx, "p2", "ajena")

	if _, err := c.Get(ctx, "p1", conv.ID); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Get: expected ErrNotFound, got %v", err)
	}
	if err := c.Rename(ctx, "p1", conv.ID, "mía"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Rename: expected ErrNotFound, got %v", err)
	}
	if _, err := c.Append(ctx, "p1", conv.ID, utiltypes.AppendMessageRequest{Role: "user", Content: "x"}); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Append: expected ErrNotFound, got %v", err)
	}
	if err := c.Touch(ctx, "p1", conv.ID); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Touch: expected ErrNotFound, got %v", err)
	}
	if err := c.Delete(ctx, "p1", conv.ID); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Delete: expected ErrNotFound, got %v", err)
	}
	if len(store.renamed) != 0 || len(store.touched) != 0 || len(store.convs) != 1 {
		t.Error("foreign conversation was modified")
	}
}

func TestGetReturnsEmptyMessages(t *testing.T) {
	c, store := newTestConversations(t, nil)
	conv, _ := store.CreateConversation(context.Background(), "p1", "t")

	msgs, err := c.Messages(context.Background(), "p1", conv.ID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if msgs == nil || len(msgs) != 0 {
		t.Errorf("expected empty non-nil messages, got %#v", msgs)
	}
}

func TestAppendValidatesAndStamps(t *testing.T) {
	c, store := newTestConversations(t, nil)
	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx, "p1", "t")

	for name, req := range map[string]utiltypes.AppendMessageRequest{
		"bad role":      {Role: "robot", Content: "x"},
		"empty content": {Role: "user", Content: " \n "},
	} {
		if _, err := c.Append(ctx, "p1", conv.ID, req); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}

	msg, err := c.Append(ctx, "p1", conv.ID, utiltypes.AppendMessageRequest{ID: "m-1", Role: "user", Content: "hola"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if msg.ID != "m-1" || !msg.Timestamp.Equal(c.now()) {
		t.Errorf("unexpected message %+v", msg)
	}

	local := time.Date(2026, 7, 9, 14, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	msg, err = c.Append(ctx, "p1", conv.ID, utiltypes.AppendMessageRequest{Role: "assistant", Content: "hey", Timestamp: &local})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if msg.Timestamp.Location() != time.UTC || !msg.Timestamp.Equal(local) {
		t.Errorf("expected UTC timestamp, got %v", msg.Timestamp)
	}
}

func TestRenameRequiresTitle(t *testing.T) {
	c, store := newTestConversations(t, nil)
	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx, "p1", "t")

	if err := c.Rename(ctx, "p1", conv.ID, "  "); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if err := c.Rename(ctx, "p1", conv.ID, " Hombro "); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if store.renamed[conv.ID] != "Hombro" {
		t.Errorf("unexpected title %q", store.renamed[conv.ID])
	}
}

func TestDeleteArchivesFirst(t *testing.T) {
	archive := &fakeArchive{}
	c, store := newTestConversations(t, archive)
	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx, "p1", "t")
	store.AppendMessage(ctx, types.Message{ConversationID: conv.ID, Role: types.RoleUser, Content: "hola"})

	if err := c.Delete(ctx, "p1", conv.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(archive.uploaded) != 1 || len(archive.uploaded[0].Messages) != 1 {
		t.Fatalf("expected archived transcript, got %+v", archive.uploaded)
	}
	if _, ok := store.convs[conv.ID]; ok {
		t.Error("conversation still stored")
	}

	raw, err := c.Archived(ctx, "p1", conv.ID)
	if err != nil || string(raw) != `{"id":"`+conv.ID+`"}` {
		t.Errorf("Archived: %q, %v", raw, err)
	}
}

func TestDeleteKeepsConversationWhenArchiveFails(t *testing.T) {
	archive := &fakeArchive{err: errors.New("bucket unreachable")}
	c, store := newTestConversations(t, archive)
	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx, "p1", "t")

	if err := c.Delete(ctx, "p1", conv.ID); err == nil {
		t.Fatal("expected archive failure")
	}
	if _, ok := store.convs[conv.ID]; !ok {
		t.Error("conversation deleted despite failed archive")
	}
}

func TestArchivedWithoutArchive(t *testing.T) {
	c, _ := newTestConversations(t, nil)

	_, err := c.Archived(context.Background(), "p1", "c1")
	if !errors.Is(err, ErrArchiveDisabled) {
		t.Errorf("expected ErrArchiveDisabled, got %v", err)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 200},
		{fmt.Errorf("x: %w", ErrInvalidInput), 400},
		{fmt.Errorf("x: %w", types.ErrNotFound), 404},
		{types.ErrForbidden, 404},
		{ErrArchiveDisabled, 404},
		{types.ErrConflict, 409},
		{errors.Join(ErrUpstream, errors.New("eof")), 502},
		{errors.New("boom"), 500},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
