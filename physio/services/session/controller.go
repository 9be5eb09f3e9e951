package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"physio/physio/types"
	"physio/physio/utils/logging"
	"physio/physio/utils/normalize"
	utiltypes "physio/physio/utils/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseResolving Phase = "resolving"
	PhaseSending   Phase = "sending"
	PhaseStreaming Phase = "streaming"
	PhaseErrored   Phase = "errored"
)

const persistTimeout = 10 * time.Second

// State is an immutable snapshot of a session. Version grows with every change.
type State struct {
	Version            uint64          `json:"version"`
	Phase              Phase           `json:"phase"`
	ConversationID     string          `json:"conversationId,omitempty"`
	Messages           []types.Message `json:"messages"`
	Streaming          bool            `json:"streaming"`
	PendingAssistantID string          `json:"pendingAssistantId,omitempty"`
	LastError          string          `json:"lastError,omitempty"`
	CanRetry           bool            `json:"canRetry"`
	Err                error           `json:"-"`
}

type Options struct {
	PatientID string
	Store     Store
	Gateway   CompletionGateway

	// Resolver defaults to NewResolver(Store, Policy, TitlePlaceholder, Logger).
	Resolver         *Resolver
	Policy           Policy
	TitlePlaceholder func(time.Time) string

	SystemPrompt string
	IdleTimeout  time.Duration
	HistoryLimit int

	// ErrorCopy overrides DefaultErrorCopy field by field.
	ErrorCopy types.ErrorCopy

	// OnChange receives snapshots in Version order. It runs on the goroutine that
	// made the change and must not call the controller's mutating methods.
	OnChange func(State)

	Logger *zap.Logger
	Now    func() time.Time
	NewID  func() string
}

type turnStage int

const (
	stageResolve turnStage = iota
	stageSend
	stageStream
)

// failedTurn remembers enough of an errored turn to retry it without
// duplicating what already reached the store.
type failedTurn struct {
	stage   turnStage
	text    string
	userMsg types.Message
}

type turn struct {
	existingID string
	text       string
	userMsg    *types.Message
	skipUser   bool
}

// Controller owns one patient's chat session: the active conversation, its
// visible transcript and the single in-flight turn. It is the only writer of
// that state; every exported method is safe for concurrent use.
type Controller struct {
	patientID    string
	store        Store
	gateway      CompletionGateway
	resolver     *Resolver
	idleTimeout  time.Duration
	historyLimit int
	onChange     func(State)
	errorCopy    types.ErrorCopy
	logger       *zap.Logger
	now          func() time.Time
	newID        func() string

	mu           sync.Mutex
	state        State
	lastErr      error
	failed       *failedTurn
	systemPrompt string
	customPrompt string
	gen          uint64
	cancelTurn   context.CancelFunc
	ingester     *Ingester
	optimisticID string
	closed       bool

	notifyMu sync.Mutex
	notified uint64
}

func NewController(opts Options) (*Controller, error) {
	if opts.Store == nil || opts.Gateway == nil {
		return nil, errors.New("session: store and gateway are required")
	}
	if opts.PatientID == "" {
		return nil, errors.New("session: patient id is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.AppLogger
	}
	logger = logger.With(zap.String("patient_id", opts.PatientID))
	resolver := opts.Resolver
	if resolver == nil {
		resolver = NewResolver(opts.Store, opts.Policy, opts.TitlePlaceholder, logger)
	}
	c := &Controller{
		patientID:    opts.PatientID,
		store:        opts.Store,
		gateway:      opts.Gateway,
		resolver:     resolver,
		idleTimeout:  opts.IdleTimeout,
		historyLimit: opts.HistoryLimit,
		onChange:     opts.OnChange,
		errorCopy:    opts.ErrorCopy.Or(DefaultErrorCopy),
		logger:       logger,
		now:          opts.Now,
		newID:        opts.NewID,
		systemPrompt: strings.TrimSpace(opts.SystemPrompt),
		state:        State{Phase: PhaseIdle},
	}
	if c.idleTimeout <= 0 {
		c.idleTimeout = DefaultIdleTimeout
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	if c.newID == nil {
		c.newID = func() string { return uuid.NewString() }
	}
	return c, nil
}

// Submit sends text as a new user turn and blocks until the reply has been
// streamed and stored, or the turn failed or was cancelled.
func (c *Controller) Submit(ctx context.Context, text string) error {
	text = normalize.Normalize(text)
	if text == "" {
		return ErrEmptyMessage
	}
	c.mu.Lock()
	if err := c.admitLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.failed = nil
	turnCtx, gen := c.beginLocked(ctx)
	existing := c.state.ConversationID
	c.mu.Unlock()
	c.notify()

	return c.runTurn(turnCtx, gen, turn{existingID: existing, text: text})
}

// Retry repeats the failed turn. Whatever already reached the store (the
// conversation, the user message) is reused rather than written again.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state.Phase != PhaseErrored || c.failed == nil {
		c.mu.Unlock()
		return ErrNothingToRetry
	}
	ft := *c.failed
	c.failed = nil
	turnCtx, gen := c.beginLocked(ctx)
	t := turn{existingID: c.state.ConversationID, text: ft.text}
	switch ft.stage {
	case stageSend:
		t.userMsg = &ft.userMsg
	case stageStream:
		t.skipUser = true
	}
	c.mu.Unlock()
	c.notify()

	return c.runTurn(turnCtx, gen, t)
}

// Dismiss clears the surfaced error. It is a no-op unless the session errored.
func (c *Controller) Dismiss() {
	c.mu.Lock()
	if c.state.Phase != PhaseErrored {
		c.mu.Unlock()
		return
	}
	c.state.Phase = PhaseIdle
	c.lastErr = nil
	c.failed = nil
	c.bumpLocked()
	c.mu.Unlock()
	c.notify()
}

// Cancel abandons the in-flight turn, discarding the partial reply. Once it
// returns the abandoned turn can no longer change the transcript. Idempotent.
func (c *Controller) Cancel() {
	c.mu.Lock()
	ing, changed := c.abortLocked()
	c.mu.Unlock()
	if ing != nil {
		ing.Abort()
	}
	if changed {
		c.notify()
	}
}

// Close cancels any in-flight turn and refuses further sends.
func (c *Controller) Close() {
	c.Cancel()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// SelectConversation cancels any in-flight turn and loads the persisted history
// of id. An empty id starts a new, not yet persisted conversation.
func (c *Controller) SelectConversation(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	ing, _ := c.abortLocked()
	c.gen++
	gen := c.gen
	c.lastErr = nil
	c.failed = nil
	c.state.ConversationID = id
	c.state.Messages = nil
	c.state.Phase = PhaseIdle
	if id != "" {
		c.state.Phase = PhaseResolving
	}
	c.bumpLocked()
	c.mu.Unlock()
	if ing != nil {
		ing.Abort()
	}
	c.notify()
	if id == "" {
		return nil
	}

	conv, err := c.store.GetConversation(ctx, id)
	if err == nil && conv.PatientID != c.patientID {
		conv, err = nil, fmt.Errorf("conversation %s: %w", id, types.ErrForbidden)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return ErrCancelled
	}
	if err != nil {
		kind := ErrPersistence
		if errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrForbidden) {
			kind = ErrResolution
		}
		serr := newError(kind, "load conversation "+id, err)
		c.state.ConversationID = ""
		c.state.Phase = PhaseErrored
		c.lastErr = serr
		c.bumpLocked()
		c.mu.Unlock()
		c.notify()
		return serr
	}
	msgs := make([]types.Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		m.Content = normalize.Normalize(m.Content)
		msgs = append(msgs, m)
	}
	c.state.ConversationID = conv.ID
	c.state.Messages = msgs
	c.state.Phase = PhaseIdle
	c.bumpLocked()
	c.mu.Unlock()
	c.notify()
	return nil
}

// NewConversation resets the session; the conversation is created on first send.
func (c *Controller) NewConversation(ctx context.Context) error {
	return c.SelectConversation(ctx, "")
}

func (c *Controller) ListConversations(ctx context.Context) ([]types.ConversationSummary, error) {
	list, err := c.store.ListConversations(ctx, c.patientID)
	if err != nil {
		return nil, newError(ErrPersistence, "list conversations", err)
	}
	return list, nil
}

func (c *Controller) RenameConversation(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.New("title is empty")
	}
	if err := c.checkOwner(ctx, id); err != nil {
		return err
	}
	if err := c.store.UpdateTitle(ctx, id, title); err != nil {
		return newError(ErrPersistence, "rename conversation", err)
	}
	return nil
}

// DeleteConversation removes id; deleting the active conversation resets the session.
func (c *Controller) DeleteConversation(ctx context.Context, id string) error {
	if err := c.checkOwner(ctx, id); err != nil {
		return err
	}
	c.mu.Lock()
	active := c.state.ConversationID == id
	c.mu.Unlock()
	if active {
		if err := c.NewConversation(ctx); err != nil {
			return err
		}
	}
	if err := c.store.DeleteConversation(ctx, id); err != nil {
		return newError(ErrPersistence, "delete conversation", err)
	}
	return nil
}

func (c *Controller) checkOwner(ctx context.Context, id string) error {
	conv, err := c.store.GetConversation(ctx, id)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return newError(ErrResolution, "conversation "+id, err)
		}
		return newError(ErrPersistence, "conversation "+id, err)
	}
	if conv.PatientID != c.patientID {
		return newError(ErrResolution, "conversation "+id, types.ErrForbidden)
	}
	return nil
}

// SetCustomPrompt replaces the system prompt for later turns; empty restores the default.
func (c *Controller) SetCustomPrompt(prompt string) {
	c.mu.Lock()
	c.customPrompt = strings.TrimSpace(prompt)
	c.mu.Unlock()
}

// History is the completion request the next turn would send.
func (c *Controller) History() utiltypes.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestLocked()
}

func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// UserMessage renders err with this session's error texts.
func (c *Controller) UserMessage(err error) string {
	return userMessageWith(c.errorCopy, err)
}

func (c *Controller) snapshotLocked() State {
	s := c.state
	s.Messages = slices.Clone(c.state.Messages)
	if s.Messages == nil {
		s.Messages = []types.Message{}
	}
	s.Err = c.lastErr
	if c.lastErr != nil {
		s.LastError = c.UserMessage(c.lastErr)
	}
	s.CanRetry = c.state.Phase == PhaseErrored && c.failed != nil
	return s
}

func (c *Controller) runTurn(ctx context.Context, gen uint64, t turn) error {
	defer c.finishTurn(gen)

	convID, created, err := c.resolver.Resolve(ctx, t.existingID, c.patientID, t.text)
	if err != nil {
		return c.fail(gen, &failedTurn{stage: stageResolve, text: t.text}, err)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return ErrCancelled
	}
	if c.state.ConversationID != convID {
		if c.state.ConversationID != "" {
			// the previous conversation is gone; its transcript does not carry over
			c.state.Messages = nil
			t.skipUser, t.userMsg = false, nil
		}
		c.state.ConversationID = convID
	}
	if created {
		c.logger.Debug("turn resolved to new conversation", zap.String("conversation_id", convID))
	}

	if !t.skipUser {
		msg := types.Message{ID: c.newID(), Role: types.RoleUser, Content: t.text, Timestamp: c.now()}
		if t.userMsg != nil {
			msg = *t.userMsg
		}
		msg.ConversationID = convID
		c.state.Messages = append(c.state.Messages, msg)
		c.optimisticID = msg.ID
		c.state.Phase = PhaseSending
		c.bumpLocked()
		c.mu.Unlock()
		c.notify()

		stored, err := c.store.AppendMessage(ctx, msg)
		if err != nil {
			return c.fail(gen, &failedTurn{stage: stageSend, text: t.text, userMsg: msg},
				newError(ErrPersistence, "save message", err), msg.ID)
		}

		c.mu.Lock()
		if c.gen != gen {
			// the abort hid the message but the store kept it
			restored := c.restoreLocked(convID, *stored)
			c.mu.Unlock()
			if restored {
				c.notify()
			}
			return ErrCancelled
		}
		c.optimisticID = ""
		c.replaceLocked(*stored)
	}
	c.state.Phase = PhaseSending
	c.bumpLocked()
	req := c.requestLocked()
	c.mu.Unlock()
	c.notify()

	return c.stream(ctx, gen, convID, t.text, req)
}

func (c *Controller) stream(ctx context.Context, gen uint64, convID, text string, req utiltypes.CompletionRequest) error {
	retry := &failedTurn{stage: stageStream, text: text}

	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()
	var openTimedOut atomic.Bool
	timer := time.AfterFunc(c.idleTimeout, func() {
		openTimedOut.Store(true)
		cancelStream()
	})
	body, err := c.gateway.OpenStream(streamCtx, req)
	timer.Stop()
	if err != nil {
		switch {
		case openTimedOut.Load():
			err = newError(ErrStreamTimeout, "no response within "+c.idleTimeout.String(), err)
		case ctx.Err() != nil:
			return c.cancelled(gen)
		case !IsStreamError(err):
			err = newError(ErrStreamTransport, "open stream", err)
		}
		return c.fail(gen, retry, err)
	}
	ing := NewIngester(body, c.idleTimeout)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		ing.Abort()
		return ErrCancelled
	}
	pending := types.Message{
		ID:             c.newID(),
		ConversationID: convID,
		Role:           types.RoleAssistant,
		Timestamp:      c.now(),
	}
	c.state.Messages = append(c.state.Messages, pending)
	c.state.PendingAssistantID = pending.ID
	c.state.Streaming = true
	c.state.Phase = PhaseStreaming
	c.ingester = ing
	c.bumpLocked()
	c.mu.Unlock()
	c.notify()

	var raw strings.Builder
	for fragment, err := range ing.Fragments(streamCtx) {
		if err != nil {
			if errors.Is(err, ErrAborted) {
				return c.cancelled(gen)
			}
			return c.fail(gen, retry, err, pending.ID)
		}
		raw.WriteString(fragment)
		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return ErrCancelled
		}
		c.setContentLocked(pending.ID, raw.String())
		c.bumpLocked()
		c.mu.Unlock()
		c.notify()
	}

	final, nerr := normalize.Clean(raw.String())
	if nerr != nil {
		c.logger.Debug("reply recovered during normalization", zap.Error(nerr))
	}
	if final == "" {
		return c.fail(gen, retry, newError(ErrStreamTransport, "empty reply", nil), pending.ID)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return ErrCancelled
	}
	c.ingester = nil
	c.setContentLocked(pending.ID, final)
	c.bumpLocked()
	c.mu.Unlock()
	c.notify()

	// the stream has ended: the reply is committed even if the session moves on
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	pending.Content = final
	if _, err := c.store.AppendMessage(persistCtx, pending); err != nil {
		return c.fail(gen, retry, newError(ErrPersistence, "save reply", err), pending.ID)
	}
	if err := c.store.TouchConversation(persistCtx, convID); err != nil {
		c.logger.Warn("touch conversation failed", zap.String("conversation_id", convID), zap.Error(err))
	}

	c.mu.Lock()
	if c.gen == gen {
		c.clearStreamLocked()
		c.state.Phase = PhaseIdle
		c.lastErr = nil
		c.bumpLocked()
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

func (c *Controller) admitLocked() error {
	if c.closed {
		return ErrClosed
	}
	switch c.state.Phase {
	case PhaseResolving, PhaseSending, PhaseStreaming:
		return ErrBusy
	}
	return nil
}

func (c *Controller) beginLocked(ctx context.Context) (context.Context, uint64) {
	c.gen++
	turnCtx, cancel := context.WithCancel(ctx)
	c.cancelTurn = cancel
	c.state.Phase = PhaseResolving
	c.lastErr = nil
	c.bumpLocked()
	return turnCtx, c.gen
}

func (c *Controller) finishTurn(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen && c.cancelTurn != nil {
		c.cancelTurn()
		c.cancelTurn = nil
	}
}

// abortLocked invalidates the in-flight turn and rolls its unconfirmed messages
// back. The returned ingester must be aborted after c.mu is released.
func (c *Controller) abortLocked() (*Ingester, bool) {
	switch c.state.Phase {
	case PhaseResolving, PhaseSending, PhaseStreaming:
	default:
		return nil, false
	}
	c.gen++
	if c.cancelTurn != nil {
		c.cancelTurn()
		c.cancelTurn = nil
	}
	c.removeLocked(c.state.PendingAssistantID, c.optimisticID)
	ing := c.ingester
	c.clearStreamLocked()
	c.state.Phase = PhaseIdle
	c.bumpLocked()
	return ing, true
}

// cancelled settles a turn whose stream was aborted or whose context ended.
func (c *Controller) cancelled(gen uint64) error {
	c.mu.Lock()
	changed := false
	if c.gen == gen {
		// any ingester belongs to this goroutine and stops when it returns
		_, changed = c.abortLocked()
	}
	c.mu.Unlock()
	if changed {
		c.notify()
	}
	return ErrCancelled
}

func (c *Controller) fail(gen uint64, ft *failedTurn, err error, remove ...string) error {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return ErrCancelled
	}
	c.removeLocked(remove...)
	c.clearStreamLocked()
	c.state.Phase = PhaseErrored
	c.lastErr = err
	c.failed = ft
	c.bumpLocked()
	conv := c.state.ConversationID
	c.mu.Unlock()
	c.notify()

	logging.ErrorLogger.Error("chat turn failed",
		zap.String("patient_id", c.patientID), zap.String("conversation_id", conv), zap.Error(err))
	return err
}

func (c *Controller) clearStreamLocked() {
	c.state.PendingAssistantID = ""
	c.state.Streaming = false
	c.ingester = nil
	c.optimisticID = ""
}

func (c *Controller) removeLocked(ids ...string) {
	c.state.Messages = slices.DeleteFunc(c.state.Messages, func(m types.Message) bool {
		return m.ID != "" && slices.Contains(ids, m.ID)
	})
}

func (c *Controller) replaceLocked(m types.Message) {
	for i := range c.state.Messages {
		if c.state.Messages[i].ID == m.ID {
			c.state.Messages[i] = m
			return
		}
	}
}

// restoreLocked puts a stored message back into view, in timestamp order, if
// its conversation is still the active one.
func (c *Controller) restoreLocked(convID string, m types.Message) bool {
	if c.state.ConversationID != convID {
		return false
	}
	if slices.ContainsFunc(c.state.Messages, func(x types.Message) bool { return x.ID == m.ID }) {
		return false
	}
	i := slices.IndexFunc(c.state.Messages, func(x types.Message) bool { return x.Timestamp.After(m.Timestamp) })
	if i < 0 {
		i = len(c.state.Messages)
	}
	c.state.Messages = slices.Insert(c.state.Messages, i, m)
	c.bumpLocked()
	return true
}

func (c *Controller) setContentLocked(id, content string) {
	for i := range c.state.Messages {
		if c.state.Messages[i].ID == id {
			c.state.Messages[i].Content = content
			return
		}
	}
}

// requestLocked assembles the completion history: the active system prompt as a
// leading entry, then the normalized transcript without system rows or the
// in-flight reply.
func (c *Controller) requestLocked() utiltypes.CompletionRequest {
	var turns []utiltypes.ChatMessage
	for _, m := range c.state.Messages {
		if m.Role == types.RoleSystem || m.ID == c.state.PendingAssistantID {
			continue
		}
		content := normalize.Normalize(m.Content)
		if content == "" {
			continue
		}
		turns = append(turns, utiltypes.ChatMessage{Role: string(m.Role), Content: content})
	}
	if c.historyLimit > 0 && len(turns) > c.historyLimit {
		turns = turns[len(turns)-c.historyLimit:]
	}

	prompt := c.customPrompt
	if prompt == "" {
		prompt = c.systemPrompt
	}
	msgs := make([]utiltypes.ChatMessage, 0, len(turns)+1)
	if prompt != "" {
		msgs = append(msgs, utiltypes.ChatMessage{Role: string(types.RoleSystem), Content: prompt})
	}
	return utiltypes.CompletionRequest{
		Messages:       append(msgs, turns...),
		CustomPrompt:   c.customPrompt,
		ConversationID: c.state.ConversationID,
	}
}

func (c *Controller) bumpLocked() {
	c.state.Version++
}

func (c *Controller) notify() {
	if c.onChange == nil {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	s := c.Snapshot()
	if s.Version <= c.notified {
		return
	}
	c.notified = s.Version
	c.onChange(s)
}
