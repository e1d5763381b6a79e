// Package chat orchestrates one conversation: the websocket session,
// the message store, the pagination window, and snapshot persistence.
// It owns the send flow (optimistic pending message, correlated reply,
// status transition) and folds unsolicited pushes into the history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/haemilhq/haemilchat/internal/auth"
	"github.com/haemilhq/haemilchat/internal/history"
	"github.com/haemilhq/haemilchat/internal/pagination"
	"github.com/haemilhq/haemilchat/internal/transport"
	"github.com/haemilhq/haemilchat/pkg/models"
)

// Conversation modes. Bot talks to the chat backend over the socket;
// counselor is local-only until the counselor relay ships.
const (
	ModeBot       = "bot"
	ModeCounselor = "counselor"
)

// ErrEmptyMessage rejects sends whose text is empty after trimming.
var ErrEmptyMessage = errors.New("chat: empty message")

const persistTimeout = 3 * time.Second

// Options wires a Service to its collaborators.
type Options struct {
	Session   *transport.Session
	Snapshots history.SnapshotStore
	Tokens    *auth.TokenStore
	Mode      string
	Window    pagination.Config
}

// Service is the conversation orchestrator. All methods are safe for
// concurrent use.
type Service struct {
	session   *transport.Session
	snapshots history.SnapshotStore
	tokens    *auth.TokenStore
	mode      string

	store  *history.Store
	window *pagination.Controller

	openMu sync.Mutex // serializes Open; opened flips only when complete

	mu           sync.Mutex
	key          string
	opened       bool
	unsubPush    func()
	unsubSignOut func()

	listenerMu   sync.Mutex
	listeners    map[int]func(models.Message)
	nextListener int
}

func NewService(opts Options) *Service {
	mode := opts.Mode
	if mode != ModeCounselor {
		mode = ModeBot
	}
	snapshots := opts.Snapshots
	if snapshots == nil {
		snapshots = history.NewMemoryStore()
	}
	return &Service{
		session:   opts.Session,
		snapshots: snapshots,
		tokens:    opts.Tokens,
		mode:      mode,
		store:     history.NewStore(),
		window:    pagination.NewController(opts.Window),
		listeners: make(map[int]func(models.Message)),
	}
}

// Open restores persisted history for the current identity, seeds the
// welcome message when there is none, subscribes to pushes and the
// signed-out signal, and (in bot mode) connects the socket. History is
// usable even when the connect fails; sends surface the socket error.
func (s *Service) Open(ctx context.Context) error {
	// A second Open racing the first waits here and returns only once
	// the winner has fully built the conversation state.
	s.openMu.Lock()
	defer s.openMu.Unlock()

	s.mu.Lock()
	if s.opened {
		s.mu.Unlock()
		return nil
	}
	token := ""
	if s.tokens != nil {
		token = s.tokens.Token()
	}
	scope := ""
	if subject := auth.Subject(token); subject != "" {
		scope = subject + "_" + s.mode
	}
	s.key = history.Key(token, scope)
	key := s.key
	s.mu.Unlock()

	saved, err := s.snapshots.Load(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Loading chat history failed, starting empty")
	}
	s.store.Restore(saved)
	if s.store.Len() == 0 {
		s.store.Append(s.welcomeMessage())
	}
	s.window.Load(s.store.Snapshot())

	s.mu.Lock()
	if s.session != nil {
		s.unsubPush = s.session.Subscribe(s.handlePush)
	}
	if s.tokens != nil {
		s.unsubSignOut = s.tokens.OnSignOut(s.handleSignOut)
	}
	s.opened = true
	s.mu.Unlock()

	if s.mode == ModeBot && s.session != nil {
		if err := s.session.Connect(ctx, token); err != nil {
			log.Warn().Err(err).Msg("Chat socket connect failed, continuing offline")
		}
	}
	s.persist()
	return nil
}

// Close detaches from the socket and the token store. The persisted
// snapshot stays; a later Open resumes the conversation.
func (s *Service) Close() {
	s.mu.Lock()
	unsubPush, unsubSignOut := s.unsubPush, s.unsubSignOut
	s.unsubPush, s.unsubSignOut = nil, nil
	s.opened = false
	s.mu.Unlock()

	if unsubPush != nil {
		unsubPush()
	}
	if unsubSignOut != nil {
		unsubSignOut()
	}
	if s.session != nil {
		s.session.Disconnect()
	}
}

// Send appends an optimistic pending message, sends it, and settles the
// status from the outcome. The returned message carries the final
// status; on failure a system notice is also appended and the transport
// error is returned alongside the failed message.
func (s *Service) Send(ctx context.Context, text string) (models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, ErrEmptyMessage
	}

	self := models.Message{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    models.SenderSelf,
		CreatedAt: time.Now().UnixMilli(),
		Status:    models.StatusPending,
	}
	s.append(self)

	if s.mode == ModeCounselor {
		self.Status = models.StatusConfirmed
		s.setStatus(self.ID, models.StatusConfirmed)
		s.append(s.systemNotice("메시지가 상담사에게 전달되었습니다. (서버 미구현)"))
		s.persist()
		return self, nil
	}

	var reply models.Frame
	err := transport.ErrNotConnected
	if s.session != nil {
		reply, err = s.session.SendAndWait(ctx, text, self.ID)
	}
	if err != nil {
		self.Status = models.StatusFailed
		s.setStatus(self.ID, models.StatusFailed)
		s.append(s.systemNotice(fmt.Sprintf("전송 실패: %v", err)))
		s.persist()
		return self, err
	}

	self.Status = models.StatusConfirmed
	s.setStatus(self.ID, models.StatusConfirmed)
	if reply.Message != "" && reply.CreatedAt > 0 {
		s.append(models.Message{
			ID:        reply.CID + "-bot",
			Text:      reply.Message,
			Sender:    models.SenderRemote,
			CreatedAt: reply.CreatedAt,
		})
	}
	s.persist()
	return self, nil
}

// OnMessage registers fn for every message newly appended to the
// conversation, from any source. The returned function removes the
// registration.
func (s *Service) OnMessage(fn func(models.Message)) func() {
	s.listenerMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenerMu.Unlock()
	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

// Visible returns the rendered window, oldest first.
func (s *Service) Visible() []models.Message {
	return s.window.Visible()
}

// History returns the full conversation, oldest first.
func (s *Service) History() []models.Message {
	return s.window.History()
}

// HandleScroll forwards the observed top offset to the pagination
// window and returns how many older messages were mounted.
func (s *Service) HandleScroll(topOffset float64) int {
	return s.window.HandleScroll(topOffset)
}

// AdjustedOffset preserves the perceived scroll position across a
// prepend of older messages.
func (s *Service) AdjustedOffset(oldOffset, oldContentHeight, newContentHeight float64) float64 {
	return s.window.AdjustedOffset(oldOffset, oldContentHeight, newContentHeight)
}

// ShouldFollowBottom reports whether a content-size change should
// auto-scroll to the newest message.
func (s *Service) ShouldFollowBottom(distanceFromBottom float64) bool {
	return s.window.ShouldFollowBottom(distanceFromBottom)
}

// ClearHistory drops the conversation from memory and storage, then
// reseeds the welcome message.
func (s *Service) ClearHistory(ctx context.Context) error {
	s.mu.Lock()
	key := s.key
	s.mu.Unlock()

	s.store.Reset()
	s.store.Append(s.welcomeMessage())
	s.window.Load(s.store.Snapshot())
	if err := s.snapshots.Delete(ctx, key); err != nil {
		return fmt.Errorf("clear chat history: %w", err)
	}
	s.persist()
	return nil
}

// append adds m to the store and window, notifies listeners, and is a
// no-op for duplicate ids.
func (s *Service) append(m models.Message) {
	if !s.store.Append(m) {
		return
	}
	s.window.Append(m)

	s.listenerMu.Lock()
	listeners := make([]func(models.Message), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.listenerMu.Unlock()
	for _, fn := range listeners {
		fn(m)
	}
}

func (s *Service) setStatus(id string, status models.Status) {
	s.store.UpdateStatus(id, status)
	s.window.UpdateStatus(id, status)
}

// handlePush folds an unsolicited frame into the history. A frame with
// a cid keeps a cid-derived id so a late reply lands under the same id
// its matched reply would have used; cid-less pushes get a fresh unique
// id since two can share a millisecond timestamp.
func (s *Service) handlePush(frame models.Frame) {
	if frame.Message == "" || frame.CreatedAt <= 0 {
		return
	}
	id := fmt.Sprintf("%d-push-%s", frame.CreatedAt, uuid.NewString()[:8])
	if frame.CID != "" {
		id = frame.CID + "-bot"
	}
	s.append(models.Message{
		ID:        id,
		Text:      frame.Message,
		Sender:    models.SenderRemote,
		CreatedAt: frame.CreatedAt,
	})
	s.persist()
}

// handleSignOut drops all per-user state: in-memory history, the
// persisted snapshot, and the socket. The service must be reopened for
// the next identity.
func (s *Service) handleSignOut() {
	s.mu.Lock()
	key := s.key
	unsubPush, unsubSignOut := s.unsubPush, s.unsubSignOut
	s.unsubPush, s.unsubSignOut = nil, nil
	s.opened = false
	s.mu.Unlock()

	if unsubPush != nil {
		unsubPush()
	}
	if unsubSignOut != nil {
		unsubSignOut()
	}
	s.store.Reset()
	s.window.Load(nil)

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.snapshots.Delete(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Deleting chat history on sign-out failed")
	}
	if s.session != nil {
		s.session.Disconnect()
	}
}

// persist writes the current snapshot. Failures are logged and
// swallowed; local state never blocks on durability.
func (s *Service) persist() {
	s.mu.Lock()
	key := s.key
	s.mu.Unlock()
	if key == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.snapshots.Save(ctx, key, s.store.Snapshot()); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Persisting chat history failed")
	}
}

func (s *Service) welcomeMessage() models.Message {
	if s.mode == ModeCounselor {
		return models.Message{
			ID:        "welcome-counselor",
			Text:      "상담사와 대화하려면 메시지를 입력하세요. (서버 미연결)",
			Sender:    models.SenderSystem,
			CreatedAt: time.Now().UnixMilli(),
		}
	}
	return models.Message{
		ID:        "welcome",
		Text:      "안녕하세요! 상담 채팅을 시작해보세요.",
		Sender:    models.SenderRemote,
		CreatedAt: time.Now().UnixMilli(),
	}
}

func (s *Service) systemNotice(text string) models.Message {
	now := time.Now().UnixMilli()
	return models.Message{
		ID:        fmt.Sprintf("%d-sys-%s", now, uuid.NewString()[:8]),
		Text:      text,
		Sender:    models.SenderSystem,
		CreatedAt: now,
	}
}
