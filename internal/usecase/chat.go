package usecase

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"portfolio-backend/internal/chat"
	"portfolio-backend/internal/domain"
)

const (
	defaultMaxQuestion   = 1000
	maxConversationTurns = 10

	// sessionWindow bounds how long an idle conversation is kept.
	sessionWindow = time.Hour
	saveTimeout   = 3 * time.Second
)

// TranscriptStore persists completed turns so a cold instance can pick a
// conversation back up inside the session window.
type TranscriptStore interface {
	GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.ChatMessage, error)
	GetConversationTurnCount(ctx context.Context, conversationID string) (int, error)
	SaveTurn(ctx context.Context, conversationID string, user, reply domain.ChatMessage, turns int) error
}

type ChatInput struct {
	Message        string
	ConversationID string
}

// ChatStream is an accepted send. Fragments must be ranged at most once;
// Close releases the conversation when the caller will not range it.
type ChatStream struct {
	ConversationID string
	MessageID      string

	fragments iter.Seq2[string, error]
	release   func()
}

// Fragments yields reply text in arrival order. A failure is yielded once,
// as a *Error, and ends the sequence.
func (s *ChatStream) Fragments() iter.Seq2[string, error] {
	return s.fragments
}

func (s *ChatStream) Close() {
	if s.release != nil {
		s.release()
	}
}

// NewChatStream wraps an existing fragment sequence. release may be nil.
func NewChatStream(conversationID, messageID string, fragments iter.Seq2[string, error], release func()) *ChatStream {
	return &ChatStream{
		ConversationID: conversationID,
		MessageID:      messageID,
		fragments:      fragments,
		release:        release,
	}
}

type conversation struct {
	manager    *chat.Manager
	turns      int
	inFlight   bool
	lastActive time.Time
}

// ChatService routes visitor messages to per-conversation chat managers.
type ChatService struct {
	factory        chat.SessionFactory
	store          TranscriptStore
	log            *zap.Logger
	maxQuestionLen int
	idleTTL        time.Duration
	now            func() time.Time

	mu    sync.Mutex
	convs map[string]*conversation
}

type ChatOption func(*ChatService)

// WithTranscriptStore enables rehydration and turn persistence.
func WithTranscriptStore(store TranscriptStore) ChatOption {
	return func(s *ChatService) {
		s.store = store
	}
}

func WithChatLogger(log *zap.Logger) ChatOption {
	return func(s *ChatService) {
		if log != nil {
			s.log = log
		}
	}
}

func WithMaxQuestionLength(n int) ChatOption {
	return func(s *ChatService) {
		if n > 0 {
			s.maxQuestionLen = n
		}
	}
}

func WithIdleTTL(d time.Duration) ChatOption {
	return func(s *ChatService) {
		if d > 0 {
			s.idleTTL = d
		}
	}
}

func NewChatService(factory chat.SessionFactory, opts ...ChatOption) (*ChatService, error) {
	if factory == nil {
		return nil, errors.New("usecase: session factory must not be nil")
	}
	s := &ChatService{
		factory:        factory,
		log:            zap.NewNop(),
		maxQuestionLen: defaultMaxQuestion,
		idleTTL:        sessionWindow,
		now:            time.Now,
		convs:          make(map[string]*conversation),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Stream validates and sends a visitor message, returning the reply stream.
func (s *ChatService) Stream(ctx context.Context, in ChatInput) (*ChatStream, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return nil, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(message) > s.maxQuestionLen {
		return nil, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	convID := strings.TrimSpace(in.ConversationID)
	resumed := convID != ""
	if !resumed {
		convID = newUUID()
	}

	conv, err := s.acquire(ctx, convID, resumed)
	if err != nil {
		return nil, err
	}
	release := s.releaser(convID, conv)

	if conv.turns >= maxConversationTurns {
		release()
		return nil, newError(ErrorInvalidInput, "conversation_turn_limit", nil)
	}

	seq, err := conv.manager.SendMessage(ctx, message)
	if err != nil {
		release()
		return nil, classifySessionError(err)
	}
	_, reply, _ := conv.manager.LastTurn()

	s.log.Debug("chat message accepted",
		zap.String("conversation_id", convID),
		zap.String("message_id", reply.ID),
		zap.Int("turns", conv.turns),
	)

	return &ChatStream{
		ConversationID: convID,
		MessageID:      reply.ID,
		fragments:      s.forward(ctx, convID, conv, seq, release),
		release:        release,
	}, nil
}

// acquire returns the conversation with its in-flight flag set.
func (s *ChatService) acquire(ctx context.Context, convID string, resumed bool) (*conversation, error) {
	s.mu.Lock()
	s.evictIdleLocked()
	if conv, ok := s.convs[convID]; ok {
		if conv.inFlight {
			s.mu.Unlock()
			return nil, newError(ErrorConflict, "send_in_progress", nil)
		}
		conv.inFlight = true
		conv.lastActive = s.now()
		s.mu.Unlock()
		return conv, nil
	}
	// Reserve the id so a concurrent send for it sees the conflict while
	// the transcript loads.
	conv := &conversation{inFlight: true, lastActive: s.now()}
	s.convs[convID] = conv
	s.mu.Unlock()

	var seed []domain.ChatMessage
	if resumed {
		seed, conv.turns = s.rehydrate(ctx, convID)
	}
	m, err := chat.NewManager(s.factory, seed)
	if err != nil {
		s.mu.Lock()
		delete(s.convs, convID)
		s.mu.Unlock()
		return nil, newError(ErrorInternal, "manager_create_error", err)
	}
	conv.manager = m
	return conv, nil
}

// rehydrate loads the stored transcript. Storage failures start the
// conversation fresh.
func (s *ChatService) rehydrate(ctx context.Context, convID string) ([]domain.ChatMessage, int) {
	if s.store == nil {
		return nil, 0
	}
	history, err := s.store.GetHistory(ctx, convID, 2*maxConversationTurns)
	if err != nil {
		s.log.Warn("transcript load failed", zap.String("conversation_id", convID), zap.Error(err))
		return nil, 0
	}
	turns, err := s.store.GetConversationTurnCount(ctx, convID)
	if err != nil {
		s.log.Warn("turn count load failed", zap.String("conversation_id", convID), zap.Error(err))
	}
	if completed := len(chat.CompletedHistory(history)) / 2; completed > turns {
		turns = completed
	}
	return history, turns
}

func (s *ChatService) releaser(convID string, conv *conversation) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			conv.inFlight = false
			conv.lastActive = s.now()
			if conv.manager == nil {
				delete(s.convs, convID)
			}
		})
	}
}

func (s *ChatService) forward(ctx context.Context, convID string, conv *conversation, seq iter.Seq2[string, error], release func()) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer release()
		for fragment, err := range seq {
			if err != nil {
				s.log.Warn("chat stream failed", zap.String("conversation_id", convID), zap.Error(err))
				yield("", classifyStreamError(err))
				return
			}
			if !yield(fragment, nil) {
				return
			}
		}
		s.completeTurn(ctx, convID, conv)
	}
}

func (s *ChatService) completeTurn(ctx context.Context, convID string, conv *conversation) {
	user, reply, ok := conv.manager.LastTurn()
	if !ok || reply.Status != domain.StatusComplete {
		return
	}
	s.mu.Lock()
	conv.turns++
	turns := conv.turns
	s.mu.Unlock()

	if s.store == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := s.store.SaveTurn(saveCtx, convID, user, reply, turns); err != nil {
		s.log.Warn("transcript save failed", zap.String("conversation_id", convID), zap.Error(err))
	}
}

func (s *ChatService) evictIdleLocked() {
	cutoff := s.now().Add(-s.idleTTL)
	for id, conv := range s.convs {
		if conv.inFlight || conv.lastActive.After(cutoff) {
			continue
		}
		if conv.manager != nil {
			conv.manager.Close()
		}
		delete(s.convs, id)
	}
}

// Conversations reports how many conversations are held in memory.
func (s *ChatService) Conversations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}

func classifySessionError(err error) *Error {
	if errors.Is(err, chat.ErrClosed) {
		return newError(ErrorInternal, "conversation_closed", err)
	}
	if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
		return newError(ErrorRateLimited, "gemini_rate_limited", err)
	}
	return newError(ErrorSessionUnavailable, "session_create_error", err)
}

func classifyStreamError(err error) *Error {
	if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
		return newError(ErrorRateLimited, "gemini_rate_limited", err)
	}
	return newError(ErrorUpstream, "gemini_stream_error", err)
}

var newUUID = func() string {
	return uuid.NewString()
}
