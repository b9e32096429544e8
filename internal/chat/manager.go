package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"portfolio-backend/internal/domain"
)

var (
	ErrEmptyMessage = errors.New("chat: message must not be empty")
	ErrClosed       = errors.New("chat: manager is closed")
)

// Session is one live conversation with the generative backend.
type Session interface {
	// SendMessageStream transmits text and yields reply fragments in arrival
	// order. A non-nil error is always the last element.
	SendMessageStream(ctx context.Context, text string) iter.Seq2[string, error]
}

// SessionFactory creates sessions configured with the persona instruction.
// history holds completed user/assistant pairs to replay.
type SessionFactory interface {
	NewSession(ctx context.Context, history []domain.ChatMessage) (Session, error)
}

// Manager owns a single conversation: its transcript and, lazily, the
// backend session. Callers must not send again until the previous stream
// has been drained or has failed.
type Manager struct {
	factory SessionFactory

	mu         sync.Mutex
	session    Session
	transcript []domain.ChatMessage
	closed     bool
}

// NewManager creates a Manager whose transcript starts with seed.
func NewManager(factory SessionFactory, seed []domain.ChatMessage) (*Manager, error) {
	if factory == nil {
		return nil, errors.New("chat: session factory must not be nil")
	}
	transcript := make([]domain.ChatMessage, len(seed))
	copy(transcript, seed)
	return &Manager{factory: factory, transcript: transcript}, nil
}

// StartSession creates the backend session if none exists.
func (m *Manager) StartSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.sessionLocked(ctx)
	return err
}

func (m *Manager) sessionLocked(ctx context.Context) (Session, error) {
	if m.closed {
		return nil, ErrClosed
	}
	if m.session != nil {
		return m.session, nil
	}
	s, err := m.factory.NewSession(ctx, CompletedHistory(m.transcript))
	if err != nil {
		return nil, fmt.Errorf("chat: start session: %w", err)
	}
	m.session = s
	return s, nil
}

// SendMessage transmits text on the active session, creating one first when
// absent. The returned sequence is single-pass; it yields non-empty fragments
// and, on transport failure, a final error after the session was discarded.
func (m *Manager) SendMessage(ctx context.Context, text string) (iter.Seq2[string, error], error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	m.mu.Lock()
	session, err := m.sessionLocked(ctx)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	now := time.Now().UTC()
	m.transcript = append(m.transcript,
		domain.ChatMessage{ID: uuid.NewString(), Role: domain.RoleUser, Text: text, Timestamp: now, Status: domain.StatusComplete},
		domain.ChatMessage{ID: uuid.NewString(), Role: domain.RoleAssistant, Timestamp: now, Status: domain.StatusPending},
	)
	reply := len(m.transcript) - 1
	m.mu.Unlock()

	var consumed bool
	return func(yield func(string, error) bool) {
		if consumed {
			yield("", errors.New("chat: reply stream already consumed"))
			return
		}
		consumed = true

		for fragment, err := range session.SendMessageStream(ctx, text) {
			if err != nil {
				m.finish(session, reply, domain.StatusFailed)
				yield("", fmt.Errorf("chat: stream reply: %w", err))
				return
			}
			if fragment == "" {
				continue
			}
			m.appendFragment(reply, fragment)
			if !yield(fragment, nil) {
				m.finish(session, reply, domain.StatusFailed)
				return
			}
		}
		m.finish(session, reply, domain.StatusComplete)
	}, nil
}

func (m *Manager) appendFragment(idx int, fragment string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcript[idx].Text += fragment
}

func (m *Manager) finish(session Session, idx int, status domain.MessageStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcript[idx].Status = status
	// A session that was already replaced must not be discarded here.
	if status == domain.StatusFailed && m.session == session {
		m.session = nil
	}
}

// Reset discards the backend session; the next send creates a new one.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
}

// Close discards the session and rejects further sends.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	m.closed = true
}

// HasSession reports whether a backend session is currently held.
func (m *Manager) HasSession() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// Transcript returns a copy of the messages in insertion order.
func (m *Manager) Transcript() []domain.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ChatMessage, len(m.transcript))
	copy(out, m.transcript)
	return out
}

// LastTurn returns the most recent user message and its reply.
func (m *Manager) LastTurn() (user, assistant domain.ChatMessage, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.transcript)
	if n < 2 {
		return domain.ChatMessage{}, domain.ChatMessage{}, false
	}
	user, assistant = m.transcript[n-2], m.transcript[n-1]
	if user.Role != domain.RoleUser || assistant.Role != domain.RoleAssistant {
		return domain.ChatMessage{}, domain.ChatMessage{}, false
	}
	return user, assistant, true
}

// CompletedTurns counts user messages answered by a completed reply.
func (m *Manager) CompletedTurns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(CompletedHistory(m.transcript)) / 2
}

// CompletedHistory keeps only user/assistant pairs whose reply completed
// with non-empty text. Order is preserved.
func CompletedHistory(msgs []domain.ChatMessage) []domain.ChatMessage {
	var out []domain.ChatMessage
	for i := 0; i+1 < len(msgs); i++ {
		user, reply := msgs[i], msgs[i+1]
		if user.Role != domain.RoleUser || reply.Role != domain.RoleAssistant {
			continue
		}
		if reply.Status != domain.StatusComplete || strings.TrimSpace(user.Text) == "" || strings.TrimSpace(reply.Text) == "" {
			continue
		}
		out = append(out, user, reply)
		i++
	}
	return out
}
