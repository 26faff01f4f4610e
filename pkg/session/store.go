package session

import (
	"context"
	"errors"

	"github.com/turnwheel/turnwheel/pkg/concurrent"
)

var (
	ErrEmptyID  = errors.New("session ID cannot be empty")
	ErrNotFound = errors.New("session not found")
)

// Store persists conversation sessions. Implementations must be safe for
// concurrent conversations.
type Store interface {
	AddSession(ctx context.Context, sess *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	GetSessions(ctx context.Context) ([]*Session, error)
	UpdateSession(ctx context.Context, sess *Session) error
	DeleteSession(ctx context.Context, id string) error
}

type InMemoryStore struct {
	sessions *concurrent.Map[string, *Session]
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: concurrent.NewMap[string, *Session]()}
}

func (s *InMemoryStore) AddSession(_ context.Context, sess *Session) error {
	if sess.ID == "" {
		return ErrEmptyID
	}
	s.sessions.Store(sess.ID, sess)
	return nil
}

func (s *InMemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	sess, ok := s.sessions.Load(id)
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

func (s *InMemoryStore) GetSessions(context.Context) ([]*Session, error) {
	out := make([]*Session, 0, s.sessions.Length())
	s.sessions.Range(func(_ string, sess *Session) bool {
		out = append(out, sess)
		return true
	})
	return out, nil
}

func (s *InMemoryStore) UpdateSession(_ context.Context, sess *Session) error {
	if sess.ID == "" {
		return ErrEmptyID
	}
	if _, ok := s.sessions.Load(sess.ID); !ok {
		return ErrNotFound
	}
	s.sessions.Store(sess.ID, sess)
	return nil
}

func (s *InMemoryStore) DeleteSession(_ context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	s.sessions.Delete(id)
	return nil
}
