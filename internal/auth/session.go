// Package auth issues bearer tokens for the administrator.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log"
	"sync"
	"time"

	"power-backend/internal/clock"
	apperrors "power-backend/internal/errors"
)

const (
	DefaultSessionTTL = 12 * time.Hour

	sessionTokenBytes = 32
)

// Session is an issued admin token
type Session struct {
	Username  string    `json:"username"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionStore keeps at most one live session per username
type SessionStore struct {
	username string
	password string
	ttl      time.Duration
	clock    clock.Clock

	mu     sync.Mutex
	byUser map[string]Session
}

// NewSessionStore creates a store accepting a single configured credential pair
func NewSessionStore(username, password string, ttl time.Duration, c clock.Clock) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if c == nil {
		c = clock.Real()
	}
	return &SessionStore{
		username: username,
		password: password,
		ttl:      ttl,
		clock:    c,
		byUser:   make(map[string]Session),
	}
}

// Login checks credentials and replaces any previous session for the user
func (s *SessionStore) Login(username, password string) (Session, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) == 1
	if s.password == "" || !userOK || !passOK {
		return Session{}, apperrors.Unauthorized()
	}

	token, err := newToken()
	if err != nil {
		return Session{}, apperrors.Internal("failed to generate session token", err)
	}

	session := Session{
		Username:  username,
		Token:     token,
		ExpiresAt: s.clock.Now().Add(s.ttl),
	}

	s.mu.Lock()
	s.byUser[username] = session
	s.mu.Unlock()

	log.Printf("Auth: Session issued for %s", username)
	return session, nil
}

// Authenticate resolves a bearer token to its username. Expired sessions are
// discarded.
func (s *SessionStore) Authenticate(token string) (string, error) {
	if token == "" {
		return "", apperrors.Unauthorized()
	}

	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for user, session := range s.byUser {
		if subtle.ConstantTimeCompare([]byte(session.Token), []byte(token)) != 1 {
			continue
		}
		if !now.Before(session.ExpiresAt) {
			delete(s.byUser, user)
			return "", apperrors.Unauthorized()
		}
		return user, nil
	}
	return "", apperrors.Unauthorized()
}

func newToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
