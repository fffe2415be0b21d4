// Package session holds the client's bearer token. The token is opaque to
// the client apart from its subject claim, which names the current user.
// Signatures are checked by the server only.
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/garagekeeper/internal/common"
)

var ErrNoToken = errors.New("no access token")

// Session is safe for concurrent use. It satisfies remote.TokenSource and
// the sync engine's Session interface.
type Session struct {
	mu        sync.RWMutex
	token     string
	userID    string
	invalid   error
	listeners []func(error)
	renewed   []func()
}

// New parses token and returns a valid session. An empty token yields an
// invalid session that can be filled in later with SetToken.
func New(token string) (*Session, error) {
	s := &Session{invalid: ErrNoToken}
	if token == "" {
		return s, nil
	}
	if err := s.SetToken(token); err != nil {
		return nil, err
	}
	return s, nil
}

// NewLocal returns a valid session without a token, for the in-process
// gateway which does not authenticate.
func NewLocal(userID string) *Session {
	return &Session{userID: userID}
}

// UserIDFromToken reads the subject claim without verifying the signature.
func UserIDFromToken(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", common.ErrInvalidToken)
	}
	return claims.Subject, nil
}

// SetToken replaces the token and marks the session valid.
func (s *Session) SetToken(token string) error {
	userID, err := UserIDFromToken(token)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.token, s.userID, s.invalid = token, userID, nil
	renewed := append([]func(){}, s.renewed...)
	s.mu.Unlock()

	for _, fn := range renewed {
		fn()
	}
	return nil
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) Valid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.invalid == nil
}

// Err returns why the session is invalid, or nil.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.invalid
}

// Invalidate marks the session unusable and notifies listeners once per
// transition. The token is kept so the user id stays readable for local
// operations.
func (s *Session) Invalidate(reason error) {
	if reason == nil {
		reason = common.ErrAuth
	}
	s.mu.Lock()
	if s.invalid != nil {
		s.mu.Unlock()
		return
	}
	s.invalid = reason
	listeners := append([]func(error){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(reason)
	}
}

// OnInvalidate registers fn to be called when the session is invalidated.
func (s *Session) OnInvalidate(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// OnRenew registers fn to be called after every successful SetToken.
func (s *Session) OnRenew(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renewed = append(s.renewed, fn)
}
