// Package credential provides a Credential Source backed by an in-memory bearer token,
// plus a refresher that renews the token over HTTP.
package credential

import (
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"rtlink/pkg/core"
)

// Store holds the current token. It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	token     core.Token
	now       func() time.Time
	listeners map[uint64]func()
	nextID    uint64
	logger    zerolog.Logger
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		now:       time.Now,
		listeners: make(map[uint64]func()),
		logger:    zerolog.Nop(),
	}
}

// SetLogger configures the logger for the store.
func (s *Store) SetLogger(logger zerolog.Logger) {
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
}

// SetClock replaces the time source used for expiry checks.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) clock() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

// Set parses raw and stores it without notifying refresh subscribers.
// Use it for the token issued at login.
func (s *Store) Set(raw string) error {
	token, err := ParseToken(raw)
	if err != nil {
		return err
	}
	s.SetToken(token)
	return nil
}

// SetToken stores token without notifying refresh subscribers.
func (s *Store) SetToken(token core.Token) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Rotate parses raw, replaces the current token and notifies refresh subscribers.
func (s *Store) Rotate(raw string) error {
	token, err := ParseToken(raw)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.token = token
	listeners := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	logger := s.logger
	s.mu.Unlock()

	logger.Debug().
		Str("token", Mask(token.Value)).
		Time("expires_at", token.ExpiresAt).
		Int("subscribers", len(listeners)).
		Msg("credential rotated")

	for _, fn := range listeners {
		fn()
	}
	return nil
}

// Clear drops the current token.
func (s *Store) Clear() {
	s.mu.Lock()
	s.token = core.Token{}
	s.mu.Unlock()
}

// Current returns the stored token whether or not it has expired.
func (s *Store) Current() core.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// ValidToken returns the stored token if it is present and unexpired.
func (s *Store) ValidToken() (core.Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.token.ValidAt(s.now()) {
		return core.Token{}, false
	}
	return s.token, true
}

// ClearIfExpired drops the stored token if it has expired.
func (s *Store) ClearIfExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token.IsZero() || s.token.ValidAt(s.now()) {
		return
	}
	s.logger.Debug().
		Str("token", Mask(s.token.Value)).
		Time("expired_at", s.token.ExpiresAt).
		Msg("clearing expired credential")
	s.token = core.Token{}
}

// OnCredentialRefreshed registers fn to run after every Rotate. The returned function unsubscribes.
func (s *Store) OnCredentialRefreshed(fn func()) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

type jwtClaims struct {
	Exp *int64 `json:"exp"`
}

// ParseToken builds a Token from a raw bearer string. JWTs get their expiry from the exp claim;
// opaque tokens have no known expiry.
func ParseToken(raw string) (core.Token, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return core.Token{}, fmt.Errorf("empty token")
	}

	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return core.Token{Value: raw}, nil
	}

	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return core.Token{}, fmt.Errorf("decode jwt payload: %w", err)
	}

	var claims jwtClaims
	if err := sonic.Unmarshal(payload, &claims); err != nil {
		return core.Token{}, fmt.Errorf("decode jwt claims: %w", err)
	}

	token := core.Token{Value: raw}
	if claims.Exp != nil {
		token.ExpiresAt = time.Unix(*claims.Exp, 0)
	}
	return token, nil
}

// Mask shortens a token for logs.
func Mask(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:4] + "****" + value[len(value)-4:]
}
