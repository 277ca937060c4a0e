// Package session converts verified identity proofs into server-side
// sessions and gates every storage operation on the session's scopes.
//
// Two entry points create sessions: Signin (direct challenge/response
// against the subject's key, root scope) and Authorize (delegated
// authorization token, granted scopes only). Challenges and consumed
// token nonces live in the cache client so that replay detection remains
// a single atomic check-and-set even across processes sharing a Redis.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/keyhaven/keyhaven/internal/authtoken"
	"github.com/keyhaven/keyhaven/internal/cache"
	"github.com/keyhaven/keyhaven/internal/identity"
	"github.com/keyhaven/keyhaven/internal/observability/logger"
	"github.com/keyhaven/keyhaven/internal/scope"
)

var (
	// ErrChallengeExpired is returned when the signin challenge is unknown,
	// already redeemed, or past its TTL.
	ErrChallengeExpired = errors.New("session: challenge expired")

	// ErrSignatureInvalid is returned when the signin signature does not
	// verify against the claimed public key.
	ErrSignatureInvalid = errors.New("session: signature invalid")

	// ErrReplayDetected is returned when an authorization token's nonce was
	// already consumed for that subject.
	ErrReplayDetected = errors.New("session: token replay detected")

	// ErrExcessiveTokenTTL is returned when a token's validity window is
	// longer than the manager accepts. Bounding it keeps the consumed-nonce
	// set small and limits how long a leaked token stays redeemable.
	ErrExcessiveTokenTTL = errors.New("session: token validity exceeds the accepted maximum")
)

// signinContext domain-separates signin signatures from any other use of
// the subject's key.
const signinContext = "keyhaven/signin/v1\n"

// SigninMessage is the exact byte string a client must sign to redeem a
// challenge. Exported so native clients build it identically.
func SigninMessage(challenge string) []byte {
	return []byte(signinContext + challenge)
}

// Session is server-side state binding a subject and its scopes.
type Session struct {
	ID        string
	Subject   identity.Address
	Scopes    scope.Set
	CreatedAt time.Time

	mu       sync.Mutex
	lastSeen time.Time
	revoked  bool
}

// LastSeen returns the last authorized use of the session.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Revoked reports whether the session was signed out.
func (s *Session) Revoked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revoked
}

// Config holds the manager's deployment knobs.
type Config struct {
	ChallengeTTL  time.Duration // signin challenge validity
	InactivityTTL time.Duration // session garbage collection horizon
	NonceSlack    time.Duration // consumed-nonce retention beyond token expiry
	TokenMaxTTL   time.Duration // longest accepted token validity window
}

func (c *Config) defaults() {
	if c.ChallengeTTL <= 0 {
		c.ChallengeTTL = 2 * time.Minute
	}
	if c.InactivityTTL <= 0 {
		c.InactivityTTL = 30 * 24 * time.Hour
	}
	if c.NonceSlack <= 0 {
		c.NonceSlack = time.Minute
	}
	if c.TokenMaxTTL <= 0 {
		c.TokenMaxTTL = time.Hour
	}
}

// Manager owns the session table and the consumed-nonce state.
type Manager struct {
	cfg   Config
	cache cache.Client
	log   *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	stop chan struct{}
	once sync.Once
}

// NewManager creates a session manager. A background loop garbage-collects
// inactive sessions; call Close to stop it.
func NewManager(cfg Config, c cache.Client) *Manager {
	cfg.defaults()
	m := &Manager{
		cfg:      cfg,
		cache:    c,
		log:      logger.Named("session"),
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
	go m.gcLoop()
	return m
}

// Close stops the garbage collector.
func (m *Manager) Close() {
	m.once.Do(func() { close(m.stop) })
}

// Challenge issues a fresh random challenge for the address. Each signin
// attempt gets its own nonce with its own TTL.
func (m *Manager) Challenge(ctx context.Context, addr identity.Address) (string, time.Time, error) {
	if _, err := addr.PublicKey(); err != nil {
		return "", time.Time{}, err
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", time.Time{}, err
	}
	challenge := base64.RawURLEncoding.EncodeToString(b)
	expires := time.Now().UTC().Add(m.cfg.ChallengeTTL)
	if err := m.cache.Set(ctx, challengeKey(addr, challenge), "1", m.cfg.ChallengeTTL); err != nil {
		return "", time.Time{}, fmt.Errorf("session: storing challenge: %w", err)
	}
	return challenge, expires, nil
}

// Signin redeems a challenge with a signature over SigninMessage and, on
// success, opens a session with the implicit root scope. The challenge is
// consumed by the attempt whether or not the signature verifies.
func (m *Manager) Signin(ctx context.Context, addr identity.Address, challenge string, sig []byte) (*Session, error) {
	pub, err := addr.PublicKey()
	if err != nil {
		return nil, err
	}

	if _, err := m.cache.GetDel(ctx, challengeKey(addr, challenge)); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, ErrChallengeExpired
		}
		return nil, fmt.Errorf("session: reading challenge: %w", err)
	}

	if !identity.Verify(pub, SigninMessage(challenge), sig) {
		return nil, ErrSignatureInvalid
	}

	root := scope.Set{{Prefix: "", Read: true, Write: true}}
	s := m.create(addr, root)
	m.log.Info("signin", logger.Subject(addr.String()), logger.SessionID(s.ID))
	return s, nil
}

// Authorize verifies a delegated authorization token, consumes its nonce
// atomically, and opens a session holding exactly the granted scopes. Two
// concurrent calls with the same token yield one session and one
// ErrReplayDetected.
func (m *Manager) Authorize(ctx context.Context, rawToken, expectedAudience string) (*Session, error) {
	tok, err := authtoken.Verify(rawToken, expectedAudience, time.Now())
	if err != nil {
		return nil, err
	}
	if tok.ExpiresAt.Sub(tok.IssuedAt) > m.cfg.TokenMaxTTL {
		return nil, ErrExcessiveTokenTTL
	}

	// Retain the consumed nonce until the token itself is dead, plus
	// slack for clock skew between issuer and verifier.
	ttl := time.Until(tok.ExpiresAt) + m.cfg.NonceSlack
	fresh, err := m.cache.Add(ctx, nonceKey(tok.Subject, tok.Nonce), "1", ttl)
	if err != nil {
		return nil, fmt.Errorf("session: consuming nonce: %w", err)
	}
	if !fresh {
		m.log.Warn("token replay detected",
			logger.Subject(tok.Subject.String()),
			logger.RelyingApp(tok.RelyingApp),
		)
		return nil, ErrReplayDetected
	}

	s := m.create(tok.Subject, tok.Scopes)
	m.log.Info("delegated session opened",
		logger.Subject(tok.Subject.String()),
		logger.SessionID(s.ID),
		logger.RelyingApp(tok.RelyingApp),
		logger.Scopes(tok.Scopes.Strings()),
	)
	return s, nil
}

// Check gates a storage operation. It fails closed: unknown, revoked,
// inactivity-expired or out-of-scope sessions are all Denied. On Allowed
// the session's last-seen time advances.
func (m *Manager) Check(sessionID, path string, v scope.Verb) bool {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revoked || now.Sub(s.lastSeen) > m.cfg.InactivityTTL {
		return false
	}
	if !s.Scopes.Authorizes(path, v) {
		return false
	}
	s.lastSeen = now
	return true
}

// Get returns a live (not revoked) session for introspection.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok || s.Revoked() {
		return nil, false
	}
	return s, true
}

// Signout revokes the session. Revocation is terminal and the call is
// idempotent: unknown or already-revoked sessions still report success so
// clients can safely retry.
func (m *Manager) Signout(sessionID string) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	s.mu.Lock()
	already := s.revoked
	s.revoked = true
	s.mu.Unlock()
	if !already {
		m.log.Info("signout", logger.SessionID(sessionID))
	}
}

func (m *Manager) create(addr identity.Address, scopes scope.Set) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:        uuid.NewString(),
		Subject:   addr,
		Scopes:    scopes,
		CreatedAt: now,
		lastSeen:  now,
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

func (m *Manager) gcLoop() {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.gc(time.Now().UTC())
		}
	}
}

// gc drops revoked and inactivity-expired sessions.
func (m *Manager) gc(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var dropped int
	for id, s := range m.sessions {
		s.mu.Lock()
		dead := s.revoked || now.Sub(s.lastSeen) > m.cfg.InactivityTTL
		s.mu.Unlock()
		if dead {
			delete(m.sessions, id)
			dropped++
		}
	}
	if dropped > 0 {
		m.log.Debug("collected sessions", logger.Count(dropped))
	}
}

func challengeKey(addr identity.Address, challenge string) string {
	return "challenge:" + addr.String() + ":" + challenge
}

func nonceKey(addr identity.Address, nonce string) string {
	return "nonce:" + addr.String() + ":" + nonce
}
