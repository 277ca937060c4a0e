// Package channel implements the relay-mediated handshake between a
// relying application and an authenticator. A relying application opens a
// session publishing the scopes it wants; the authenticator (holding the
// user's key) fulfills it with a signed authorization token; the relying
// application polls and collects the token.
//
// Sessions move Pending → Fulfilled or Pending → Expired, never out of a
// terminal state. The relay owns the mutual exclusion: at most one
// Fulfill wins per session token, enforced inside the relay lock.
package channel

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/keyhaven/keyhaven/internal/observability/logger"
	"github.com/keyhaven/keyhaven/internal/scope"
)

var (
	// ErrUnknownSession is returned when the session token is not found
	// (never created, expired and swept, or already collected).
	ErrUnknownSession = errors.New("channel: unknown session")

	// ErrAlreadyFulfilledOrExpired is returned by Fulfill when the session
	// left the Pending state.
	ErrAlreadyFulfilledOrExpired = errors.New("channel: session already fulfilled or expired")

	// ErrScopeMismatch is returned when the granted scopes exceed the
	// requested ones. Granting less is fine; granting more never is.
	ErrScopeMismatch = errors.New("channel: granted scopes exceed requested scopes")
)

// State is a session's lifecycle position.
type State string

const (
	Pending   State = "pending"
	Fulfilled State = "fulfilled"
	Expired   State = "expired"
)

const tokenBytes = 32

// maxPollWait caps a single long-poll so an abandoned relying application
// cannot pin a worker past the cap.
const maxPollWait = 55 * time.Second

// Session is one handshake in flight.
type Session struct {
	Token           string
	RequestedScopes scope.Set
	RelyingApp      string
	State           State
	CreatedAt       time.Time
	ExpiresAt       time.Time

	authToken string        // set on fulfill
	done      chan struct{} // closed on any terminal transition
}

// Status is the poll answer.
type Status struct {
	State     State     `json:"state"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Relay owns the session table.
type Relay struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	log      *zap.Logger

	stop chan struct{}
	once sync.Once
}

// NewRelay creates a relay whose sessions expire after ttl. A janitor
// goroutine sweeps expired sessions; call Close to stop it.
func NewRelay(ttl time.Duration) *Relay {
	r := &Relay{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		log:      logger.Named("channel"),
		stop:     make(chan struct{}),
	}
	go r.janitor()
	return r
}

// Close stops the janitor.
func (r *Relay) Close() {
	r.once.Do(func() { close(r.stop) })
}

// Open creates a Pending session for the given capability request and
// returns it. The session token is unguessable and single-use.
func (r *Relay) Open(requested scope.Set, relyingApp string) (*Session, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	s := &Session{
		Token:           token,
		RequestedScopes: requested,
		RelyingApp:      relyingApp,
		State:           Pending,
		CreatedAt:       now,
		ExpiresAt:       now.Add(r.ttl),
		done:            make(chan struct{}),
	}

	r.mu.Lock()
	r.sessions[token] = s
	r.mu.Unlock()

	r.log.Debug("channel opened",
		logger.Channel(token[:8]),
		logger.RelyingApp(relyingApp),
		logger.Scopes(requested.Strings()),
	)
	return s, nil
}

// Poll reports the session's state. With wait > 0 it blocks until the
// session leaves Pending, the wait (capped) elapses, or ctx is done —
// never indefinitely.
func (r *Relay) Poll(ctx context.Context, token string, wait time.Duration) (Status, error) {
	s, st, err := r.snapshot(token)
	if err != nil {
		return Status{}, err
	}
	if st.State != Pending || wait <= 0 {
		return st, nil
	}

	if wait > maxPollWait {
		wait = maxPollWait
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-s.done:
	case <-timer.C:
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}

	_, st, err = r.snapshot(token)
	if err != nil {
		return Status{}, err
	}
	return st, nil
}

// Lookup returns a copy of the session's public fields, applying lazy
// expiry first. The fulfiller uses it to learn the relying app and the
// requested scopes before building the grant.
func (r *Relay) Lookup(token string) (Session, error) {
	s, _, err := r.snapshot(token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:           s.Token,
		RequestedScopes: s.RequestedScopes,
		RelyingApp:      s.RelyingApp,
		State:           s.State,
		CreatedAt:       s.CreatedAt,
		ExpiresAt:       s.ExpiresAt,
	}, nil
}

// Fulfill delivers the signed authorization token. granted must be a
// subset of the requested scopes. Exactly one Fulfill succeeds per
// session; later attempts and attempts past expiry get
// ErrAlreadyFulfilledOrExpired.
func (r *Relay) Fulfill(token string, granted scope.Set, authToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[token]
	if !ok {
		return ErrUnknownSession
	}
	r.expireLocked(s, time.Now().UTC())
	if s.State != Pending {
		return ErrAlreadyFulfilledOrExpired
	}
	if !granted.SubsetOf(s.RequestedScopes) {
		return ErrScopeMismatch
	}

	s.State = Fulfilled
	s.authToken = authToken
	close(s.done)

	r.log.Info("channel fulfilled",
		logger.Channel(token[:8]),
		logger.RelyingApp(s.RelyingApp),
		logger.Scopes(granted.Strings()),
	)
	return nil
}

// Collect hands the fulfilled session's authorization token to the
// relying application and drops the session. A second Collect (or a
// Collect on a non-fulfilled session) fails.
func (r *Relay) Collect(token string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[token]
	if !ok {
		return "", ErrUnknownSession
	}
	if s.State != Fulfilled {
		return "", ErrAlreadyFulfilledOrExpired
	}
	delete(r.sessions, token)
	return s.authToken, nil
}

// snapshot reads a session's status, applying lazy expiry first.
func (r *Relay) snapshot(token string) (*Session, Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[token]
	if !ok {
		return nil, Status{}, ErrUnknownSession
	}
	r.expireLocked(s, time.Now().UTC())
	return s, Status{State: s.State, ExpiresAt: s.ExpiresAt}, nil
}

// expireLocked transitions a Pending session past its deadline to
// Expired. Caller holds r.mu.
func (r *Relay) expireLocked(s *Session, now time.Time) {
	if s.State == Pending && now.After(s.ExpiresAt) {
		s.State = Expired
		close(s.done)
	}
}

func (r *Relay) janitor() {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-t.C:
			r.sweep(time.Now().UTC())
		}
	}
}

// sweep expires overdue Pending sessions and drops terminal sessions
// that nobody collected within a grace period.
func (r *Relay) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped int
	for token, s := range r.sessions {
		r.expireLocked(s, now)
		if s.State != Pending && now.After(s.ExpiresAt.Add(r.ttl)) {
			delete(r.sessions, token)
			dropped++
		}
	}
	if dropped > 0 {
		r.log.Debug("swept channel sessions", logger.Count(dropped))
	}
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
