package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyhaven/keyhaven/internal/authtoken"
	"github.com/keyhaven/keyhaven/internal/cache"
	"github.com/keyhaven/keyhaven/internal/identity"
	"github.com/keyhaven/keyhaven/internal/scope"
)

func newManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m := NewManager(cfg, cache.NewMemory("test"))
	t.Cleanup(m.Close)
	return m
}

func signinFlow(t *testing.T, m *Manager, kp *identity.Keypair) *Session {
	t.Helper()
	ctx := context.Background()

	challenge, _, err := m.Challenge(ctx, kp.Address())
	require.NoError(t, err)

	sig, err := kp.Sign(SigninMessage(challenge))
	require.NoError(t, err)

	s, err := m.Signin(ctx, kp.Address(), challenge, sig)
	require.NoError(t, err)
	return s
}

func TestSigninGrantsRootScope(t *testing.T) {
	m := newManager(t, Config{})
	kp, err := identity.Generate()
	require.NoError(t, err)

	s := signinFlow(t, m, kp)
	assert.Equal(t, kp.Address(), s.Subject)

	assert.True(t, m.Check(s.ID, "pub/anything", scope.Write))
	assert.True(t, m.Check(s.ID, "priv/keys", scope.Read))
}

func TestSigninBadSignature(t *testing.T) {
	m := newManager(t, Config{})
	ctx := context.Background()

	kp, err := identity.Generate()
	require.NoError(t, err)
	other, err := identity.Generate()
	require.NoError(t, err)

	challenge, _, err := m.Challenge(ctx, kp.Address())
	require.NoError(t, err)

	sig, err := other.Sign(SigninMessage(challenge))
	require.NoError(t, err)

	_, err = m.Signin(ctx, kp.Address(), challenge, sig)
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	// The failed attempt consumed the challenge.
	good, err := kp.Sign(SigninMessage(challenge))
	require.NoError(t, err)
	_, err = m.Signin(ctx, kp.Address(), challenge, good)
	assert.ErrorIs(t, err, ErrChallengeExpired)
}

func TestSigninChallengeExpiry(t *testing.T) {
	m := newManager(t, Config{ChallengeTTL: 20 * time.Millisecond})
	ctx := context.Background()

	kp, err := identity.Generate()
	require.NoError(t, err)

	challenge, _, err := m.Challenge(ctx, kp.Address())
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	sig, err := kp.Sign(SigninMessage(challenge))
	require.NoError(t, err)
	_, err = m.Signin(ctx, kp.Address(), challenge, sig)
	assert.ErrorIs(t, err, ErrChallengeExpired)
}

func TestSigninUnknownChallenge(t *testing.T) {
	m := newManager(t, Config{})
	kp, err := identity.Generate()
	require.NoError(t, err)

	sig, err := kp.Sign(SigninMessage("never-issued"))
	require.NoError(t, err)
	_, err = m.Signin(context.Background(), kp.Address(), "never-issued", sig)
	assert.ErrorIs(t, err, ErrChallengeExpired)
}

func delegatedToken(t *testing.T, kp *identity.Keypair, app string, scopes ...string) string {
	t.Helper()
	set, err := scope.ParseSet(scopes)
	require.NoError(t, err)
	raw, err := authtoken.Issue(kp, app, set, time.Hour)
	require.NoError(t, err)
	return raw
}

func TestAuthorizeScopedSession(t *testing.T) {
	m := newManager(t, Config{})
	kp, err := identity.Generate()
	require.NoError(t, err)

	raw := delegatedToken(t, kp, "app1.example", "pub/app1/:r")
	s, err := m.Authorize(context.Background(), raw, "app1.example")
	require.NoError(t, err)

	assert.Equal(t, kp.Address(), s.Subject)
	assert.True(t, m.Check(s.ID, "pub/app1/notes.txt", scope.Read))
	assert.False(t, m.Check(s.ID, "pub/app1/notes.txt", scope.Write))
	assert.False(t, m.Check(s.ID, "priv/", scope.Read))
}

func TestAuthorizeReplay(t *testing.T) {
	m := newManager(t, Config{})
	kp, err := identity.Generate()
	require.NoError(t, err)

	raw := delegatedToken(t, kp, "app1.example", "pub/app1/:r")

	_, err = m.Authorize(context.Background(), raw, "app1.example")
	require.NoError(t, err)

	_, err = m.Authorize(context.Background(), raw, "app1.example")
	assert.ErrorIs(t, err, ErrReplayDetected)
}

func TestAuthorizeRejectsExcessiveTTL(t *testing.T) {
	m := newManager(t, Config{TokenMaxTTL: time.Minute})
	kp, err := identity.Generate()
	require.NoError(t, err)

	set, err := scope.ParseSet([]string{"pub/app1/:r"})
	require.NoError(t, err)
	raw, err := authtoken.Issue(kp, "app1.example", set, time.Hour)
	require.NoError(t, err)

	_, err = m.Authorize(context.Background(), raw, "app1.example")
	assert.ErrorIs(t, err, ErrExcessiveTokenTTL)

	// At the limit is fine; only beyond it is rejected.
	raw, err = authtoken.Issue(kp, "app1.example", set, time.Minute)
	require.NoError(t, err)
	_, err = m.Authorize(context.Background(), raw, "app1.example")
	require.NoError(t, err)
}

func TestAuthorizeConcurrentReplayOneWinner(t *testing.T) {
	m := newManager(t, Config{})
	kp, err := identity.Generate()
	require.NoError(t, err)

	raw := delegatedToken(t, kp, "app1.example", "pub/app1/:r")

	const attempts = 12
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Authorize(context.Background(), raw, "app1.example")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, replays int
	for err := range results {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrReplayDetected)
			replays++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, attempts-1, replays)
}

func TestAuthorizePropagatesTokenErrors(t *testing.T) {
	m := newManager(t, Config{})
	kp, err := identity.Generate()
	require.NoError(t, err)

	raw := delegatedToken(t, kp, "app1.example", "pub/app1/:r")
	_, err = m.Authorize(context.Background(), raw, "other.example")
	assert.ErrorIs(t, err, authtoken.ErrAudienceMismatch)
}

func TestSignoutIsIdempotentAndTerminal(t *testing.T) {
	m := newManager(t, Config{})
	kp, err := identity.Generate()
	require.NoError(t, err)

	s := signinFlow(t, m, kp)
	require.True(t, m.Check(s.ID, "pub/x", scope.Read))

	m.Signout(s.ID)
	assert.False(t, m.Check(s.ID, "pub/x", scope.Read))

	// Revoked stays revoked; repeated and unknown signouts are no-ops.
	m.Signout(s.ID)
	m.Signout("no-such-session")
	assert.False(t, m.Check(s.ID, "pub/x", scope.Read))

	_, ok := m.Get(s.ID)
	assert.False(t, ok)
}

func TestCheckUnknownSessionDenied(t *testing.T) {
	m := newManager(t, Config{})
	assert.False(t, m.Check("nope", "pub/x", scope.Read))
}

func TestInactivityGC(t *testing.T) {
	m := newManager(t, Config{InactivityTTL: 10 * time.Millisecond})
	kp, err := identity.Generate()
	require.NoError(t, err)

	s := signinFlow(t, m, kp)
	time.Sleep(30 * time.Millisecond)

	// Past the inactivity horizon the check fails closed...
	assert.False(t, m.Check(s.ID, "pub/x", scope.Read))

	// ...and the collector drops the session entirely.
	m.gc(time.Now().UTC())
	_, ok := m.Get(s.ID)
	assert.False(t, ok)
}

func TestLastSeenAdvancesOnAllowedCheck(t *testing.T) {
	m := newManager(t, Config{})
	kp, err := identity.Generate()
	require.NoError(t, err)

	s := signinFlow(t, m, kp)
	before := s.LastSeen()
	time.Sleep(5 * time.Millisecond)

	require.True(t, m.Check(s.ID, "pub/x", scope.Read))
	assert.True(t, s.LastSeen().After(before))
}
