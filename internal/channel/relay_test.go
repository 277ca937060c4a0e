package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyhaven/keyhaven/internal/scope"
)

func reqScopes(t *testing.T, texts ...string) scope.Set {
	t.Helper()
	set, err := scope.ParseSet(texts)
	require.NoError(t, err)
	return set
}

func TestOpenPollFulfillCollect(t *testing.T) {
	r := NewRelay(time.Minute)
	defer r.Close()

	s, err := r.Open(reqScopes(t, "pub/app1/:r"), "app1.example")
	require.NoError(t, err)
	require.NotEmpty(t, s.Token)

	st, err := r.Poll(context.Background(), s.Token, 0)
	require.NoError(t, err)
	assert.Equal(t, Pending, st.State)

	err = r.Fulfill(s.Token, reqScopes(t, "pub/app1/:r"), "signed-token")
	require.NoError(t, err)

	st, err = r.Poll(context.Background(), s.Token, 0)
	require.NoError(t, err)
	assert.Equal(t, Fulfilled, st.State)

	raw, err := r.Collect(s.Token)
	require.NoError(t, err)
	assert.Equal(t, "signed-token", raw)

	// Collected sessions are gone.
	_, err = r.Collect(s.Token)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestFulfillUnknownSession(t *testing.T) {
	r := NewRelay(time.Minute)
	defer r.Close()

	err := r.Fulfill("no-such-token", nil, "x")
	assert.ErrorIs(t, err, ErrUnknownSession)

	_, err = r.Poll(context.Background(), "no-such-token", 0)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestFulfillScopeMismatch(t *testing.T) {
	r := NewRelay(time.Minute)
	defer r.Close()

	s, err := r.Open(reqScopes(t, "pub/app1/:r"), "app1.example")
	require.NoError(t, err)

	// More verbs than requested.
	err = r.Fulfill(s.Token, reqScopes(t, "pub/app1/:rw"), "x")
	assert.ErrorIs(t, err, ErrScopeMismatch)

	// Wider prefix than requested.
	err = r.Fulfill(s.Token, reqScopes(t, "pub/:r"), "x")
	assert.ErrorIs(t, err, ErrScopeMismatch)

	// A failed fulfill leaves the session Pending.
	st, err := r.Poll(context.Background(), s.Token, 0)
	require.NoError(t, err)
	assert.Equal(t, Pending, st.State)

	// Granting less than requested is allowed.
	err = r.Fulfill(s.Token, reqScopes(t, "pub/app1/notes/:r"), "x")
	assert.NoError(t, err)
}

func TestFulfillExactlyOneWinner(t *testing.T) {
	r := NewRelay(time.Minute)
	defer r.Close()

	s, err := r.Open(reqScopes(t, "pub/app1/:rw"), "app1.example")
	require.NoError(t, err)

	const attempts = 16
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- r.Fulfill(s.Token, reqScopes(t, "pub/app1/:r"), "tok")
		}()
	}
	wg.Wait()
	close(results)

	var ok, rejected int
	for err := range results {
		switch {
		case err == nil:
			ok++
		default:
			assert.ErrorIs(t, err, ErrAlreadyFulfilledOrExpired)
			rejected++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, attempts-1, rejected)
}

func TestExpiredSessionCannotBeFulfilled(t *testing.T) {
	r := NewRelay(30 * time.Millisecond)
	defer r.Close()

	s, err := r.Open(reqScopes(t, "pub/app1/:r"), "app1.example")
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	err = r.Fulfill(s.Token, reqScopes(t, "pub/app1/:r"), "tok")
	assert.ErrorIs(t, err, ErrAlreadyFulfilledOrExpired)

	st, err := r.Poll(context.Background(), s.Token, 0)
	require.NoError(t, err)
	assert.Equal(t, Expired, st.State)
}

func TestPollWaitsForFulfillment(t *testing.T) {
	r := NewRelay(time.Minute)
	defer r.Close()

	s, err := r.Open(reqScopes(t, "pub/app1/:r"), "app1.example")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = r.Fulfill(s.Token, reqScopes(t, "pub/app1/:r"), "tok")
	}()

	start := time.Now()
	st, err := r.Poll(context.Background(), s.Token, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Fulfilled, st.State)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPollWaitIsBounded(t *testing.T) {
	r := NewRelay(time.Minute)
	defer r.Close()

	s, err := r.Open(reqScopes(t, "pub/app1/:r"), "app1.example")
	require.NoError(t, err)

	start := time.Now()
	st, err := r.Poll(context.Background(), s.Token, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, Pending, st.State)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestPollHonorsContextCancel(t *testing.T) {
	r := NewRelay(time.Minute)
	defer r.Close()

	s, err := r.Open(reqScopes(t, "pub/app1/:r"), "app1.example")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = r.Poll(ctx, s.Token, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSweepDropsStaleSessions(t *testing.T) {
	r := NewRelay(10 * time.Millisecond)
	defer r.Close()

	s, err := r.Open(reqScopes(t, "pub/app1/:r"), "app1.example")
	require.NoError(t, err)

	// Past expiry plus grace: the sweep removes the session entirely.
	r.sweep(time.Now().UTC().Add(time.Minute))

	_, err = r.Poll(context.Background(), s.Token, 0)
	assert.ErrorIs(t, err, ErrUnknownSession)
}
