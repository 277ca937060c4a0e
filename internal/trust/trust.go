// Package trust resolves a homeserver's public key to its network
// endpoint and certificate-pinning material, and verifies that whatever
// certificate a connection presents chains back to that key.
//
// Resolution itself is an external collaborator behind the Resolver
// interface. The one invariant this package enforces is that the native
// path and the legacy-domain fallback converge on the same trust anchor:
// the fallback only changes how the route is found, never who is trusted.
package trust

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/keyhaven/keyhaven/internal/identity"
)

var (
	// ErrUnresolvableIdentity is returned when no usable record exists for
	// the key: nothing published, all records expired, or the resolver
	// timed out. Retryable with backoff — resolution data may be stale.
	ErrUnresolvableIdentity = errors.New("trust: unresolvable identity")

	// ErrTrustMismatch is returned when presented certificate material
	// does not match the record for the claimed key. Never retried; the
	// connection must be aborted.
	ErrTrustMismatch = errors.New("trust: certificate does not match resolved identity")
)

// Record is a resolved lookup result. It expires; callers re-resolve
// rather than cache past ExpiresAt.
type Record struct {
	PublicKey        ed25519.PublicKey
	Endpoint         string   // host:port of the homeserver
	CertFingerprints []string // hex sha256 of acceptable leaf certificates
	LegacyDomain     string   // optional ICANN-domain route, trust-neutral
	ExpiresAt        time.Time
}

// Expired reports whether the record is past its validity.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// Resolver is the external resolution collaborator.
type Resolver interface {
	Resolve(ctx context.Context, pub ed25519.PublicKey) (Record, error)
}

// Client wraps a Resolver with a timeout bound and record revalidation.
type Client struct {
	resolver Resolver
	timeout  time.Duration
}

// NewClient builds a resolution client. timeout bounds each Resolve call;
// a timed-out resolution yields ErrUnresolvableIdentity, not a hang.
func NewClient(r Resolver, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{resolver: r, timeout: timeout}
}

// Resolve fetches and validates the record for pub.
func (c *Client) Resolve(ctx context.Context, pub ed25519.PublicKey) (Record, error) {
	if len(pub) != ed25519.PublicKeySize {
		return Record{}, identity.ErrInvalidKeyMaterial
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rec, err := c.resolver.Resolve(ctx, pub)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrUnresolvableIdentity, err)
	}
	if rec.Expired(time.Now()) {
		return Record{}, fmt.Errorf("%w: record expired", ErrUnresolvableIdentity)
	}
	// A record answering for a different key is not staleness, it is a
	// wrong answer.
	if !pub.Equal(rec.PublicKey) {
		return Record{}, ErrTrustMismatch
	}
	return rec, nil
}

// Verify checks a presented leaf certificate against the record. This is
// the single verification routine for every path: callers reach it after
// endpoint discovery whether the route came from native resolution or the
// legacy-domain fallback, so the two paths cannot diverge in trust.
func Verify(rec Record, leaf *x509.Certificate) error {
	if leaf == nil {
		return ErrTrustMismatch
	}
	if pub, ok := leaf.PublicKey.(ed25519.PublicKey); ok && rec.PublicKey.Equal(pub) {
		return nil
	}
	fp := Fingerprint(leaf)
	for _, want := range rec.CertFingerprints {
		if want == fp {
			return nil
		}
	}
	return ErrTrustMismatch
}

// VerifyConnection applies Verify to a completed TLS handshake.
func VerifyConnection(rec Record, cs tls.ConnectionState) error {
	if len(cs.PeerCertificates) == 0 {
		return ErrTrustMismatch
	}
	return Verify(rec, cs.PeerCertificates[0])
}

// Fingerprint is the hex sha256 of the certificate's raw DER bytes.
func Fingerprint(leaf *x509.Certificate) string {
	sum := sha256.Sum256(leaf.Raw)
	return hex.EncodeToString(sum[:])
}

// Static is a fixed-record resolver for tests and static deployments.
type Static struct {
	Records map[string]Record // keyed by address text
}

// Resolve implements Resolver from the fixed table.
func (s *Static) Resolve(ctx context.Context, pub ed25519.PublicKey) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	rec, ok := s.Records[identity.AddressOf(pub).String()]
	if !ok {
		return Record{}, errors.New("no record published")
	}
	return rec, nil
}
