package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/keyhaven/keyhaven/internal/identity"
	"github.com/keyhaven/keyhaven/internal/trust"
)

// trustedClient builds an HTTP client that only completes a TLS handshake
// with the homeserver the trust record for serverAddress points at. Chain
// building against the system CA pool is disabled — the homeserver's
// certificate is derived from its own key, not issued by a CA — and
// replaced by record verification on every handshake, so the native and
// legacy-domain routes converge on the same trust anchor.
func trustedClient(resolver trust.Resolver, serverAddress identity.Address, resolverTimeout, requestTimeout time.Duration) (*http.Client, error) {
	pub, err := serverAddress.PublicKey()
	if err != nil {
		return nil, err
	}
	rc := trust.NewClient(resolver, resolverTimeout)

	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS13,
		InsecureSkipVerify: true, // disables CA chains only; VerifyConnection still gates
		VerifyConnection: func(cs tls.ConnectionState) error {
			// Re-resolve per handshake rather than caching past the
			// record's TTL.
			rec, err := rc.Resolve(context.Background(), pub)
			if err != nil {
				return err
			}
			return trust.VerifyConnection(rec, cs)
		},
	}
	return &http.Client{
		Timeout:   requestTimeout,
		Transport: &http.Transport{TLSClientConfig: tlsCfg},
	}, nil
}

// pinnedResolver answers with a record trusting exactly the key encoded in
// the operator-supplied address. Used when no external resolution service
// is configured: the address itself is the trust anchor.
func pinnedResolver(serverAddress identity.Address) (trust.Resolver, error) {
	pub, err := serverAddress.PublicKey()
	if err != nil {
		return nil, err
	}
	return &trust.Static{Records: map[string]trust.Record{
		serverAddress.String(): {PublicKey: pub},
	}}, nil
}
