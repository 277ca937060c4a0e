// Package authtoken implements the delegated authorization token: a signed
// assertion binding {subject, granted scopes, relying application, nonce,
// expiry}, issued by the authenticator holding the subject's private key
// and verifiable offline by the homeserver.
//
// The wire format is an EdDSA JWT whose signing key is the subject's own
// Ed25519 key; the verification key is recovered from the `sub` claim
// (the subject's address), so no lookup is needed to verify.
//
// Replay protection is deliberately not handled here: nonce consumption
// must be atomic process-wide state and belongs to the session manager.
package authtoken

import (
	"errors"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/keyhaven/keyhaven/internal/identity"
	"github.com/keyhaven/keyhaven/internal/scope"
)

var (
	// ErrMalformedToken is returned when the token cannot be parsed or is
	// missing required claims.
	ErrMalformedToken = errors.New("authtoken: malformed token")

	// ErrSignatureInvalid is returned when the signature does not verify
	// against the subject's public key.
	ErrSignatureInvalid = errors.New("authtoken: signature invalid")

	// ErrTokenExpired is returned when exp has passed.
	ErrTokenExpired = errors.New("authtoken: token expired")

	// ErrAudienceMismatch is returned when the token was issued for a
	// different relying application.
	ErrAudienceMismatch = errors.New("authtoken: audience mismatch")
)

const scopesClaim = "scopes"

// Token is a verified delegation assertion.
type Token struct {
	Subject    identity.Address
	RelyingApp string
	Nonce      string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Scopes     scope.Set
	Raw        string
}

// Issue builds and signs a token granting scopes to relyingApp for ttl.
// The keypair must hold the private key. Root scopes are rejected: full
// account access is never issuable through delegation.
func Issue(kp *identity.Keypair, relyingApp string, scopes scope.Set, ttl time.Duration) (string, error) {
	if relyingApp == "" {
		return "", fmt.Errorf("%w: empty relying app", ErrMalformedToken)
	}
	for _, s := range scopes {
		if s.Root() {
			return "", scope.ErrRootScopeDelegated
		}
	}
	priv, err := kp.Signer()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	claims := jwtv5.MapClaims{
		"sub":       kp.Address().String(),
		"aud":       relyingApp,
		"jti":       uuid.NewString(),
		"iat":       now.Unix(),
		"nbf":       now.Unix(),
		"exp":       now.Add(ttl).Unix(),
		scopesClaim: scopes.Strings(),
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
	tk.Header["typ"] = "JWT"
	return tk.SignedString(priv)
}

// Verify checks signature, expiry and audience, and parses the granted
// scope set. now is explicit so expiry checks are deterministic in tests.
func Verify(raw, expectedAudience string, now time.Time) (*Token, error) {
	parser := jwtv5.NewParser(
		jwtv5.WithValidMethods([]string{jwtv5.SigningMethodEdDSA.Alg()}),
		jwtv5.WithTimeFunc(func() time.Time { return now }),
		jwtv5.WithExpirationRequired(),
	)

	claims := jwtv5.MapClaims{}
	_, err := parser.ParseWithClaims(raw, claims, subjectKeyfunc)
	if err != nil {
		switch {
		case errors.Is(err, jwtv5.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwtv5.ErrTokenSignatureInvalid):
			return nil, ErrSignatureInvalid
		case errors.Is(err, identity.ErrInvalidKeyMaterial):
			return nil, fmt.Errorf("%w: bad subject address", ErrMalformedToken)
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
	}

	sub, _ := claims.GetSubject()
	addr, err := identity.ParseAddress(sub)
	if err != nil {
		return nil, fmt.Errorf("%w: bad subject address", ErrMalformedToken)
	}

	aud, err := claims.GetAudience()
	if err != nil || len(aud) != 1 {
		return nil, fmt.Errorf("%w: missing audience", ErrMalformedToken)
	}
	if aud[0] != expectedAudience {
		return nil, ErrAudienceMismatch
	}

	jti, _ := claims["jti"].(string)
	if jti == "" {
		return nil, fmt.Errorf("%w: missing nonce", ErrMalformedToken)
	}

	granted, err := scope.ParseDelegatedSet(claimStrings(claims, scopesClaim))
	if err != nil {
		return nil, err
	}
	if len(granted) == 0 {
		return nil, fmt.Errorf("%w: empty scope grant", ErrMalformedToken)
	}

	exp, _ := claims.GetExpirationTime()
	iat, _ := claims.GetIssuedAt()
	tok := &Token{
		Subject:    addr,
		RelyingApp: expectedAudience,
		Nonce:      jti,
		ExpiresAt:  exp.Time,
		Scopes:     granted,
		Raw:        raw,
	}
	if iat != nil {
		tok.IssuedAt = iat.Time
	}
	return tok, nil
}

// subjectKeyfunc recovers the Ed25519 verification key from the token's
// own sub claim.
func subjectKeyfunc(t *jwtv5.Token) (any, error) {
	sub, err := t.Claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrMalformedToken)
	}
	pub, err := identity.Address(sub).PublicKey()
	if err != nil {
		return nil, err
	}
	return pub, nil
}

func claimStrings(claims jwtv5.MapClaims, key string) []string {
	v, ok := claims[key]
	if !ok {
		return nil
	}
	switch arr := v.(type) {
	case []string:
		return arr
	case []any:
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
