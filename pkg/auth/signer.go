package auth

import (
	"crypto/ecdsa"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"cbadv/pkg/core"
)

const (
	tokenIssuer = "cdp"
	tokenTTL    = 120 * time.Second

	// DefaultRESTHost is used to build the uri claim of REST tokens.
	DefaultRESTHost = "api.coinbase.com"
)

// TokenProvider produces a signed token for an operation. Method and path are
// optional; when both are empty the token carries no uri claim, which is the
// form used for websocket connections and channel subscriptions.
type TokenProvider interface {
	GenerateToken(method, path string) (string, error)
	// Authenticated reports whether a credential is configured.
	Authenticated() bool
}

type claims struct {
	jwt.RegisteredClaims
	URI string `json:"uri,omitempty"`
}

// Signer is a TokenProvider backed by a Credential. It holds no state besides
// the credential and its parsed key; every call produces a fresh token.
type Signer struct {
	credential *Credential
	key        *ecdsa.PrivateKey
	host       string
	ttl        time.Duration
	now        func() time.Time
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithHost sets the host used in the uri claim.
func WithHost(host string) SignerOption {
	return func(s *Signer) {
		s.host = host
	}
}

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) SignerOption {
	return func(s *Signer) {
		s.ttl = ttl
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) {
		s.now = now
	}
}

// NewSigner creates a Signer. A nil credential yields a Signer that reports
// Authenticated() == false and fails every GenerateToken call.
func NewSigner(credential *Credential, opts ...SignerOption) (*Signer, error) {
	s := &Signer{
		credential: credential,
		host:       DefaultRESTHost,
		ttl:        tokenTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if credential == nil {
		return s, nil
	}
	if !credential.Valid() {
		return nil, core.NewConfigurationError("credential requires both name and private key").
			WithCode(core.ErrCodeNoCredentials)
	}

	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(credential.Secret))
	if err != nil {
		return nil, core.NewStreamError(core.ErrorTypeConfiguration, "parse private key", err).
			WithCode(core.ErrCodeInvalidKey)
	}
	s.key = key
	return s, nil
}

// Authenticated reports whether a credential is configured.
func (s *Signer) Authenticated() bool {
	return s != nil && s.key != nil
}

// Credential returns the credential backing the signer, or nil.
func (s *Signer) Credential() *Credential {
	return s.credential
}

// GenerateToken returns an ES256 JWT valid for two minutes.
func (s *Signer) GenerateToken(method, path string) (string, error) {
	if !s.Authenticated() {
		return "", core.NewConfigurationError("configuration is required for authenticated requests").
			WithCode(core.ErrCodeNoCredentials)
	}

	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   s.credential.Name,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	if method != "" || path != "" {
		c.URI = FormatURI(method, s.host, path)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, c)
	token.Header["kid"] = s.credential.Name
	token.Header["nonce"] = nonce()

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// FormatURI builds the uri claim, e.g. "GET api.coinbase.com/api/v3/brokerage/accounts".
func FormatURI(method, host, path string) string {
	return strings.ToUpper(method) + " " + host + path
}

// 16 random bytes, hex encoded.
func nonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
