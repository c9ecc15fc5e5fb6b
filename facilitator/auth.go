package facilitator

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// AuthProvider adds authentication headers to outbound facilitator
// requests. Implementations must be safe for concurrent use.
type AuthProvider interface {
	Apply(req *http.Request) error
}

// StaticAuth sends a fixed bearer token on every request.
type StaticAuth struct {
	Token string
}

// Apply sets the Authorization header.
func (a StaticAuth) Apply(req *http.Request) error {
	if a.Token == "" {
		return fmt.Errorf("static auth token must not be empty")
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
	return nil
}

// CDPAuth generates Coinbase Developer Platform JWT bearer tokens for
// facilitators that require CDP API credentials. Each request gets a
// fresh short-lived token bound to its method, host, and path.
//
// CDPAuth is immutable after construction and safe for concurrent use.
type CDPAuth struct {
	keyName    string
	privateKey interface{}
}

// cdpClaims is the JWT claims shape the CDP API expects: standard
// registered claims plus a uri claim binding the token to one endpoint.
type cdpClaims struct {
	*jwt.Claims
	URI string `json:"uri"`
}

// NewCDPAuth parses a PEM-encoded ECDSA or Ed25519 private key and
// returns an AuthProvider that signs CDP bearer tokens with it.
func NewCDPAuth(keyName, keySecret string) (*CDPAuth, error) {
	if keyName == "" {
		return nil, fmt.Errorf("keyName must not be empty")
	}

	block, _ := pem.Decode([]byte(keySecret))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block: invalid PEM format")
	}

	// EC PRIVATE KEY blocks are the common CDP format; PKCS8 covers both
	// ECDSA and Ed25519 keys.
	var privateKey interface{}
	if ecKey, ecErr := x509.ParseECPrivateKey(block.Bytes); ecErr == nil {
		privateKey = ecKey
	} else {
		pkcs8Key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		privateKey = pkcs8Key
	}

	switch privateKey.(type) {
	case *ecdsa.PrivateKey:
	case crypto.Signer:
	default:
		return nil, fmt.Errorf("unsupported private key type: must be ECDSA or Ed25519")
	}

	return &CDPAuth{keyName: keyName, privateKey: privateKey}, nil
}

// Apply signs a bearer token for the request's method, host, and path.
func (a *CDPAuth) Apply(req *http.Request) error {
	token, err := a.bearerToken(req.Method, req.URL.Host, req.URL.Path)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// bearerToken generates a JWT valid for 2 minutes with the CDP uri claim
// "{METHOD} {host}{path}".
func (a *CDPAuth) bearerToken(method, host, path string) (string, error) {
	var alg jose.SignatureAlgorithm
	switch a.privateKey.(type) {
	case *ecdsa.PrivateKey:
		alg = jose.ES256
	default:
		alg = jose.EdDSA
	}

	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: alg, Key: a.privateKey},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", a.keyName),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create JWT signer: %w", err)
	}

	now := time.Now()
	claims := &cdpClaims{
		Claims: &jwt.Claims{
			Subject:   a.keyName,
			Issuer:    "coinbase-cloud",
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(now.Add(2 * time.Minute)),
		},
		URI: fmt.Sprintf("%s %s%s", method, host, path),
	}

	token, err := jwt.Signed(sig).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize JWT: %w", err)
	}
	return token, nil
}
