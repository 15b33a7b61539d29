// Package token issues the RS256 session and offline tokens handed to
// clients on successful validation.
package token

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/bulc-app/license-server/internal/config"
)

// Provider supplies the signing key material for token issuance.
type Provider interface {
	// Enabled reports whether a signing key is configured. When false,
	// issuers return no token instead of failing the validation.
	Enabled() bool
	SigningKey() *rsa.PrivateKey
	VerifyKey() *rsa.PublicKey
	// KeyID is placed in the JWT "kid" header so verifiers can pick the
	// right public key during rotation.
	KeyID() string
}

type fileProvider struct {
	key *rsa.PrivateKey
	kid string
}

// NewFileProvider loads an RSA private key from the PEM file named in the
// config. A missing path is fatal in production and downgrades token
// issuance to disabled everywhere else.
func NewFileProvider(cfg config.Config, log *zap.Logger) (Provider, error) {
	path := cfg.Licensing.PrivateKeyPath
	if path == "" {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("token: LICENSE_PRIVATE_KEY_PATH is required in production")
		}
		log.Warn("token signing disabled, no private key configured")
		return &fileProvider{}, nil
	}

	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("token: read private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("token: parse private key: %w", err)
	}

	p := &fileProvider{key: key, kid: fingerprintKey(key)}
	log.Info("token signing key loaded", zap.String("kid", p.kid))
	return p, nil
}

// NewEphemeralProvider generates a throwaway RSA key. Used in tests.
func NewEphemeralProvider() (Provider, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return &fileProvider{key: key, kid: fingerprintKey(key)}, nil
}

func (p *fileProvider) Enabled() bool { return p.key != nil }

func (p *fileProvider) SigningKey() *rsa.PrivateKey { return p.key }

func (p *fileProvider) VerifyKey() *rsa.PublicKey {
	if p.key == nil {
		return nil
	}
	return &p.key.PublicKey
}

func (p *fileProvider) KeyID() string { return p.kid }

// fingerprintKey derives a stable key id from the public modulus, so the same
// key file always produces the same kid.
func fingerprintKey(key *rsa.PrivateKey) string {
	sum := sha256.Sum256(key.PublicKey.N.Bytes())
	return hex.EncodeToString(sum[:8])
}
