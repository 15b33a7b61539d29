package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/bulc-app/license-server/internal/config"
)

// Claims is the payload shared by session and offline tokens. Type is
// "offline" for offline tokens and empty for session tokens.
type Claims struct {
	DeviceFingerprint string   `json:"dfp"`
	Entitlements      []string `json:"ent,omitempty"`
	TokenType         string   `json:"typ,omitempty"`
	jwt.RegisteredClaims
}

// Signed is an issued token plus its expiry.
type Signed struct {
	Token     string
	ExpiresAt time.Time
}

// SessionIssuer signs the short-lived proof-of-validation token returned on
// every successful validate and heartbeat.
type SessionIssuer struct {
	provider Provider
	log      *zap.Logger
	issuer   string
	ttl      time.Duration
}

func NewSessionIssuer(cfg config.Config, provider Provider, log *zap.Logger) *SessionIssuer {
	return &SessionIssuer{
		provider: provider,
		log:      log.Named("token.session"),
		issuer:   cfg.Licensing.TokenIssuer,
		ttl:      time.Duration(cfg.Licensing.SessionTokenTTLMinutes) * time.Minute,
	}
}

// Issue returns a signed session token, or nil when signing is disabled.
// Disabled signing never fails a validation.
func (i *SessionIssuer) Issue(licenseID, productCode, fingerprint string, entitlements []string, now time.Time) (*Signed, error) {
	if !i.provider.Enabled() {
		i.log.Debug("session token skipped, signing disabled")
		return nil, nil
	}

	expiresAt := now.Add(i.ttl)
	claims := Claims{
		DeviceFingerprint: fingerprint,
		Entitlements:      entitlements,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{productCode},
			Subject:   licenseID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = i.provider.KeyID()
	signed, err := tok.SignedString(i.provider.SigningKey())
	if err != nil {
		return nil, fmt.Errorf("token: sign session token: %w", err)
	}
	return &Signed{Token: signed, ExpiresAt: expiresAt}, nil
}

// Verify parses and validates a token issued by this service. Exposed for
// tests and for the introspection endpoint.
func Verify(provider Provider, raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("token: unexpected signing method %v", t.Header["alg"])
		}
		return provider.VerifyKey(), nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}
