package identity

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fundops/internal/platform/config"
	dErrors "fundops/pkg/domain-errors"
)

// Claims are the verified claims the platform reads from a bearer token.
type Claims struct {
	Roles   []string `json:"roles"`
	FundIDs []string `json:"fund_ids"`
	jwt.RegisteredClaims
}

// KeySet holds verification keys by kid. Values are []byte for HMAC and
// *rsa.PublicKey for RSA.
type KeySet map[string]any

// TokenResolver verifies bearer JWTs against an issuer, audience and key set.
type TokenResolver struct {
	issuer   string
	audience string
	keys     KeySet
	parser   *jwt.Parser
}

// NewTokenResolver requires a non-empty key set.
func NewTokenResolver(issuer, audience string, keys KeySet) (*TokenResolver, error) {
	if len(keys) == 0 {
		return nil, errors.New("token resolver requires at least one key")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512", "RS256", "RS384", "RS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &TokenResolver{
		issuer:   issuer,
		audience: audience,
		keys:     keys,
		parser:   jwt.NewParser(opts...),
	}, nil
}

func (r *TokenResolver) keyFunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	var key any
	switch {
	case kid != "":
		k, ok := r.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		key = k
	case len(r.keys) == 1:
		for _, k := range r.keys {
			key = k
		}
	default:
		return nil, errors.New("token is missing kid")
	}

	switch key.(type) {
	case []byte:
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
	case *rsa.PublicKey:
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
	default:
		return nil, jwt.ErrTokenUnverifiable
	}
	return key, nil
}

func (r *TokenResolver) Resolve(_ context.Context, creds Credentials) (Actor, error) {
	if creds.BearerToken == "" {
		return Actor{}, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token")
	}
	claims := &Claims{}
	parsed, err := r.parser.ParseWithClaims(creds.BearerToken, claims, r.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Actor{}, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return Actor{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		return Actor{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	return NewActor(claims.Subject, claims.Roles, claims.FundIDs)
}

// LoadKeySet builds the verification key set from configuration. The RSA key
// is registered under the kid "rsa" unless an HMAC key already uses it.
func LoadKeySet(cfg config.Auth) (KeySet, error) {
	keys := KeySet{}
	for kid, secret := range cfg.HMACKeys {
		keys[kid] = []byte(secret)
	}
	if cfg.RSAPublicKeyFile != "" {
		pem, err := os.ReadFile(cfg.RSAPublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read rsa public key: %w", err)
		}
		pub, err := jwt.ParseRSAPublicKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("parse rsa public key: %w", err)
		}
		if _, taken := keys["rsa"]; taken {
			return nil, errors.New(`kid "rsa" is reserved for the RSA public key`)
		}
		keys["rsa"] = pub
	}
	return keys, nil
}

// New builds the resolver for an environment. Production only ever verifies
// tokens; other environments also accept the trusted header when one is named.
func New(env config.Environment, cfg config.Auth) (Resolver, error) {
	keys, err := LoadKeySet(cfg)
	if err != nil {
		return nil, err
	}
	var token Resolver
	if len(keys) > 0 {
		tr, err := NewTokenResolver(cfg.Issuer, cfg.Audience, keys)
		if err != nil {
			return nil, err
		}
		token = tr
	}

	if env.IsProduction() {
		if token == nil {
			return nil, errors.New("production requires a token key set")
		}
		return ChainResolver{Token: token}, nil
	}
	chain := ChainResolver{Token: token}
	if cfg.TrustedHeader != "" {
		chain.Header = HeaderResolver{}
	}
	if chain.Token == nil && chain.Header == nil {
		return nil, errors.New("no credential source configured")
	}
	return chain, nil
}
