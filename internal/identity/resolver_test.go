package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundops/internal/platform/config"
	id "fundops/pkg/domain"
	dErrors "fundops/pkg/domain-errors"
)

func TestHeaderResolver(t *testing.T) {
	fundID := id.NewFundID()
	ctx := context.Background()

	t.Run("raw JSON payload", func(t *testing.T) {
		payload := `{"actor_id":"u-1","roles":["gp","COMPLIANCE","GP"],"fund_ids":["` + fundID.String() + `"]}`
		actor, err := HeaderResolver{}.Resolve(ctx, Credentials{TrustedPayload: payload})
		require.NoError(t, err)
		assert.Equal(t, "u-1", actor.ID)
		assert.Equal(t, Roles{RoleCompliance, RoleGP}, actor.Roles, "roles are normalized and deduplicated")
		assert.Equal(t, []id.FundID{fundID}, actor.FundIDs)
	})

	t.Run("base64url payload", func(t *testing.T) {
		payload := base64.RawURLEncoding.EncodeToString([]byte(`{"actor_id":"u-2","roles":["AUDITOR"],"fund_ids":[]}`))
		actor, err := HeaderResolver{}.Resolve(ctx, Credentials{TrustedPayload: payload})
		require.NoError(t, err)
		assert.True(t, actor.Roles.Has(RoleAuditor))
		assert.Empty(t, actor.FundIDs)
	})

	malformed := map[string]string{
		"empty":           "",
		"not json":        "{actor_id",
		"not base64":      "%%%",
		"missing actor":   `{"roles":["GP"],"fund_ids":[]}`,
		"no roles":        `{"actor_id":"u","roles":[],"fund_ids":[]}`,
		"unknown role":    `{"actor_id":"u","roles":["ROOT"],"fund_ids":[]}`,
		"bad fund id":     `{"actor_id":"u","roles":["GP"],"fund_ids":["fund-1"]}`,
		"unknown field":   `{"actor_id":"u","roles":["GP"],"fund_ids":[],"admin":true}`,
		"blank admin":     `{"actor_id":"  ","roles":["ADMIN"]}`,
	}
	for name, payload := range malformed {
		t.Run("rejects "+name, func(t *testing.T) {
			actor, err := HeaderResolver{}.Resolve(ctx, Credentials{TrustedPayload: payload})
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
			assert.Zero(t, actor, "malformed input never yields a partial actor")
		})
	}
}

func signHS256(t *testing.T, kid string, secret []byte, claims Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(secret)
	require.NoError(t, err)
	return s
}

func validClaims(fundID id.FundID) Claims {
	now := time.Now()
	return Claims{
		Roles:   []string{"GP"},
		FundIDs: []string{fundID.String()},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-7",
			Issuer:    "https://id.fundops.test",
			Audience:  jwt.ClaimStrings{"fundops"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func TestTokenResolver_HMAC(t *testing.T) {
	secret := []byte("k1-secret")
	resolver, err := NewTokenResolver("https://id.fundops.test", "fundops", KeySet{
		"k1": secret,
		"k2": []byte("k2-secret"),
	})
	require.NoError(t, err)
	fundID := id.NewFundID()
	ctx := context.Background()

	t.Run("verified claims become the actor", func(t *testing.T) {
		actor, err := resolver.Resolve(ctx, Credentials{BearerToken: signHS256(t, "k1", secret, validClaims(fundID))})
		require.NoError(t, err)
		assert.Equal(t, "user-7", actor.ID)
		assert.Equal(t, Roles{RoleGP}, actor.Roles)
		assert.Equal(t, []id.FundID{fundID}, actor.FundIDs)
	})

	cases := map[string]func() string{
		"wrong issuer": func() string {
			c := validClaims(fundID)
			c.Issuer = "https://evil.test"
			return signHS256(t, "k1", secret, c)
		},
		"wrong audience": func() string {
			c := validClaims(fundID)
			c.Audience = jwt.ClaimStrings{"other"}
			return signHS256(t, "k1", secret, c)
		},
		"expired": func() string {
			c := validClaims(fundID)
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
			return signHS256(t, "k1", secret, c)
		},
		"no expiry": func() string {
			c := validClaims(fundID)
			c.ExpiresAt = nil
			return signHS256(t, "k1", secret, c)
		},
		"unknown kid": func() string { return signHS256(t, "k9", secret, validClaims(fundID)) },
		"missing kid": func() string { return signHS256(t, "", secret, validClaims(fundID)) },
		"wrong key":   func() string { return signHS256(t, "k2", secret, validClaims(fundID)) },
		"no subject": func() string {
			c := validClaims(fundID)
			c.Subject = ""
			return signHS256(t, "k1", secret, c)
		},
		"unknown role claim": func() string {
			c := validClaims(fundID)
			c.Roles = []string{"SUPERUSER"}
			return signHS256(t, "k1", secret, c)
		},
		"garbage": func() string { return "not.a.jwt" },
	}
	for name, token := range cases {
		t.Run("rejects "+name, func(t *testing.T) {
			_, err := resolver.Resolve(ctx, Credentials{BearerToken: token()})
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		})
	}
}

func TestTokenResolver_RSA(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "pub.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))

	keys, err := LoadKeySet(config.Auth{RSAPublicKeyFile: path, HMACKeys: map[string]string{"hs": "secret"}})
	require.NoError(t, err)
	resolver, err := NewTokenResolver("https://id.fundops.test", "fundops", keys)
	require.NoError(t, err)

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims(id.NewFundID()))
	tok.Header["kid"] = "rsa"
	signed, err := tok.SignedString(key)
	require.NoError(t, err)

	actor, err := resolver.Resolve(context.Background(), Credentials{BearerToken: signed})
	require.NoError(t, err)
	assert.Equal(t, "user-7", actor.ID)

	t.Run("HMAC token cannot claim the RSA kid", func(t *testing.T) {
		forged := signHS256(t, "rsa", der, validClaims(id.NewFundID()))
		_, err := resolver.Resolve(context.Background(), Credentials{BearerToken: forged})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func TestNew_ProductionIgnoresTrustedHeader(t *testing.T) {
	resolver, err := New(config.EnvProduction, config.Auth{
		Issuer:        "https://id.fundops.test",
		Audience:      "fundops",
		HMACKeys:      map[string]string{"k1": "secret"},
		TrustedHeader: "X-Fundops-Actor",
	})
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), Credentials{
		TrustedPayload: `{"actor_id":"u","roles":["ADMIN"],"fund_ids":[]}`,
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	_, err = New(config.EnvProduction, config.Auth{})
	assert.Error(t, err, "production without keys cannot build a resolver")
}

func TestNew_DevelopmentAcceptsBoth(t *testing.T) {
	secret := "k1-secret"
	resolver, err := New(config.EnvDevelopment, config.Auth{
		Issuer:        "https://id.fundops.test",
		Audience:      "fundops",
		HMACKeys:      map[string]string{"k1": secret},
		TrustedHeader: "X-Fundops-Actor",
	})
	require.NoError(t, err)
	ctx := context.Background()

	actor, err := resolver.Resolve(ctx, Credentials{TrustedPayload: `{"actor_id":"dev","roles":["GP"],"fund_ids":[]}`})
	require.NoError(t, err)
	assert.Equal(t, "dev", actor.ID)

	actor, err = resolver.Resolve(ctx, Credentials{BearerToken: signHS256(t, "k1", []byte(secret), validClaims(id.NewFundID()))})
	require.NoError(t, err)
	assert.Equal(t, "user-7", actor.ID)

	_, err = resolver.Resolve(ctx, Credentials{})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
