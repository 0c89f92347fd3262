package identity

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	dErrors "fundops/pkg/domain-errors"
)

// Credentials are the raw, unverified inputs a request presents.
type Credentials struct {
	// BearerToken is the value after "Bearer " in the Authorization header.
	BearerToken string
	// TrustedPayload is the trusted actor header value. Only populated when the
	// deployment names a trusted header.
	TrustedPayload string
}

func (c Credentials) empty() bool {
	return c.BearerToken == "" && c.TrustedPayload == ""
}

// Resolver turns credentials into an Actor or fails with CodeUnauthorized.
type Resolver interface {
	Resolve(ctx context.Context, creds Credentials) (Actor, error)
}

// HeaderResolver reads a structured actor payload from a trusted header.
// It performs no cryptographic verification and is only constructed outside
// production.
type HeaderResolver struct{}

type headerPayload struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
	FundIDs []string `json:"fund_ids"`
}

const maxHeaderPayload = 8 << 10

func (HeaderResolver) Resolve(_ context.Context, creds Credentials) (Actor, error) {
	raw := strings.TrimSpace(creds.TrustedPayload)
	if raw == "" {
		return Actor{}, dErrors.New(dErrors.CodeUnauthorized, "missing actor header")
	}
	if len(raw) > maxHeaderPayload {
		return Actor{}, dErrors.New(dErrors.CodeUnauthorized, "actor header too large")
	}
	body := []byte(raw)
	if !strings.HasPrefix(raw, "{") {
		decoded, err := decodeBase64(raw)
		if err != nil {
			return Actor{}, dErrors.New(dErrors.CodeUnauthorized, "actor header is neither JSON nor base64url JSON")
		}
		body = decoded
	}

	var p headerPayload
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Actor{}, dErrors.Wrap(err, dErrors.CodeUnauthorized, "malformed actor header")
	}
	return NewActor(p.ActorID, p.Roles, p.FundIDs)
}

func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

// ChainResolver prefers a bearer token and falls back to the trusted header.
type ChainResolver struct {
	Token  Resolver
	Header Resolver
}

func (c ChainResolver) Resolve(ctx context.Context, creds Credentials) (Actor, error) {
	if creds.empty() {
		return Actor{}, dErrors.New(dErrors.CodeUnauthorized, "missing credentials")
	}
	if creds.BearerToken != "" {
		if c.Token == nil {
			return Actor{}, dErrors.New(dErrors.CodeUnauthorized, "bearer tokens are not configured")
		}
		return c.Token.Resolve(ctx, creds)
	}
	if c.Header == nil {
		return Actor{}, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token")
	}
	return c.Header.Resolve(ctx, creds)
}
