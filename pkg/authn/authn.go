// Package authn authenticates API callers. Administrative operations require
// a bearer token resolving to a credential that carries the esign:admin
// scope; signer-facing operations are identity-carrying but not ACL-checked
// here.
package authn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrUnauthorized = errors.New("unauthorized")

const ScopeAdmin = "esign:admin"

type Identity struct {
	CredentialID string
	Label        string
	Scopes       []string
}

type Authenticator interface {
	Authenticate(ctx context.Context, authorization string) (*Identity, error)
}

// DB resolves bearer tokens against the api_credentials table. Tokens are
// stored as SHA-256 hashes, never in the clear.
type DB struct {
	Pool *pgxpool.Pool
}

func (a *DB) Authenticate(ctx context.Context, authorization string) (*Identity, error) {
	token, ok := parseBearerToken(authorization)
	if !ok {
		return nil, ErrUnauthorized
	}
	var out Identity
	err := a.Pool.QueryRow(ctx, `
SELECT credential_id,label,scopes
FROM api_credentials
WHERE token_hash=$1
  AND revoked_at IS NULL
`, hashToken(token)).Scan(&out.CredentialID, &out.Label, &out.Scopes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return &out, nil
}

// Static accepts a single pre-shared token with full scopes. Used in dev mode
// when no database is configured.
type Static struct {
	Token string
}

func (a *Static) Authenticate(_ context.Context, authorization string) (*Identity, error) {
	token, ok := parseBearerToken(authorization)
	if !ok || a.Token == "" || token != a.Token {
		return nil, ErrUnauthorized
	}
	return &Identity{CredentialID: "cred_static", Label: "static", Scopes: []string{ScopeAdmin}}, nil
}

func HasScope(scopes []string, required string) bool {
	for _, s := range scopes {
		if s == required {
			return true
		}
	}
	return false
}

func parseBearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
