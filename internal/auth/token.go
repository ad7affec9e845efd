// Package auth implements the signed-token scheme shared by REST and
// WebSocket authentication. A token is
// base64url(JSON{sub, role, exp}) + "." + hex(HMAC-SHA256(encoded, secret)).
// Verification compares signatures in constant time and reports expiry with
// a distinct error kind.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"kidscanvas/internal/domain"
)

// UserRole is the platform-level role carried inside tokens.
type UserRole string

const (
	RolePlayer    UserRole = "player"
	RoleModerator UserRole = "moderator"
	RoleParent    UserRole = "parent"
)

// Subject is the authenticated identity decoded from a token.
type Subject struct {
	UserID uuid.UUID
	Role   UserRole
}

type tokenClaims struct {
	Sub  string `json:"sub"`
	Role string `json:"role"`
	Exp  int64  `json:"exp"`
}

func sign(message, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// CreateAccessToken mints a signed token for the given subject.
func CreateAccessToken(userID uuid.UUID, role UserRole, secret string, ttl time.Duration) (string, error) {
	claims := tokenClaims{
		Sub:  userID.String(),
		Role: string(role),
		Exp:  time.Now().UTC().Add(ttl).Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + sign(encoded, secret), nil
}

// DecodeToken verifies a token and returns its subject. Failure kinds:
// invalid_token, invalid_signature, token_expired, invalid_subject.
func DecodeToken(token, secret string) (*Subject, error) {
	encoded, signature, ok := splitToken(token)
	if !ok {
		return nil, &domain.UnauthorizedError{Kind: "invalid_token"}
	}

	expected := sign(encoded, secret)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return nil, &domain.UnauthorizedError{Kind: "invalid_signature"}
	}

	payload, err := decodeBase64URL(encoded)
	if err != nil {
		return nil, &domain.UnauthorizedError{Kind: "invalid_token"}
	}
	var claims tokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, &domain.UnauthorizedError{Kind: "invalid_token"}
	}

	if time.Now().UTC().Unix() > claims.Exp {
		return nil, &domain.UnauthorizedError{Kind: "token_expired"}
	}

	role := UserRole(claims.Role)
	switch role {
	case RolePlayer, RoleModerator, RoleParent:
	default:
		return nil, &domain.UnauthorizedError{Kind: "invalid_subject"}
	}
	userID, err := uuid.Parse(claims.Sub)
	if err != nil {
		return nil, &domain.UnauthorizedError{Kind: "invalid_subject"}
	}

	return &Subject{UserID: userID, Role: role}, nil
}

func splitToken(token string) (encoded, signature string, ok bool) {
	for i := 0; i < len(token); i++ {
		if token[i] == '.' {
			return token[:i], token[i+1:], true
		}
	}
	return "", "", false
}

// decodeBase64URL accepts both padded and unpadded encodings, matching
// tokens minted by other services.
func decodeBase64URL(encoded string) ([]byte, error) {
	if payload, err := base64.RawURLEncoding.DecodeString(encoded); err == nil {
		return payload, nil
	}
	return base64.URLEncoding.DecodeString(encoded)
}
