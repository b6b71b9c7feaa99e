package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"mentorchat/pkg/interfaces"
	"mentorchat/pkg/types"
)

// Claims is the token shape issued by the platform's auth service:
// subject carries the user ID, with display name and role as custom
// claims.
type Claims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HMAC-signed platform tokens. It is a pure
// function of the token and the shared secret; no state of its own.
type JWTVerifier struct {
	secret     []byte
	cookieName string
}

var _ interfaces.CredentialVerifier = (*JWTVerifier)(nil)

// NewJWTVerifier creates a verifier for tokens signed with the given
// shared secret. cookieName is the HttpOnly cookie the platform stores
// the token in; a bearer header is accepted as a fallback.
func NewJWTVerifier(secret, cookieName string) *JWTVerifier {
	return &JWTVerifier{
		secret:     []byte(secret),
		cookieName: cookieName,
	}
}

// Verify parses and validates a raw token, resolving it to an identity.
// Expired, malformed, or badly signed tokens fail; there are no retries
// at this layer, the client must re-authenticate and reconnect.
func (v *JWTVerifier) Verify(raw string) (*types.Identity, error) {
	if raw == "" {
		return nil, ErrMissingCredential
	}

	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (any, error) {
		// Pin the signing method so an attacker cannot downgrade to
		// "none" or swap in an asymmetric scheme.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidCredential
	}

	if claims.Subject == "" || !types.IsValidUserID(claims.Subject) {
		return nil, fmt.Errorf("%w: missing or invalid subject", ErrInvalidCredential)
	}

	role := types.Role(claims.Role)
	if !role.IsValid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidCredential, claims.Role)
	}

	return &types.Identity{
		ID:   claims.Subject,
		Name: claims.Name,
		Role: role,
	}, nil
}

// CredentialFromRequest extracts the raw token from a request: the
// session cookie first, then the Authorization header. Returns an empty
// string when neither is present; Verify rejects that case.
func (v *JWTVerifier) CredentialFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(v.cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
