package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"tokenescrow/crypto"
)

const (
	jwtClockSkew = 2 * time.Minute
	// DefaultTokenTTL bounds the lifetime of tokens minted by IssueToken.
	DefaultTokenTTL = 24 * time.Hour
)

var errAuthDisabled = errors.New("rpc: authentication secret not configured")

// authenticator verifies HS256 bearer tokens whose subject names the caller
// account the request acts for.
type authenticator struct {
	secret   []byte
	issuer   string
	required bool
}

func newAuthenticator(secret, issuer string, required bool) (*authenticator, error) {
	trimmed := strings.TrimSpace(secret)
	if required && trimmed == "" {
		return nil, errAuthDisabled
	}
	return &authenticator{secret: []byte(trimmed), issuer: strings.TrimSpace(issuer), required: required}, nil
}

func extractBearer(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func (a *authenticator) parseToken(tokenString string) (*jwt.RegisteredClaims, error) {
	if len(a.secret) == 0 {
		return nil, errAuthDisabled
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(jwtClockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	return claims, nil
}

// authorize checks that the request carries a token for caller. It is a no-op
// when authentication is not required.
func (a *authenticator) authorize(r *http.Request, caller [20]byte) *RPCError {
	if a == nil || !a.required {
		return nil
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	tokenString := extractBearer(header)
	if tokenString == "" {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	claims, err := a.parseToken(tokenString)
	if err != nil {
		return &RPCError{Code: codeUnauthorized, Message: "invalid token", Data: err.Error()}
	}
	subject, err := crypto.ParseAccount(claims.Subject, crypto.AccountPrefix)
	if err != nil || subject != caller {
		return &RPCError{Code: codeUnauthorized, Message: "token subject does not match caller"}
	}
	return nil
}

// IssueToken mints an HS256 token authorising requests on behalf of caller.
func IssueToken(secret, issuer string, caller [20]byte, ttl time.Duration, now time.Time) (string, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return "", errAuthDisabled
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	claims := jwt.RegisteredClaims{
		Subject:   crypto.FromRaw(crypto.AccountPrefix, caller).String(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if issuer = strings.TrimSpace(issuer); issuer != "" {
		claims.Issuer = issuer
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(trimmed))
	if err != nil {
		return "", fmt.Errorf("rpc: sign token: %w", err)
	}
	return signed, nil
}
