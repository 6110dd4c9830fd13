package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"nftescrow/crypto"
)

const (
	tokenIssuer    = "escrowd"
	tokenClockSkew = 30 * time.Second
)

// authenticator resolves the caller of a mutating request from an HS256
// bearer token. The subject claim carries the caller address.
type authenticator struct {
	secret []byte
}

func newAuthenticator(secret string) (*authenticator, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, fmt.Errorf("rpc: JWT secret required")
	}
	return &authenticator{secret: []byte(trimmed)}, nil
}

func (a *authenticator) caller(r *http.Request) ([20]byte, *RPCError) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return [20]byte{}, newRPCError(http.StatusUnauthorized, codeUnauthorized, "missing Authorization header", nil)
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return [20]byte{}, newRPCError(http.StatusUnauthorized, codeUnauthorized, "Authorization header must use Bearer scheme", nil)
	}
	tokenString := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if tokenString == "" {
		return [20]byte{}, newRPCError(http.StatusUnauthorized, codeUnauthorized, "missing bearer token", nil)
	}
	subject, err := a.parse(tokenString)
	if err != nil {
		return [20]byte{}, newRPCError(http.StatusUnauthorized, codeUnauthorized, "invalid token", err.Error())
	}
	caller, err := crypto.ParseAddress(subject)
	if err != nil {
		return [20]byte{}, newRPCError(http.StatusUnauthorized, codeUnauthorized, "invalid token subject", err.Error())
	}
	return caller, nil
}

func (a *authenticator) parse(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	},
		jwt.WithLeeway(tokenClockSkew),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return "", err
	}
	subject, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject claim required")
	}
	return subject, nil
}

// IssueToken signs a caller token for subject valid for ttl.
func IssueToken(secret string, subject [20]byte, ttl time.Duration) (string, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return "", fmt.Errorf("rpc: JWT secret required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   crypto.FormatAddress(subject),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(trimmed))
}
