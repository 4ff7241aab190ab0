package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSessionSigningSecret = "secret"
	testSessionCookieName    = "db_session"
	testSessionIssuer        = "hosted-auth"
	testSessionUserID        = "user-123"
	testSessionUserEmail     = "user@example.com"
)

func newTestSessionValidator(t *testing.T, clockNow time.Time) *SessionValidator {
	t.Helper()
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		CookieName:    testSessionCookieName,
		Clock: func() time.Time {
			return clockNow
		},
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator
}

func mintSessionToken(t *testing.T, issuer string, clockNow time.Time, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserID:    testSessionUserID,
		UserEmail: testSessionUserEmail,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   testSessionUserID,
			IssuedAt:  jwt.NewNumericDate(clockNow.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(clockNow.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString([]byte(testSessionSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestSessionValidatorValidateToken(t *testing.T) {
	clockNow := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	validator := newTestSessionValidator(t, clockNow)
	signed := mintSessionToken(t, testSessionIssuer, clockNow, clockNow.Add(time.Hour))

	claims, err := validator.ValidateToken(signed)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.UserID != testSessionUserID {
		t.Fatalf("unexpected user id: %s", claims.UserID)
	}
	if claims.UserEmail != testSessionUserEmail {
		t.Fatalf("unexpected email: %s", claims.UserEmail)
	}
}

func TestSessionValidatorValidateTokenExpired(t *testing.T) {
	clockNow := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	validator := newTestSessionValidator(t, clockNow)
	signed := mintSessionToken(t, testSessionIssuer, clockNow.Add(-2*time.Hour), clockNow.Add(-time.Hour))

	_, err := validator.ValidateToken(signed)
	if !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected ErrExpiredSessionToken, got %v", err)
	}
}

func TestSessionValidatorRejectsWrongIssuer(t *testing.T) {
	clockNow := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	validator := newTestSessionValidator(t, clockNow)
	signed := mintSessionToken(t, "someone-else", clockNow, clockNow.Add(time.Hour))

	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected ErrInvalidSessionToken, got %v", err)
	}
}

func TestSessionValidatorRejectsWrongSigningKey(t *testing.T) {
	clockNow := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	validator := newTestSessionValidator(t, clockNow)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserID: testSessionUserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testSessionIssuer,
			Subject:   testSessionUserID,
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	if _, err := validator.ValidateToken(signed); err == nil {
		t.Fatalf("expected signature mismatch to fail validation")
	}
}

func TestSessionValidatorValidateRequestUsesCookie(t *testing.T) {
	clockNow := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	validator := newTestSessionValidator(t, clockNow)
	signed := mintSessionToken(t, testSessionIssuer, clockNow, clockNow.Add(time.Hour))

	request := httptest.NewRequest(http.MethodGet, "/days/today", http.NoBody)
	request.AddCookie(&http.Cookie{Name: testSessionCookieName, Value: signed})

	claims, err := validator.ValidateRequest(request)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.Subject != testSessionUserID {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
}

func TestSessionValidatorValidateRequestWithoutCookie(t *testing.T) {
	clockNow := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	validator := newTestSessionValidator(t, clockNow)

	request := httptest.NewRequest(http.MethodGet, "/days/today", http.NoBody)
	if _, err := validator.ValidateRequest(request); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected ErrMissingSessionToken, got %v", err)
	}
}
