package users

import (
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/nutrilog/daybook/internal/auth"
	"gorm.io/gorm"
)

func newIdentityService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:daybook_users_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Identity{}); err != nil {
		t.Fatalf("failed to migrate identity schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Unix(1, 0)
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db
}

func TestResolveCanonicalUserIDStripsProviderPrefix(t *testing.T) {
	service, db := newIdentityService(t)

	claims := auth.SessionClaims{
		UserID:          "google:12345",
		UserEmail:       "user@example.com",
		UserDisplayName: "Example User",
		UserAvatarURL:   "https://example.com/avatar.png",
	}
	userID, err := service.ResolveCanonicalUserID(claims)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if userID != "12345" {
		t.Fatalf("expected canonical user id without provider prefix, got %q", userID)
	}

	// second call should hit cache and not create a duplicate record.
	userID, err = service.ResolveCanonicalUserID(claims)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if userID != "12345" {
		t.Fatalf("expected canonical user id to remain stable, got %q", userID)
	}

	var count int64
	if err := db.Model(&Identity{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count identities: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single identity record, got %d", count)
	}
}

func TestResolveCanonicalUserIDPersistsProfileFields(t *testing.T) {
	service, db := newIdentityService(t)

	claims := auth.SessionClaims{
		UserID:          "google:777",
		UserEmail:       "first@example.com",
		UserDisplayName: "First Name",
	}
	if _, err := service.ResolveCanonicalUserID(claims); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	var identity Identity
	if err := db.Where("provider = ? AND subject = ?", "google", "777").First(&identity).Error; err != nil {
		t.Fatalf("failed to load identity: %v", err)
	}
	if identity.Email != "first@example.com" || identity.DisplayName != "First Name" {
		t.Fatalf("profile fields not persisted: %#v", identity)
	}
	if identity.UserID != "777" {
		t.Fatalf("unexpected canonical id %q", identity.UserID)
	}
}

func TestResolveCanonicalUserIDUsesIssuerAsProvider(t *testing.T) {
	service, db := newIdentityService(t)

	claims := auth.SessionClaims{}
	claims.Subject = "member-9"
	claims.Issuer = "hosted-auth"

	userID, err := service.ResolveCanonicalUserID(claims)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if userID != "member-9" {
		t.Fatalf("expected subject as canonical id, got %q", userID)
	}

	var identity Identity
	if err := db.Where("provider = ? AND subject = ?", "hosted-auth", "member-9").First(&identity).Error; err != nil {
		t.Fatalf("expected identity scoped to the session issuer: %v", err)
	}
}

func TestResolveCanonicalUserIDRefreshesRepeatLogins(t *testing.T) {
	dsn := fmt.Sprintf("file:daybook_users_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Identity{}); err != nil {
		t.Fatalf("failed to migrate identity schema: %v", err)
	}

	current := time.Unix(100, 0)
	clock := func() time.Time { return current }

	first, err := NewService(ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	firstClaims := auth.SessionClaims{
		UserID:          "google:repeat-1",
		UserEmail:       "old@example.com",
		UserDisplayName: "Original Name",
	}
	if _, err := first.ResolveCanonicalUserID(firstClaims); err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}

	// second process: fresh service over the same database, later clock,
	// claims carrying a new email but no display name.
	current = time.Unix(200, 0)
	second, err := NewService(ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to create second service: %v", err)
	}
	secondClaims := auth.SessionClaims{
		UserID:    "google:repeat-1",
		UserEmail: "new@example.com",
	}
	if _, err := second.ResolveCanonicalUserID(secondClaims); err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}

	var identity Identity
	if err := db.Where("provider = ? AND subject = ?", "google", "repeat-1").First(&identity).Error; err != nil {
		t.Fatalf("failed to load identity: %v", err)
	}
	if !identity.FirstSeenAt.Equal(time.Unix(100, 0)) {
		t.Fatalf("first_seen_at must survive repeat logins, got %v", identity.FirstSeenAt)
	}
	if !identity.LastSeenAt.Equal(time.Unix(200, 0)) {
		t.Fatalf("last_seen_at not refreshed, got %v", identity.LastSeenAt)
	}
	if identity.Email != "new@example.com" {
		t.Fatalf("email not refreshed, got %q", identity.Email)
	}
	if identity.DisplayName != "Original Name" {
		t.Fatalf("omitted profile field must be preserved, got %q", identity.DisplayName)
	}

	var count int64
	if err := db.Model(&Identity{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count identities: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single identity record, got %d", count)
	}
}

func TestResolveCanonicalUserIDFallsBackToSubject(t *testing.T) {
	service, _ := newIdentityService(t)

	claims := auth.SessionClaims{}
	claims.Subject = "plain-subject"

	userID, err := service.ResolveCanonicalUserID(claims)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if userID != "plain-subject" {
		t.Fatalf("expected subject fallback, got %q", userID)
	}
}

func TestResolveCanonicalUserIDRejectsEmptyClaims(t *testing.T) {
	service, _ := newIdentityService(t)

	if _, err := service.ResolveCanonicalUserID(auth.SessionClaims{}); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
}
