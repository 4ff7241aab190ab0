package users

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nutrilog/daybook/internal/auth"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

var errMissingDatabase = errors.New("users: database connection required")

// fallbackProvider labels logins whose claims name no issuer at all.
const fallbackProvider = "hosted"

// login is one provider-scoped sign-in extracted from hosted-auth claims,
// carrying the profile snapshot the provider attached to it.
type login struct {
	Provider    string
	Subject     string
	Email       string
	DisplayName string
	AvatarURL   string
}

func (l login) cacheKey() string {
	return l.Provider + ":" + l.Subject
}

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service maps hosted-auth logins onto canonical Daybook user ids, so that
// every day record, analysis, and change-journal row is keyed consistently
// no matter which provider the client signed in through.
type Service struct {
	db       *gorm.DB
	now      func() time.Time
	resolved sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// ResolveCanonicalUserID returns the canonical Daybook user id for the
// provided session claims, recording the login the first time a
// provider+subject pair is seen and refreshing its profile snapshot on
// repeats. The canonical id is the provider subject itself, so resolution is
// deterministic across processes.
func (s *Service) ResolveCanonicalUserID(claims auth.SessionClaims) (string, error) {
	signIn, err := loginFromClaims(claims)
	if err != nil {
		return "", err
	}

	if cached, ok := s.resolved.Load(signIn.cacheKey()); ok {
		if canonical, ok := cached.(string); ok {
			return canonical, nil
		}
	}

	canonical := signIn.Subject
	seenAt := s.now()
	row := Identity{
		Provider:    signIn.Provider,
		Subject:     signIn.Subject,
		UserID:      canonical,
		Email:       signIn.Email,
		DisplayName: signIn.DisplayName,
		AvatarURL:   signIn.AvatarURL,
		FirstSeenAt: seenAt,
		LastSeenAt:  seenAt,
	}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "subject"}},
		DoUpdates: clause.Assignments(s.refreshAssignments(signIn, seenAt)),
	}).Create(&row).Error
	if err != nil {
		return "", err
	}

	s.resolved.Store(signIn.cacheKey(), canonical)
	return canonical, nil
}

// refreshAssignments builds the column updates for a repeat login. Profile
// fields the provider omitted this time are left untouched; first_seen_at is
// never in the set.
func (s *Service) refreshAssignments(signIn login, seenAt time.Time) map[string]interface{} {
	updates := map[string]interface{}{"last_seen_at": seenAt}
	if signIn.Email != "" {
		updates["user_email"] = signIn.Email
	}
	if signIn.DisplayName != "" {
		updates["user_display_name"] = signIn.DisplayName
	}
	if signIn.AvatarURL != "" {
		updates["user_avatar_url"] = signIn.AvatarURL
	}
	return updates
}

// loginFromClaims maps the hosted-auth claim shape onto a provider-scoped
// login. Claims minted from a provider ID token pack "provider:subject" into
// the user id; session-cookie claims carry a bare subject and name their
// origin through the token issuer.
func loginFromClaims(claims auth.SessionClaims) (login, error) {
	signIn := login{
		Provider:    fallbackProvider,
		Email:       normalize(claims.UserEmail),
		DisplayName: normalize(claims.UserDisplayName),
		AvatarURL:   normalize(claims.UserAvatarURL),
	}
	if issuer := normalize(claims.Issuer); issuer != "" {
		signIn.Provider = issuer
	}

	raw := normalize(claims.UserID)
	if provider, subject, packed := strings.Cut(raw, ":"); packed && normalize(provider) != "" && normalize(subject) != "" {
		signIn.Provider = normalize(provider)
		signIn.Subject = normalize(subject)
	} else {
		signIn.Subject = normalize(claims.Subject)
		if signIn.Subject == "" {
			signIn.Subject = raw
		}
		if signIn.Subject == "" {
			signIn.Subject = signIn.Email
		}
	}

	if signIn.Subject == "" {
		return login{}, ErrInvalidIdentity
	}
	return signIn, nil
}
