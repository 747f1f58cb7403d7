package users

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pairpad/pairpad/internal/auth"
)

const providerGitHub = "github"

// ErrInvalidIdentity indicates the profile did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ErrUserNotFound indicates no identity is stored for the requested user id.
var ErrUserNotFound = errors.New("users: user not found")

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages canonical user identifiers and provider-specific identities.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
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

// ResolveIdentity returns the stored identity for a GitHub profile.
// It creates a new identity with a fresh canonical user id when the
// provider+subject pair has not been seen before, and refreshes the
// stored username and avatar when they change upstream.
func (s *Service) ResolveIdentity(profile auth.GitHubProfile) (Identity, error) {
	subject := normalize(profile.Subject())
	username := normalize(profile.Login)
	if subject == "" || subject == "0" || username == "" {
		return Identity{}, ErrInvalidIdentity
	}

	var identity Identity
	err := s.db.
		Where("provider = ? AND subject = ?", providerGitHub, subject).
		First(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		identity = Identity{
			Provider:   providerGitHub,
			Subject:    subject,
			UserID:     uuid.NewString(),
			Username:   username,
			AvatarURL:  normalize(profile.AvatarURL),
			LastSeenAt: s.now(),
		}
		if err := s.db.Create(&identity).Error; err != nil {
			return Identity{}, err
		}
	} else if err != nil {
		return Identity{}, err
	} else {
		updates := map[string]interface{}{"last_seen_at": s.now()}
		if username != identity.Username {
			updates["username"] = username
			identity.Username = username
		}
		if avatar := normalize(profile.AvatarURL); avatar != "" && avatar != identity.AvatarURL {
			updates["avatar_url"] = avatar
			identity.AvatarURL = avatar
		}
		if err := s.db.Model(&Identity{}).
			Where("provider = ? AND subject = ?", providerGitHub, subject).
			Updates(updates).
			Error; err != nil {
			return Identity{}, err
		}
	}

	s.cache.Store(identity.UserID, identity)
	return identity, nil
}

// GetByUserID returns the identity backing a canonical user id.
func (s *Service) GetByUserID(userID string) (Identity, error) {
	userID = normalize(userID)
	if userID == "" {
		return Identity{}, ErrInvalidIdentity
	}
	if cached, ok := s.cache.Load(userID); ok {
		if identity, ok := cached.(Identity); ok {
			return identity, nil
		}
	}

	var identity Identity
	err := s.db.Where("user_id = ?", userID).First(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, ErrUserNotFound
	}
	if err != nil {
		return Identity{}, err
	}
	s.cache.Store(userID, identity)
	return identity, nil
}
