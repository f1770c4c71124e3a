// Package profiles stores the business profile of each signed-in user and supplies the business
// name stamped onto new forum posts.
package profiles

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"gorm.io/gorm"
)

const (
	minSustainabilityScore = 0
	maxSustainabilityScore = 100
)

var (
	// ErrInvalidProfile indicates a missing email or an out-of-range field.
	ErrInvalidProfile = errors.New("profiles: invalid profile")
	// ErrProfileNotFound indicates no profile exists for the email.
	ErrProfileNotFound = errors.New("profiles: profile not found")
)

// ServiceConfig describes the dependencies required for profile storage.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service reads and merges business profiles.
type Service struct {
	db          *gorm.DB
	now         func() time.Time
	description *bluemonday.Policy
	names       sync.Map
	revision    atomic.Uint64
}

// cachedName is a business name tagged with the cache revision it was read at.
type cachedName struct {
	name     string
	revision uint64
}

// newDescriptionPolicy keeps basic formatting and links in profile descriptions.
func newDescriptionPolicy() *bluemonday.Policy {
	policy := bluemonday.StrictPolicy()
	policy.AllowElements("p", "br", "strong", "em", "ul", "ol", "li")
	policy.AllowAttrs("href").OnElements("a")
	policy.RequireParseableURLs(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	policy.RequireNoFollowOnLinks(true)
	return policy
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("profiles: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock, description: newDescriptionPolicy()}, nil
}

// Get returns the profile stored for email.
func (s *Service) Get(ctx context.Context, email string) (Profile, error) {
	key := normalizeEmail(email)
	if key == "" {
		return Profile{}, fmt.Errorf("%w: empty email", ErrInvalidProfile)
	}
	var profile Profile
	err := s.db.WithContext(ctx).Where("email = ?", key).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// Upsert merges the non-empty fields of update into the profile for email, creating it when absent.
func (s *Service) Upsert(ctx context.Context, email string, update ProfileUpdate) (Profile, error) {
	key := normalizeEmail(email)
	if key == "" {
		return Profile{}, fmt.Errorf("%w: empty email", ErrInvalidProfile)
	}
	if score := update.SustainabilityScore; score != nil && (*score < minSustainabilityScore || *score > maxSustainabilityScore) {
		return Profile{}, fmt.Errorf("%w: sustainability score %d outside %d..%d", ErrInvalidProfile, *score, minSustainabilityScore, maxSustainabilityScore)
	}

	now := s.now().UTC()
	var merged Profile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Profile
		err := tx.Where("email = ?", key).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			merged = Profile{Email: key, CreatedAt: now}
			s.applyUpdate(&merged, update)
			merged.UpdatedAt = now
			return tx.Create(&merged).Error
		}
		if err != nil {
			return err
		}

		merged = existing
		s.applyUpdate(&merged, update)
		merged.UpdatedAt = now
		return tx.Save(&merged).Error
	})
	if err != nil {
		return Profile{}, err
	}

	s.remember(key, cachedName{name: merged.BusinessName, revision: s.revision.Add(1)})
	return merged, nil
}

// BusinessName returns the profile's business name, or "" when the author has no profile.
func (s *Service) BusinessName(ctx context.Context, email string) (string, error) {
	key := normalizeEmail(email)
	if key == "" {
		return "", nil
	}
	if cached, ok := s.names.Load(key); ok {
		return cached.(cachedName).name, nil
	}

	revision := s.revision.Load()
	profile, err := s.Get(ctx, key)
	if errors.Is(err, ErrProfileNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	s.remember(key, cachedName{name: profile.BusinessName, revision: revision})
	return profile.BusinessName, nil
}

// remember caches entry unless a newer revision is already cached for key.
func (s *Service) remember(key string, entry cachedName) {
	for {
		current, loaded := s.names.LoadOrStore(key, entry)
		if !loaded || current.(cachedName).revision >= entry.revision {
			return
		}
		if s.names.CompareAndSwap(key, current, entry) {
			return
		}
	}
}

func (s *Service) applyUpdate(profile *Profile, update ProfileUpdate) {
	if value := normalize(update.BusinessName); value != "" {
		profile.BusinessName = value
	}
	if value := normalize(update.ContactEmail); value != "" {
		profile.ContactEmail = value
	}
	if value := normalize(update.Website); value != "" {
		profile.Website = value
	}
	if value := normalize(update.ProfilePictureURL); value != "" {
		profile.ProfilePictureURL = value
	}
	if value := normalize(s.description.Sanitize(update.Description)); value != "" {
		profile.Description = value
	}
	if update.SustainabilityScore != nil {
		score := *update.SustainabilityScore
		profile.SustainabilityScore = &score
	}
}
