package profiles

import (
	"strings"
	"time"
)

// Profile is the business profile attached to a signed-in email address.
type Profile struct {
	Email               string    `gorm:"column:email;primaryKey;size:320;not null" json:"email"`
	BusinessName        string    `gorm:"column:business_name;size:320" json:"businessName"`
	ContactEmail        string    `gorm:"column:contact_email;size:320" json:"contactEmail"`
	Website             string    `gorm:"column:website;size:512" json:"website"`
	ProfilePictureURL   string    `gorm:"column:profile_picture_url;size:512" json:"profilePictureUrl"`
	Description         string    `gorm:"column:description;type:text" json:"description"`
	SustainabilityScore *int      `gorm:"column:sustainability_score" json:"sustainabilityScore"`
	CreatedAt           time.Time `gorm:"column:created_at;not null;autoCreateTime:false" json:"createdAt"`
	UpdatedAt           time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false" json:"updatedAt"`
}

// TableName exposes the table backing business profiles.
func (Profile) TableName() string {
	return "business_profiles"
}

// ProfileUpdate carries the fields a user may change. Empty strings and a nil score leave the
// stored value untouched.
type ProfileUpdate struct {
	BusinessName        string `json:"businessName"`
	ContactEmail        string `json:"contactEmail"`
	Website             string `json:"website"`
	ProfilePictureURL   string `json:"profilePictureUrl"`
	Description         string `json:"description"`
	SustainabilityScore *int   `json:"sustainabilityScore"`
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

func normalizeEmail(value string) string {
	return strings.ToLower(normalize(value))
}
