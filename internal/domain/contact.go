package domain

import (
	"strings"
	"time"
)

// Contact is the outreach recipient. Labels is a comma-separated tag list;
// do-not-contact labels short-circuit guard evaluation.
type Contact struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	OrgID     string `gorm:"type:uuid;not null"`
	Name      string `gorm:"type:varchar(255)"`
	Phone     string `gorm:"type:varchar(32)"`
	Email     string `gorm:"type:varchar(255)"`
	Timezone  string `gorm:"type:varchar(64)"`
	Consent   bool   `gorm:"not null;default:false"`
	Labels    string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasLabel reports whether the contact carries the given label.
func (c *Contact) HasLabel(label string) bool {
	if c == nil || c.Labels == "" {
		return false
	}
	want := strings.ToLower(strings.TrimSpace(label))
	for _, l := range strings.Split(c.Labels, ",") {
		if strings.ToLower(strings.TrimSpace(l)) == want {
			return true
		}
	}
	return false
}

// Address returns the send target for the given channel.
func (c *Contact) Address(channel Channel) string {
	switch channel {
	case ChannelVoice, ChannelSMS:
		return c.Phone
	case ChannelEmail:
		return c.Email
	}
	return ""
}
