package types

import (
	"time"

	"github.com/crosswatch/crosswatch/internal/detection"
	"github.com/uptrace/bun"
)

// Validation bounds for operator-tunable settings.
const (
	MinChannelsLowerBound = 2
	MinChannelsUpperBound = 10

	SimilarityLowerBound = 0.5
	SimilarityUpperBound = 1.0

	WindowSecondsLowerBound = 10
	WindowSecondsUpperBound = 600

	NewAccountHoursLowerBound = 1
	NewAccountHoursUpperBound = 168

	MuteMinutesLowerBound = 1
	MuteMinutesUpperBound = 1440
)

// GuildSetting holds the per-guild protection configuration. The detection
// path reads it as an immutable value per evaluation; only the command
// consumer writes it.
type GuildSetting struct {
	bun.BaseModel `bun:"table:guild_settings"`

	GuildID        uint64  `bun:",pk"`
	Enabled        bool    `bun:",notnull"`
	AlertChannelID *uint64 `bun:",nullzero"` // Where incident cards are posted

	// Cross-channel correlation tuning.
	MinChannels            int     `bun:",notnull"`
	SimilarityThreshold    float64 `bun:",notnull"`
	DetectionWindowSeconds int     `bun:",notnull"`

	// New-account link heuristic tuning.
	DetectNewAccountLinks    bool     `bun:",notnull"`
	NewAccountThresholdHours int      `bun:",notnull"`
	AllowedLinks             []string `bun:"allowed_links"`

	// Automatic actions taken on detection, before moderator review.
	DeleteMessages      bool `bun:",notnull"`
	MuteOnDetect        bool `bun:",notnull"`
	MuteDurationMinutes int  `bun:",notnull"`

	CreatedAt time.Time  `bun:",notnull"`
	UpdatedAt *time.Time `bun:",nullzero"`
}

// DefaultGuildSetting returns the configuration used before a guild has
// stored anything, and whenever the settings row cannot be read.
func DefaultGuildSetting(guildID uint64) *GuildSetting {
	return &GuildSetting{
		GuildID:                  guildID,
		Enabled:                  true,
		MinChannels:              3,
		SimilarityThreshold:      0.7,
		DetectionWindowSeconds:   120,
		DetectNewAccountLinks:    true,
		NewAccountThresholdHours: 24,
		DeleteMessages:           true,
		MuteOnDetect:             true,
		MuteDurationMinutes:      60,
		CreatedAt:                time.Now(),
	}
}

// DetectionSettings converts the stored row into the value type the
// detection package consumes.
func (s *GuildSetting) DetectionSettings() *detection.Settings {
	return &detection.Settings{
		MinChannels:         s.MinChannels,
		SimilarityThreshold: s.SimilarityThreshold,
		Window:              time.Duration(s.DetectionWindowSeconds) * time.Second,
		NewAccountThreshold: time.Duration(s.NewAccountThresholdHours) * time.Hour,
		AllowedLinks:        s.AllowedLinks,
	}
}

// MuteDuration returns the configured mute length.
func (s *GuildSetting) MuteDuration() time.Duration {
	return time.Duration(s.MuteDurationMinutes) * time.Minute
}
