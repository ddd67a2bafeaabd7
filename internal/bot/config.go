package bot

import (
	"time"
)

// BotConfig represents the configuration for the bot
type BotConfig struct {
	// Bot token issued by BotFather
	Token string
	// Only this Telegram user may talk to the bot; 0 lets anyone in
	OwnerID int64
	// Long polling timeout in seconds
	PollTimeout int
	// Deadline of one update, including scoring a submission
	HandlerTimeout time.Duration
	// Number of tasks listed per tier
	TasksPerTier int
	// Number of pending achievements shown
	NextAchievements int
}

// DefaultConfig returns the default bot configuration
func DefaultConfig() *BotConfig {
	return &BotConfig{
		PollTimeout:      60,
		HandlerTimeout:   2 * time.Minute,
		TasksPerTier:     10,
		NextAchievements: 3,
	}
}
