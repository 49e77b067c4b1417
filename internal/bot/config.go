package bot

// BotConfig represents the configuration for the bot
type BotConfig struct {
	Token string
	Debug bool
	// Questions fetched per study session
	SessionSize int
	// Entries shown by /top
	LeaderboardSize int
}

// DefaultConfig returns the default bot configuration
func DefaultConfig() *BotConfig {
	return &BotConfig{
		SessionSize:     10,
		LeaderboardSize: 10,
	}
}
