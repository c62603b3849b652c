package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Storage controls the persistence layer backing reminders.
	Storage StorageConfig `json:"storage"`

	// Reminders controls parsing, scheduling, and delivery behavior.
	// If omitted, runtime defaults apply.
	Reminders *RemindersConfig `json:"reminders,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	GroupLog     string  `json:"group_log,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls reminder persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./remindbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// RemindersConfig controls the scheduling engine and delivery pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - utc_offset: "3h"
//   - sweep_interval: "1m"
//   - send_timeout: "10s"
//   - workers: 2
//   - queue_size: 256
//   - rate_per_sec: 25
type RemindersConfig struct {
	// UTCOffset is the fixed offset applied when parsing user time
	// expressions and formatting timestamps for display. Signed Go
	// duration string, e.g. "3h", "-5h", "5h30m".
	UTCOffset string `json:"utc_offset,omitempty"`

	// SweepInterval is how often the engine re-scans storage for due
	// reminders whose timers were lost or never registered.
	SweepInterval string `json:"sweep_interval,omitempty"`

	// SendTimeout bounds each delivery attempt.
	SendTimeout string `json:"send_timeout,omitempty"`

	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// RatePerSec throttles outbound deliveries across all chats.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}
