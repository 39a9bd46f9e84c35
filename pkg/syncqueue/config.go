package syncqueue

import (
	"net/url"
	"strings"
	"time"

	"github.com/harunnryd/livecore/pkg/errorsx"
	"github.com/harunnryd/livecore/pkg/resilience"
)

const (
	DefaultBaseURL      = "/api/v1/immersive"
	DefaultMaxBatchSize = 10
	DefaultSyncInterval = 10 * time.Second
	DefaultMaxRetries   = 3
)

// Config controls batching and retry for one session's queue.
type Config struct {
	SessionID    string            `mapstructure:"session_id"`
	BaseURL      string            `mapstructure:"base_url"`
	MaxBatchSize int               `mapstructure:"max_batch_size"`
	SyncInterval time.Duration     `mapstructure:"sync_interval"`
	MaxRetries   int               `mapstructure:"max_retries"`
	RetryDelays  resilience.Ladder `mapstructure:"retry_delays"`
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if len(c.RetryDelays) == 0 {
		c.RetryDelays = resilience.DefaultSyncLadder
	}
	return c
}

func (c Config) validate() error {
	if strings.TrimSpace(c.SessionID) == "" {
		return errorsx.New(errorsx.ReasonConfig, "sync queue requires a session id")
	}
	return nil
}

// Endpoint returns {base}/{sessionId}/sync.
func (c Config) Endpoint() string {
	base := strings.TrimRight(c.BaseURL, "/")
	return base + "/" + url.PathEscape(c.SessionID) + "/sync"
}

// ConfigUpdate carries a partial configuration change. Nil fields are kept.
type ConfigUpdate struct {
	MaxBatchSize *int
	SyncInterval *time.Duration
	MaxRetries   *int
	RetryDelays  resilience.Ladder
}
