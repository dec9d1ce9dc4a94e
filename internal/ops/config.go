package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"main/internal/breaker"
	"main/internal/scheduler"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Database  DatabaseConfig     `json:"database"`
	Queues    []QueueConfig      `json:"queues"`
	Status    StatusConfig       `json:"status"`
	Broadcast BroadcastConfig    `json:"broadcast"`
	Features  FeatureFlagsConfig `json:"features"`
}

// DatabaseConfig describes the PostgreSQL connection.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslMode"`
}

// QueueConfig describes one named task queue.
type QueueConfig struct {
	Name           string `json:"name"`
	ExecTimeoutSec int    `json:"execTimeoutSec"`
	PollIntervalMs int    `json:"pollIntervalMs"`
	MaxRetries     int    `json:"maxRetries"`
	BackoffBaseMs  int    `json:"backoffBaseMs"`
	BackoffMaxSec  int    `json:"backoffMaxSec"`
}

// StatusConfig tunes aggregation.
type StatusConfig struct {
	PollIntervalSec   int     `json:"pollIntervalSec"`
	CollectTimeoutSec int     `json:"collectTimeoutSec"`
	DegradedBelow     float64 `json:"degradedBelow"`
}

// BroadcastConfig tunes the push path and its breaker.
type BroadcastConfig struct {
	FailureThreshold int `json:"failureThreshold"`
	CooldownSec      int `json:"cooldownSec"`
	SuccessThreshold int `json:"successThreshold"`
	PushTimeoutSec   int `json:"pushTimeoutSec"`
}

// FeatureFlagsConfig captures optional runtime flags.
type FeatureFlagsConfig struct {
	EnableBroadcast *bool `json:"enableBroadcast"`
	EnableMessages  *bool `json:"enableMessages"`
	EnableAgent     *bool `json:"enableAgent"`
}

// FeatureFlags are resolved runtime flags.
type FeatureFlags struct {
	EnableBroadcast bool
	EnableMessages  bool
	EnableAgent     bool
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Database       DatabaseConfig
	Queues         []scheduler.QueueConfig
	StatusInterval time.Duration
	CollectTimeout time.Duration
	DegradedBelow  float64
	Breaker        breaker.Config
	PushTimeout    time.Duration
	Features       FeatureFlags
}

// QueueNames lists the configured queue names in config order.
func (l Loaded) QueueNames() []string {
	names := make([]string, 0, len(l.Queues))
	for _, q := range l.Queues {
		names = append(names, q.Name)
	}
	return names
}

// Load reads a JSON config file and resolves it.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return Resolve(cfg)
}

// Resolve validates a parsed config and applies defaults.
func Resolve(cfg FileConfig) (Loaded, error) {
	queues, err := resolveQueues(cfg.Queues)
	if err != nil {
		return Loaded{}, err
	}

	loaded := Loaded{
		Database:       cfg.Database,
		Queues:         queues,
		StatusInterval: secondsOr(cfg.Status.PollIntervalSec, 10*time.Second),
		CollectTimeout: secondsOr(cfg.Status.CollectTimeoutSec, 5*time.Second),
		DegradedBelow:  cfg.Status.DegradedBelow,
		Breaker: breaker.Config{
			FailureThreshold: cfg.Broadcast.FailureThreshold,
			Cooldown:         secondsOr(cfg.Broadcast.CooldownSec, 0),
			SuccessThreshold: cfg.Broadcast.SuccessThreshold,
		},
		PushTimeout: secondsOr(cfg.Broadcast.PushTimeoutSec, 5*time.Second),
		Features:    resolveFeatures(cfg.Features),
	}
	if loaded.DegradedBelow < 0 || loaded.DegradedBelow > 1 {
		return Loaded{}, fmt.Errorf("status degradedBelow must be within [0, 1]")
	}
	return loaded, nil
}

func resolveQueues(cfgs []QueueConfig) ([]scheduler.QueueConfig, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("no queues configured")
	}

	seen := make(map[string]bool, len(cfgs))
	queues := make([]scheduler.QueueConfig, 0, len(cfgs))
	for _, q := range cfgs {
		if q.Name == "" {
			return nil, fmt.Errorf("queue name is empty")
		}
		if seen[q.Name] {
			return nil, fmt.Errorf("duplicate queue: %s", q.Name)
		}
		seen[q.Name] = true
		if q.MaxRetries < 0 {
			return nil, fmt.Errorf("queue %s: maxRetries must be >= 0", q.Name)
		}
		queues = append(queues, scheduler.QueueConfig{
			Name:         q.Name,
			ExecTimeout:  secondsOr(q.ExecTimeoutSec, 0),
			PollInterval: time.Duration(q.PollIntervalMs) * time.Millisecond,
			MaxRetries:   q.MaxRetries,
			BackoffBase:  time.Duration(q.BackoffBaseMs) * time.Millisecond,
			BackoffMax:   secondsOr(q.BackoffMaxSec, 0),
		})
	}
	return queues, nil
}

func resolveFeatures(cfg FeatureFlagsConfig) FeatureFlags {
	flags := FeatureFlags{
		EnableBroadcast: true,
		EnableMessages:  true,
		EnableAgent:     true,
	}
	if cfg.EnableBroadcast != nil {
		flags.EnableBroadcast = *cfg.EnableBroadcast
	}
	if cfg.EnableMessages != nil {
		flags.EnableMessages = *cfg.EnableMessages
	}
	if cfg.EnableAgent != nil {
		flags.EnableAgent = *cfg.EnableAgent
	}
	return flags
}

func secondsOr(sec int, fallback time.Duration) time.Duration {
	if sec <= 0 {
		return fallback
	}
	return time.Duration(sec) * time.Second
}
