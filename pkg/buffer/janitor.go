package buffer

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const DefaultSweepSchedule = "@every 1m"

// JanitorConfig configures buffer eviction
type JanitorConfig struct {
	Store    *Store
	TTL      time.Duration // 0 keeps buffers for the life of the process
	Schedule string        // cron spec or descriptor, e.g. "@every 1m"
	OnEvict  func(id string)
	Logger   zerolog.Logger
}

// Janitor periodically evicts finished buffers that outlived their TTL
type Janitor struct {
	store    *Store
	ttl      time.Duration
	schedule cron.Schedule
	onEvict  func(id string)
	logger   zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewJanitor creates a janitor; it does nothing until Start
func NewJanitor(cfg JanitorConfig) (*Janitor, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("ttl must not be negative")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSweepSchedule
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.Schedule, err)
	}

	return &Janitor{
		store:    cfg.Store,
		ttl:      cfg.TTL,
		schedule: sched,
		onEvict:  cfg.OnEvict,
		logger:   cfg.Logger,
	}, nil
}

// Enabled reports whether the janitor evicts anything
func (j *Janitor) Enabled() bool {
	return j.ttl > 0
}

// Start begins scheduled sweeps. A disabled janitor schedules nothing.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return fmt.Errorf("janitor is already running")
	}
	j.running = true

	if !j.Enabled() {
		j.logger.Info().Msg("Buffer eviction disabled")
		return nil
	}

	j.cron = cron.New()
	j.cron.Schedule(j.schedule, cron.FuncJob(func() { j.Sweep() }))
	j.cron.Start()

	j.logger.Info().Dur("ttl", j.ttl).Msg("Buffer janitor started")
	return nil
}

// Stop halts scheduled sweeps and waits for a running sweep to finish
func (j *Janitor) Stop() {
	j.mu.Lock()
	c := j.cron
	wasRunning := j.running
	j.running = false
	j.cron = nil
	j.mu.Unlock()

	if !wasRunning || c == nil {
		return
	}
	<-c.Stop().Done()
	j.logger.Info().Msg("Buffer janitor stopped")
}

// Sweep evicts expired buffers once and returns their ids
func (j *Janitor) Sweep() []string {
	if !j.Enabled() {
		return nil
	}
	evicted := j.store.EvictFinished(j.ttl)
	for _, id := range evicted {
		if j.onEvict != nil {
			j.onEvict(id)
		}
		j.logger.Debug().Str("session_id", id).Msg("Buffer evicted")
	}
	if len(evicted) > 0 {
		j.logger.Info().Int("evicted", len(evicted)).Msg("Evicted expired buffers")
	}
	return evicted
}
