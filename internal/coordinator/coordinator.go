// Package coordinator keeps a periodically refreshed snapshot of the
// HomeChat server: its reachability, and the channel list presentation
// adapters resolve names against. One refresh runs at a time; a tick
// that fires while a refresh is in flight is skipped rather than
// queued.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/homechat-bridge/internal/homechat"
	"github.com/haasonsaas/homechat-bridge/internal/observability"
)

// DefaultInterval is the time between refreshes.
const DefaultInterval = 5 * time.Minute

// ErrReauthRequired is returned by Refresh when the server rejected the
// API token. Callers must treat it as fatal for the credential, not as
// an ordinary update failure: the poll keeps running, but the operator
// has to re-onboard.
var ErrReauthRequired = errors.New("homechat authentication failed, reconfiguration required")

// ErrUpdateFailed wraps ordinary refresh failures. The previous
// snapshot is retained so consumers can keep showing stale data.
var ErrUpdateFailed = errors.New("homechat update failed")

// IsReauthRequired reports whether err indicates a fatal credential
// failure.
func IsReauthRequired(err error) bool {
	return errors.Is(err, ErrReauthRequired)
}

// Status classifies the server's reachability.
type Status string

const (
	StatusUnknown    Status = "unknown"
	StatusOnline     Status = "online"
	StatusOffline    Status = "offline"
	StatusAuthFailed Status = "auth_failed"
	StatusError      Status = "error"
)

// Snapshot is the read-only view handed to consumers. It is replaced
// wholesale on every successful refresh; the slice must not be
// mutated.
type Snapshot struct {
	Status      Status             `json:"status"`
	Channels    []homechat.Channel `json:"channels"`
	LastSuccess time.Time          `json:"last_success,omitempty"`
}

// ChannelCount returns the number of cached channels.
func (s Snapshot) ChannelCount() int {
	return len(s.Channels)
}

// Config holds configuration for the coordinator.
type Config struct {
	// Interval between refreshes. Defaults to DefaultInterval.
	Interval time.Duration

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger

	// Metrics is optional; poll results and status are recorded when
	// set.
	Metrics *observability.Metrics

	// OnReauthRequired is invoked (outside the coordinator lock) when a
	// refresh hits an authentication failure. Optional.
	OnReauthRequired func()

	// OnSnapshot is invoked after every successful refresh with the new
	// snapshot. Optional.
	OnSnapshot func(Snapshot)
}

// Coordinator polls the HomeChat server on a fixed interval.
type Coordinator struct {
	client   *homechat.Client
	interval time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics

	onReauth   func()
	onSnapshot func(Snapshot)

	mu       sync.RWMutex
	snapshot Snapshot

	refreshMu sync.Mutex // single-flight guard

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a coordinator for client.
func New(client *homechat.Client, cfg Config) *Coordinator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{
		client:     client,
		interval:   cfg.Interval,
		logger:     cfg.Logger.With("component", "coordinator"),
		metrics:    cfg.Metrics,
		onReauth:   cfg.OnReauthRequired,
		onSnapshot: cfg.OnSnapshot,
		snapshot:   Snapshot{Status: StatusUnknown},
	}
}

// Seed preloads the channel list, typically from persisted state, so
// name lookups work before the first refresh completes. A no-op once a
// refresh has populated the snapshot.
func (c *Coordinator) Seed(channels []homechat.Channel, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot.Status != StatusUnknown || len(c.snapshot.Channels) > 0 {
		return
	}
	c.snapshot.Channels = channels
	c.snapshot.LastSuccess = at
}

// Start runs an immediate refresh and then the periodic loop until Stop
// or ctx cancellation. The initial refresh error (if any) is returned
// so setup can fail fast on a dead or misconfigured server; the loop
// keeps running regardless.
func (c *Coordinator) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	err := c.Refresh(runCtx)

	go c.run(runCtx)

	c.logger.Info("coordinator started", "interval", c.interval.String())
	return err
}

// Stop halts the periodic loop. An in-flight refresh completes or times
// out naturally.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.done != nil {
		<-c.done
	}
	c.logger.Info("coordinator stopped")
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				if errors.Is(err, ErrReauthRequired) {
					c.logger.Error("refresh requires reauthentication")
				} else {
					c.logger.Warn("refresh failed", "error", err)
				}
			}
		}
	}
}

// Refresh performs one poll cycle. Concurrent calls are serialized: a
// caller that arrives while another refresh runs waits for its own turn
// rather than overlapping requests.
//
// Failure semantics follow the update contract: a health-check failure
// marks the server offline and keeps the previous channel snapshot; an
// authentication failure on the channel list surfaces ErrReauthRequired;
// any other failure is an ordinary ErrUpdateFailed.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if !c.client.HealthCheck(ctx) {
		c.setStatus(StatusOffline)
		c.recordPoll("offline")
		return errors.Join(ErrUpdateFailed, errors.New("cannot connect to homechat server"))
	}
	c.setStatus(StatusOnline)

	list, err := c.client.ListChannels(ctx)
	if err != nil {
		if homechat.IsAuthError(err) {
			c.setStatus(StatusAuthFailed)
			c.recordPoll("auth_failed")
			if c.onReauth != nil {
				c.onReauth()
			}
			return errors.Join(ErrReauthRequired, err)
		}
		c.setStatus(StatusError)
		c.recordPoll("error")
		return errors.Join(ErrUpdateFailed, err)
	}

	snapshot := Snapshot{
		Status:      StatusOnline,
		Channels:    list.Channels,
		LastSuccess: time.Now().UTC(),
	}
	c.mu.Lock()
	c.snapshot = snapshot
	c.mu.Unlock()

	c.recordPoll("online")
	if c.metrics != nil {
		c.metrics.ChannelCount.Set(float64(len(snapshot.Channels)))
	}
	c.logger.Debug("refresh complete", "channel_count", len(snapshot.Channels))

	if c.onSnapshot != nil {
		c.onSnapshot(snapshot)
	}
	return nil
}

// Status returns the current server status.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.Status
}

// Snapshot returns the current snapshot.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// LookupChannelName resolves a channel id to its name from the cached
// snapshot. First match wins.
func (c *Coordinator) LookupChannelName(id int) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range c.snapshot.Channels {
		if ch.ID == id {
			return ch.Name, true
		}
	}
	return "", false
}

// LookupChannelID resolves a channel name (case-insensitive exact
// match) to its id from the cached snapshot.
func (c *Coordinator) LookupChannelID(name string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range c.snapshot.Channels {
		if strings.EqualFold(ch.Name, name) {
			return ch.ID, true
		}
	}
	return 0, false
}

// setStatus updates only the status field, preserving cached channels.
func (c *Coordinator) setStatus(status Status) {
	c.mu.Lock()
	c.snapshot.Status = status
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.SetServerStatus(string(status))
	}
}

func (c *Coordinator) recordPoll(result string) {
	if c.metrics != nil {
		c.metrics.PollResults.WithLabelValues(result).Inc()
	}
}
