/*
Copyright 2026 The QuicFuscate Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package migration implements connection migration (spec §4.13):
// network-interface enumeration, PATH_CHALLENGE/PATH_RESPONSE path
// validation on a candidate interface, and the retry-with-cooldown
// policy that falls back to the original path after too many failed
// attempts. Socket I/O is injected via Config.OpenPath so this package
// stays testable without real network interfaces.
package migration

import (
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/quicfuscate/quicsand/lib/errkind"
)

const (
	defaultChallengeTimeout = 500 * time.Millisecond
	defaultMaxAttempts      = 5
	defaultCooldown         = 1 * time.Second
)

// Endpoint identifies one side of an active path.
type Endpoint struct {
	Interface string
	LocalAddr net.Addr
}

// HistoryEntry records a previously active endpoint and when it was
// superseded (spec §4.13: "records the previous endpoint in history").
type HistoryEntry struct {
	Endpoint  Endpoint
	SwappedAt time.Time
}

// PathSocket is a second socket bound to a candidate interface, used to
// send the PATH_CHALLENGE and later (on success) become the active
// path. The connection core supplies the concrete implementation.
type PathSocket interface {
	SendChallenge(value uint64) error
	LocalAddr() net.Addr
	Close() error
}

// Callback is invoked on every migration attempt's outcome (spec
// §4.13: "Fires a user callback (success, from_network, to_network) on
// every attempt").
type Callback func(success bool, fromNetwork, toNetwork string)

// Config parameterizes a Controller.
type Config struct {
	PreferredInterface string
	ChallengeTimeout   time.Duration
	MaxAttempts        int
	Cooldown           time.Duration
	Clock              clockwork.Clock
	Logger             *slog.Logger

	// ListInterfaces enumerates candidate network interfaces. Defaults
	// to net.Interfaces.
	ListInterfaces func() ([]net.Interface, error)

	// OpenPath opens a socket bound to iface and returns a handle used
	// to send the PATH_CHALLENGE. Required.
	OpenPath func(iface net.Interface) (PathSocket, error)

	// NewConnectionID mints the connection id issued to the peer after
	// a successful migration (spec §4.13: "issues a new connection
	// id"). Defaults to a random UUID's 16 bytes.
	NewConnectionID func() ([]byte, error)

	Callback Callback
}

func defaultNewConnectionID() ([]byte, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	b, err := id.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return b, nil
}

// eventState is the internal phase of an in-progress migration event.
type eventState int

const (
	stateAwaitingResponse eventState = iota
	stateCoolingDown
)

type migrationEvent struct {
	attemptID     uuid.UUID
	fromNetwork   string
	toNetwork     string
	attemptsMade  int
	challenge     uint64
	sentAt        time.Time
	nextAttemptAt time.Time
	state         eventState
	socket        PathSocket
}

// Controller drives connection migration for one connection. Not safe
// for concurrent use beyond its own internal lock.
type Controller struct {
	mu sync.Mutex

	cfg    Config
	active Endpoint
	logger *slog.Logger

	history []HistoryEntry
	connID  []byte

	event *migrationEvent
}

// NewController validates cfg, applying defaults, and builds a
// Controller with active as the starting endpoint. A nil cfg.Logger
// defaults to slog.Default(), tagged with the "quicsand/migration"
// component (spec §1.1 AMBIENT STACK).
func NewController(cfg Config, active Endpoint) (*Controller, error) {
	if cfg.OpenPath == nil {
		return nil, errkind.New(errkind.KindInvalidArgument, "migration: OpenPath is required")
	}
	if cfg.ListInterfaces == nil {
		cfg.ListInterfaces = net.Interfaces
	}
	if cfg.NewConnectionID == nil {
		cfg.NewConnectionID = defaultNewConnectionID
	}
	if cfg.ChallengeTimeout <= 0 {
		cfg.ChallengeTimeout = defaultChallengeTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{cfg: cfg, active: active, logger: logger.With("component", "quicsand/migration")}, nil
}

// Active returns the currently active endpoint.
func (c *Controller) Active() Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// History returns a snapshot of superseded endpoints, oldest first.
func (c *Controller) History() []HistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]HistoryEntry(nil), c.history...)
}

// ConnectionID returns the most recently issued connection id, or nil
// before any successful migration.
func (c *Controller) ConnectionID() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.connID...)
}

// InProgress reports whether a migration attempt is currently active.
func (c *Controller) InProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.event != nil
}

// OnNetworkChange begins a migration event off a network-change signal
// (manual or detected): selects a candidate interface, opens a second
// socket on it, and sends the first PATH_CHALLENGE (spec §4.13 steps
// 1-3).
func (c *Controller) OnNetworkChange(fromNetwork string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.event != nil {
		return errkind.New(errkind.KindInvalidState, "migration: already in progress")
	}

	iface, err := c.selectCandidateLocked()
	if err != nil {
		return err
	}
	return c.startAttemptLocked(fromNetwork, iface, 1)
}

func (c *Controller) selectCandidateLocked() (net.Interface, error) {
	ifaces, err := c.cfg.ListInterfaces()
	if err != nil {
		return net.Interface{}, errkind.Wrap(err, errkind.KindSocketUnavailable, "migration: list interfaces")
	}

	var candidates []net.Interface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Name == c.active.Interface {
			continue
		}
		candidates = append(candidates, iface)
	}
	if len(candidates) == 0 {
		return net.Interface{}, errkind.New(errkind.KindSocketUnavailable, "migration: no candidate interface available")
	}
	if c.cfg.PreferredInterface != "" {
		for _, iface := range candidates {
			if iface.Name == c.cfg.PreferredInterface {
				return iface, nil
			}
		}
	}
	return candidates[0], nil
}

func (c *Controller) startAttemptLocked(fromNetwork string, iface net.Interface, attemptNumber int) error {
	socket, err := c.cfg.OpenPath(iface)
	if err != nil {
		return errkind.Wrap(err, errkind.KindSocketUnavailable, "migration: open path on %s", iface.Name)
	}
	challenge := rand.Uint64()
	if err := socket.SendChallenge(challenge); err != nil {
		socket.Close()
		return errkind.Wrap(err, errkind.KindTransportError, "migration: send PATH_CHALLENGE on %s", iface.Name)
	}
	c.event = &migrationEvent{
		attemptID:    uuid.New(),
		fromNetwork:  fromNetwork,
		toNetwork:    iface.Name,
		attemptsMade: attemptNumber,
		challenge:    challenge,
		sentAt:       c.cfg.Clock.Now(),
		state:        stateAwaitingResponse,
		socket:       socket,
	}
	return nil
}

// OnPathResponse feeds a received PATH_RESPONSE value to the
// controller. If it matches the outstanding PATH_CHALLENGE, the path
// swap completes: the active endpoint is replaced, the previous one is
// recorded in history, a new connection id is issued, and the success
// callback fires (spec §4.13 step 4). Returns false if there is no
// matching outstanding challenge.
func (c *Controller) OnPathResponse(value uint64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.event == nil || c.event.state != stateAwaitingResponse || c.event.challenge != value {
		return false, nil
	}

	ev := c.event
	previous := c.active
	c.active = Endpoint{Interface: ev.toNetwork, LocalAddr: ev.socket.LocalAddr()}
	c.history = append(c.history, HistoryEntry{Endpoint: previous, SwappedAt: c.cfg.Clock.Now()})

	connID, err := c.cfg.NewConnectionID()
	if err != nil {
		c.event = nil
		return false, errkind.Wrap(err, errkind.KindInvalidOperation, "migration: mint connection id")
	}
	c.connID = connID
	c.event = nil

	c.logger.Info("migration succeeded", "from_network", ev.fromNetwork, "to_network", ev.toNetwork, "attempt_id", ev.attemptID.String())
	if c.cfg.Callback != nil {
		c.cfg.Callback(true, ev.fromNetwork, ev.toNetwork)
	}
	return true, nil
}

// Tick advances the retry/cooldown state machine; the connection
// core's timer loop calls it periodically (spec §5 "migration
// PATH_CHALLENGE waiter" is a cooperative sub-task of that loop).
func (c *Controller) Tick(now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.event == nil {
		return nil
	}

	switch c.event.state {
	case stateAwaitingResponse:
		if now.Sub(c.event.sentAt) < c.cfg.ChallengeTimeout {
			return nil
		}
		ev := c.event
		ev.socket.Close()
		c.logger.Warn("migration attempt timed out", "from_network", ev.fromNetwork, "to_network", ev.toNetwork, "attempts_made", ev.attemptsMade)
		if c.cfg.Callback != nil {
			c.cfg.Callback(false, ev.fromNetwork, ev.toNetwork)
		}
		if ev.attemptsMade >= c.cfg.MaxAttempts {
			// Falls back to the original path: active is left untouched.
			c.logger.Warn("migration exhausted max attempts, falling back to original path", "from_network", ev.fromNetwork, "to_network", ev.toNetwork)
			c.event = nil
			return nil
		}
		ev.state = stateCoolingDown
		ev.nextAttemptAt = now.Add(c.cfg.Cooldown)
		return nil

	case stateCoolingDown:
		if now.Before(c.event.nextAttemptAt) {
			return nil
		}
		fromNetwork := c.event.fromNetwork
		attemptNumber := c.event.attemptsMade + 1
		iface, err := c.selectCandidateLocked()
		if err != nil {
			c.event = nil
			return err
		}
		c.event = nil
		return c.startAttemptLocked(fromNetwork, iface, attemptNumber)
	}
	return nil
}
