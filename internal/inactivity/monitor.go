// Package inactivity logs the user out after a period without
// interaction, independently of token expiry.
package inactivity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	"github.com/ManuPunk16/CG-Front-sub000/internal/clock"
	"github.com/ManuPunk16/CG-Front-sub000/internal/obs"
)

// Phase is the monitor state.
type Phase int

const (
	// Stopped: no timers pending, events ignored.
	Stopped Phase = iota
	// Watching: the silent countdown is running.
	Watching
	// Warning: the prompt is showing; only Extend keeps the session.
	Warning
	// LoggedOut: the logout action has run; Start begins a new cycle.
	LoggedOut
)

func (p Phase) String() string {
	switch p {
	case Watching:
		return "watching"
	case Warning:
		return "warning"
	case LoggedOut:
		return "logged_out"
	default:
		return "stopped"
	}
}

// EventType is a kind of user interaction.
type EventType string

const (
	EventPointer  EventType = "pointer"
	EventKeyboard EventType = "keyboard"
	EventTouch    EventType = "touch"
	EventScroll   EventType = "scroll"
)

// eventAliases folds DOM event names onto the four qualifying kinds.
var eventAliases = map[string]EventType{
	"pointer":    EventPointer,
	"mousemove":  EventPointer,
	"mousedown":  EventPointer,
	"click":      EventPointer,
	"keyboard":   EventKeyboard,
	"keydown":    EventKeyboard,
	"keypress":   EventKeyboard,
	"touch":      EventTouch,
	"touchstart": EventTouch,
	"touchmove":  EventTouch,
	"scroll":     EventScroll,
	"wheel":      EventScroll,
}

// ParseEvent maps a raw event name to a qualifying kind.
func ParseEvent(raw string) (EventType, bool) {
	ev, ok := eventAliases[strings.ToLower(strings.TrimSpace(raw))]
	return ev, ok
}

// Logout reasons.
const (
	ReasonTimeout   = "timeout"
	ReasonDismissed = "dismissed"
	ReasonUser      = "user"
)

// Config sets the countdown. The session ends Idle+Warning after the
// last qualifying event unless the user chooses to stay.
type Config struct {
	Idle     time.Duration
	Warning  time.Duration
	Debounce time.Duration
}

// DefaultConfig is a fifteen-minute window with a one-minute prompt.
func DefaultConfig() Config {
	return Config{Idle: 14 * time.Minute, Warning: time.Minute, Debounce: time.Second}
}

// LogoutFunc ends the session. It runs without the monitor's lock held
// and may call back into the monitor.
type LogoutFunc func(ctx context.Context, reason string)

// Monitor is the two-phase inactivity countdown.
type Monitor struct {
	mu       sync.Mutex
	cfg      Config
	clock    clock.Clock
	limiter  *rate.Limiter
	phase    Phase
	timer    *clock.Timer
	deadline time.Time
	gen      uint64
	logout   LogoutFunc
	warn     func(remaining time.Duration)
	log      logr.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock sets the clock driving the countdown.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) {
		if c != nil {
			m.clock = c
		}
	}
}

// OnWarning registers the hook that shows the "stay logged in" prompt.
func OnWarning(fn func(remaining time.Duration)) Option {
	return func(m *Monitor) { m.warn = fn }
}

// WithLogger sets the monitor logger.
func WithLogger(l logr.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

// New returns a stopped Monitor. Zero durations in cfg take the
// DefaultConfig values.
func New(cfg Config, logout LogoutFunc, opts ...Option) *Monitor {
	def := DefaultConfig()
	if cfg.Idle <= 0 {
		cfg.Idle = def.Idle
	}
	if cfg.Warning <= 0 {
		cfg.Warning = def.Warning
	}
	if cfg.Debounce < 0 {
		cfg.Debounce = 0
	}
	m := &Monitor{
		cfg:    cfg,
		clock:  clock.Real(),
		logout: logout,
		warn:   func(time.Duration) {},
		log:    logr.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	limit := rate.Inf
	if cfg.Debounce > 0 {
		limit = rate.Every(cfg.Debounce)
	}
	m.limiter = rate.NewLimiter(limit, 1)
	return m
}

// Phase returns the current phase.
func (m *Monitor) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Start begins watching. Calling it while watching or warning is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == Watching || m.phase == Warning {
		return
	}
	m.phase = Watching
	m.armLocked(m.cfg.Idle, m.enterWarning)
}

// Stop cancels every pending timer. It is safe to call repeatedly.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disarmLocked()
	m.phase = Stopped
}

// Record registers a user interaction. It restarts the silent
// countdown and reports true only while watching, for a qualifying
// event that is not debounced. Events during the warning do not count
// as choosing to stay.
func (m *Monitor) Record(ev EventType) bool {
	if _, ok := eventAliases[string(ev)]; !ok {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != Watching {
		return false
	}
	if !m.limiter.AllowN(m.clock.Now(), 1) {
		return false
	}
	m.armLocked(m.cfg.Idle, m.enterWarning)
	return true
}

// Extend is the "stay logged in" answer: back to watching with a full
// countdown.
func (m *Monitor) Extend() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != Warning && m.phase != Watching {
		return false
	}
	m.phase = Watching
	m.armLocked(m.cfg.Idle, m.enterWarning)
	return true
}

// Logout is the "log out" answer.
func (m *Monitor) Logout(ctx context.Context) bool {
	return m.finish(ctx, ReasonUser, Watching, Warning)
}

// Dismiss closes the prompt without choosing; it fails closed.
func (m *Monitor) Dismiss(ctx context.Context) bool {
	return m.finish(ctx, ReasonDismissed, Warning)
}

// Remaining returns the time left in the current phase, or zero.
func (m *Monitor) Remaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deadline.IsZero() {
		return 0
	}
	if left := m.deadline.Sub(m.clock.Now()); left > 0 {
		return left
	}
	return 0
}

func (m *Monitor) enterWarning(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.phase != Watching {
		m.mu.Unlock()
		return
	}
	m.phase = Warning
	m.armLocked(m.cfg.Warning, m.expire)
	warn := m.warn
	m.mu.Unlock()

	m.log.V(1).Info("inactivity warning", "remaining", m.cfg.Warning.String())
	warn(m.cfg.Warning)
}

func (m *Monitor) expire(gen uint64) {
	m.mu.Lock()
	stale := gen != m.gen
	m.mu.Unlock()
	if stale {
		return
	}
	m.finish(context.Background(), ReasonTimeout, Warning)
}

// finish moves to LoggedOut and runs the logout action once, provided
// the monitor is in one of the from phases.
func (m *Monitor) finish(ctx context.Context, reason string, from ...Phase) bool {
	m.mu.Lock()
	allowed := false
	for _, p := range from {
		if m.phase == p {
			allowed = true
			break
		}
	}
	if !allowed {
		m.mu.Unlock()
		return false
	}
	m.disarmLocked()
	m.phase = LoggedOut
	logout := m.logout
	m.mu.Unlock()

	obs.InactivityLogouts.WithLabelValues(reason).Inc()
	m.log.Info("inactivity logout", "reason", reason)
	if logout != nil {
		logout(ctx, reason)
	}
	return true
}

func (m *Monitor) armLocked(d time.Duration, fire func(gen uint64)) {
	m.disarmLocked()
	gen := m.gen
	m.deadline = m.clock.Now().Add(d)
	m.timer = m.clock.AfterFunc(d, func() { fire(gen) })
}

// disarmLocked stops the pending timer and invalidates any callback
// that already escaped Stop.
func (m *Monitor) disarmLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
	m.deadline = time.Time{}
}
