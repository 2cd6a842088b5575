// Package session tracks the unlocked/locked lifecycle of the vault:
// idle timeout, a pre-expiry warning, and a persisted session record so
// a restart within the idle window can resume without re-entering the
// password.
package session

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/emberwallet/vaultd/internal/storage"
)

// Defaults: 15 minutes idle, warn 2 minutes before expiry, check every
// 30 seconds.
const (
	DefaultMaxIdleTime   = 15 * time.Minute
	DefaultWarningTime   = 2 * time.Minute
	DefaultCheckInterval = 30 * time.Second
)

type Config struct {
	MaxIdleTime   time.Duration
	WarningTime   time.Duration
	CheckInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxIdleTime:   DefaultMaxIdleTime,
		WarningTime:   DefaultWarningTime,
		CheckInterval: DefaultCheckInterval,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxIdleTime <= 0 {
		c.MaxIdleTime = DefaultMaxIdleTime
	}
	if c.WarningTime <= 0 {
		c.WarningTime = DefaultWarningTime
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	return c
}

// Handlers are invoked outside the manager's lock. OnLocked fires on
// every transition to locked, expiry included; OnExpired fires once per
// expiry, after the manager has already locked itself.
type Handlers struct {
	OnLocked   func()
	OnExpired  func()
	OnWarning  func(remaining time.Duration)
	OnActivity func()
}

// Status is a point-in-time view of the session.
type Status struct {
	IsUnlocked    bool
	TimeRemaining time.Duration
	ShowWarning   bool
	IsExpired     bool
}

// Record is the persisted session, stored base64(JSON) with timestamps
// in milliseconds since epoch.
type Record struct {
	SessionID    string `json:"session_id"`
	StartTime    int64  `json:"start_time"`
	LastActivity int64  `json:"last_activity"`
}

// Manager is the session state machine. All state transitions happen
// under one mutex; the generation counter makes sure no timer fires a
// handler for a session that has since locked or restarted.
type Manager struct {
	kv        storage.KV
	namespace string
	now       func() time.Time

	mu           sync.Mutex
	cfg          Config
	handlers     Handlers
	generation   uint64
	unlocked     bool
	sessionID    string
	startTime    int64
	lastActivity int64
	warnTimer    *time.Timer
	stopCheck    chan struct{}
}

func NewManager(kv storage.KV, namespace string, cfg Config) *Manager {
	return &Manager{
		kv:        kv,
		namespace: namespace,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
	}
}

func (m *Manager) sessionKey() string { return m.namespace + "_session" }
func (m *Manager) expiryKey() string  { return m.namespace + "_session_expiry" }

// SetHandlers replaces the handler set. Call before Unlock.
func (m *Manager) SetHandlers(h Handlers) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = h
}

// Unlock starts a fresh session and returns its ID.
func (m *Manager) Unlock() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopTimersLocked()
	m.generation++
	m.unlocked = true
	m.sessionID = uuid.NewString()
	nowMs := m.now().UnixMilli()
	m.startTime = nowMs
	m.lastActivity = nowMs

	m.persistLocked()
	m.scheduleLocked()

	log.Info().Str("session_id", m.sessionID).Dur("max_idle", m.cfg.MaxIdleTime).Msg("session unlocked")
	return m.sessionID
}

// RecordActivity resets the idle clock. No-op when locked.
func (m *Manager) RecordActivity() {
	m.mu.Lock()
	if !m.unlocked {
		m.mu.Unlock()
		return
	}
	m.lastActivity = m.now().UnixMilli()
	m.persistLocked()
	m.rescheduleWarningLocked()
	h := m.handlers.OnActivity
	m.mu.Unlock()

	if h != nil {
		h()
	}
}

// ExtendSession explicitly pushes expiry out by a full idle window,
// typically from the warning dialog's "stay signed in" action.
func (m *Manager) ExtendSession() {
	m.RecordActivity()
}

// Lock ends the session, stops all timers and removes the persisted
// record. After Lock returns no handler fires for the old session.
func (m *Manager) Lock() {
	m.mu.Lock()
	if !m.unlocked {
		m.clearPersistedLocked()
		m.mu.Unlock()
		return
	}
	id := m.sessionID
	m.lockLocked()
	locked := m.handlers.OnLocked
	m.mu.Unlock()

	log.Info().Str("session_id", id).Msg("session locked")
	if locked != nil {
		locked()
	}
}

// lockLocked transitions to locked. Caller holds the mutex. Bumping the
// generation strands any in-flight timer callback.
func (m *Manager) lockLocked() {
	m.generation++
	m.unlocked = false
	m.sessionID = ""
	m.stopTimersLocked()
	m.clearPersistedLocked()
}

func (m *Manager) stopTimersLocked() {
	if m.warnTimer != nil {
		m.warnTimer.Stop()
		m.warnTimer = nil
	}
	if m.stopCheck != nil {
		close(m.stopCheck)
		m.stopCheck = nil
	}
}

// Status reports the current session view. An expired-but-unreaped
// session already reads as locked.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.unlocked {
		return Status{}
	}
	remaining := m.remainingLocked()
	return Status{
		IsUnlocked:    remaining > 0,
		TimeRemaining: remaining,
		ShowWarning:   remaining > 0 && remaining <= m.cfg.WarningTime,
		IsExpired:     remaining <= 0,
	}
}

// remainingLocked computes MaxIdleTime minus elapsed idle time,
// clamped at zero. Caller holds the mutex.
func (m *Manager) remainingLocked() time.Duration {
	idle := time.Duration(m.now().UnixMilli()-m.lastActivity) * time.Millisecond
	remaining := m.cfg.MaxIdleTime - idle
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Resume restores a persisted session that is still inside its idle
// window. Returns false, removing stale state, otherwise.
func (m *Manager) Resume() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := m.kv.Get(m.sessionKey())
	if err != nil {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		m.clearPersistedLocked()
		return false
	}
	var rec Record
	if err := json.Unmarshal(decoded, &rec); err != nil || rec.SessionID == "" {
		m.clearPersistedLocked()
		return false
	}

	idle := m.now().UnixMilli() - rec.LastActivity
	if idle >= m.cfg.MaxIdleTime.Milliseconds() {
		m.clearPersistedLocked()
		return false
	}

	m.stopTimersLocked()
	m.generation++
	m.unlocked = true
	m.sessionID = rec.SessionID
	m.startTime = rec.StartTime
	m.lastActivity = rec.LastActivity
	m.scheduleLocked()

	log.Info().Str("session_id", rec.SessionID).Msg("session resumed")
	return true
}

// CleanupExpired removes persisted session state whose expiry stamp has
// passed. Run at boot before Resume.
func (m *Manager) CleanupExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := m.kv.Get(m.expiryKey())
	if err != nil {
		return
	}
	expiry, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || expiry <= m.now().UnixMilli() {
		m.clearPersistedLocked()
		log.Debug().Msg("expired session state swept")
	}
}

// UpdateConfig applies new timing. A live session is rescheduled
// against its existing last activity; shrinking MaxIdleTime below the
// already-elapsed idle time expires the session immediately.
func (m *Manager) UpdateConfig(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg.withDefaults()
	if !m.unlocked {
		m.mu.Unlock()
		return
	}
	if m.remainingLocked() <= 0 {
		m.lockLocked()
		locked := m.handlers.OnLocked
		expired := m.handlers.OnExpired
		m.mu.Unlock()
		log.Info().Msg("session expired by config change")
		if locked != nil {
			locked()
		}
		if expired != nil {
			expired()
		}
		return
	}
	m.persistLocked()
	// Restart the timers so a new CheckInterval takes effect too.
	m.stopTimersLocked()
	m.scheduleLocked()
	m.mu.Unlock()
}

// Config returns the active timing configuration.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// scheduleLocked arms the warning timer and the expiry check loop for
// the current generation. Caller holds the mutex.
func (m *Manager) scheduleLocked() {
	m.rescheduleWarningLocked()

	stop := make(chan struct{})
	m.stopCheck = stop
	gen := m.generation
	interval := m.cfg.CheckInterval
	go m.checkLoop(gen, interval, stop)
}

func (m *Manager) rescheduleWarningLocked() {
	if m.warnTimer != nil {
		m.warnTimer.Stop()
	}
	delay := m.remainingLocked() - m.cfg.WarningTime
	if delay < 0 {
		delay = 0
	}
	gen := m.generation
	m.warnTimer = time.AfterFunc(delay, func() { m.fireWarning(gen) })
}

func (m *Manager) fireWarning(gen uint64) {
	m.mu.Lock()
	if m.generation != gen || !m.unlocked {
		m.mu.Unlock()
		return
	}
	remaining := m.remainingLocked()
	if remaining <= 0 {
		m.mu.Unlock()
		return
	}
	h := m.handlers.OnWarning
	m.mu.Unlock()

	if h != nil {
		h(remaining)
	}
}

func (m *Manager) checkLoop(gen uint64, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if m.checkExpiry(gen) {
				return
			}
		}
	}
}

// checkExpiry locks the session when its idle window has elapsed and
// reports whether the loop should exit.
func (m *Manager) checkExpiry(gen uint64) bool {
	m.mu.Lock()
	if m.generation != gen || !m.unlocked {
		m.mu.Unlock()
		return true
	}
	if m.remainingLocked() > 0 {
		m.mu.Unlock()
		return false
	}
	id := m.sessionID
	m.lockLocked()
	locked := m.handlers.OnLocked
	expired := m.handlers.OnExpired
	m.mu.Unlock()

	log.Info().Str("session_id", id).Msg("session expired")
	if locked != nil {
		locked()
	}
	if expired != nil {
		expired()
	}
	return true
}

// persistLocked writes the session record and its expiry stamp. Storage
// failures degrade to re-login after a restart and are only logged.
func (m *Manager) persistLocked() {
	rec := Record{
		SessionID:    m.sessionID,
		StartTime:    m.startTime,
		LastActivity: m.lastActivity,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode session record")
		return
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	if err := m.kv.Put(m.sessionKey(), []byte(encoded)); err != nil {
		log.Warn().Err(err).Msg("failed to persist session")
		return
	}
	expiry := m.lastActivity + m.cfg.MaxIdleTime.Milliseconds()
	if err := m.kv.Put(m.expiryKey(), []byte(strconv.FormatInt(expiry, 10))); err != nil {
		log.Warn().Err(err).Msg("failed to persist session expiry")
	}
}

func (m *Manager) clearPersistedLocked() {
	for _, key := range []string{m.sessionKey(), m.expiryKey()} {
		if err := m.kv.Delete(key); err != nil && err != storage.ErrKeyNotFound {
			log.Warn().Err(err).Str("key", key).Msg("failed to clear session state")
		}
	}
}
