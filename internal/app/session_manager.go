package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Niranjan-reddy99/hobbystreak/internal/observe"
	"github.com/Niranjan-reddy99/hobbystreak/internal/voice"
	"github.com/Niranjan-reddy99/hobbystreak/pkg/audio"
	"github.com/Niranjan-reddy99/hobbystreak/pkg/provider/s2s"
)

// ErrNoSession is returned by [SessionManager.Stop] when nothing is running.
var ErrNoSession = errors.New("app: no active voice session")

// SessionInfo holds metadata about the voice session.
type SessionInfo struct {
	// SessionID identifies the current connection. Empty when idle.
	SessionID string `json:"session_id,omitempty"`

	// State is the voice session lifecycle state ("idle", "connecting", ...).
	State string `json:"state"`

	// StartedAt is when the current session was started.
	StartedAt time.Time `json:"started_at,omitzero"`

	// StartedBy is the user id that started the session.
	StartedBy string `json:"started_by,omitempty"`

	// Voice is the prebuilt voice the coach speaks with.
	Voice string `json:"voice,omitempty"`

	// ActiveSources is the number of scheduled playback chunks.
	ActiveSources int `json:"active_sources"`

	// LastError describes the most recent failure, if any.
	LastError string `json:"last_error,omitempty"`
}

// SessionManager owns the single live voice session of the process.
// Only one session can be connecting or active at a time.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	backend  audio.Backend
	provider s2s.Provider
	log      *slog.Logger
	metrics  *observe.Metrics

	mu       sync.Mutex
	cfg      voice.Config
	dirty    bool // cfg changed since sess was built
	starting bool // a Start is between acquire and the end of Connect
	sess     *voice.Session
	info     SessionInfo
	lastErr  string
	closed   chan struct{} // signalled when a session ends

	beforeConnect func() // test hook
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	// Voice is the coach persona and credential for new sessions.
	Voice voice.Config

	// Backend provides microphone and speaker access. Required.
	Backend audio.Backend

	// Provider is the speech-to-speech provider. Nil builds the default
	// Gemini Live provider from Voice.APIKey.
	Provider s2s.Provider

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		backend:  cfg.Backend,
		provider: cfg.Provider,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		cfg:      cfg.Voice,
		dirty:    true,
		closed:   make(chan struct{}, 1),
	}
	if sm.log == nil {
		sm.log = slog.Default()
	}
	if sm.metrics == nil {
		sm.metrics = observe.DefaultMetrics()
	}
	return sm
}

// SetVoiceConfig replaces the persona used by the next session. A running
// session keeps its settings.
func (sm *SessionManager) SetVoiceConfig(cfg voice.Config) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.cfg = cfg
	sm.dirty = true
}

// acquire reserves the manager for one Start and returns the voice session
// to connect, rebuilding it when the configuration changed and no connection
// is in flight. It fails with [voice.ErrBusy] while another Start holds the
// reservation. A successful acquire must be paired with release.
func (sm *SessionManager) acquire() (*voice.Session, voice.Config, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.starting {
		return nil, sm.cfg, voice.ErrBusy
	}
	if sm.sess != nil && (!sm.dirty || sm.sess.State() != voice.StateIdle) {
		sm.starting = true
		return sm.sess, sm.cfg, nil
	}

	opts := []voice.Option{voice.WithLogger(sm.log), voice.WithMetrics(sm.metrics)}
	if sm.provider != nil {
		opts = append(opts, voice.WithProvider(sm.provider))
	}
	sess, err := voice.New(sm.cfg, sm.backend, opts...)
	if err != nil {
		return nil, sm.cfg, err
	}
	sm.sess = sess
	sm.dirty = false
	sm.starting = true
	return sess, sm.cfg, nil
}

func (sm *SessionManager) release() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.starting = false
}

// Start connects a new voice session on behalf of userID and blocks until
// setup has finished. It returns an error wrapping [voice.ErrBusy] when a
// session is already connecting or active.
func (sm *SessionManager) Start(ctx context.Context, userID string) (SessionInfo, error) {
	sess, cfg, err := sm.acquire()
	if err != nil {
		if !errors.Is(err, voice.ErrBusy) {
			sm.setLastError(err)
		}
		return sm.Info(), fmt.Errorf("app: start voice session: %w", err)
	}
	defer sm.release()

	started := time.Now().UTC()
	handlers := voice.Handlers{
		OnOpen: func() {
			sm.log.Info("voice session open", "user", userID)
		},
		OnClose: func() {
			sm.log.Info("voice session closed", "user", userID)
			sm.ended()
		},
		OnError: func(err error) {
			sm.log.Warn("voice session error", "user", userID, "err", err)
			sm.setLastError(err)
			sm.ended()
		},
	}

	if sm.beforeConnect != nil {
		sm.beforeConnect()
	}
	if err := sess.Connect(ctx, handlers); err != nil {
		return sm.Info(), fmt.Errorf("app: start voice session: %w", err)
	}

	sm.mu.Lock()
	sm.info = SessionInfo{
		StartedAt: started,
		StartedBy: userID,
		Voice:     cfg.Voice,
	}
	sm.lastErr = ""
	sm.mu.Unlock()

	info := sm.Info()
	sm.log.Info("voice session started", "session_id", info.SessionID, "user", userID, "voice", cfg.Voice)
	return info, nil
}

// Stop ends the current session. It returns [ErrNoSession] when the session
// is idle.
func (sm *SessionManager) Stop(context.Context) error {
	sm.mu.Lock()
	sess := sm.sess
	sm.mu.Unlock()

	if sess == nil || sess.State() == voice.StateIdle {
		return ErrNoSession
	}
	id := sess.Status().SessionID
	sess.Disconnect()
	sm.log.Info("voice session stopped", "session_id", id)
	return nil
}

// IsActive reports whether a session is connecting or active.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	sess := sm.sess
	sm.mu.Unlock()
	return sess != nil && sess.State() != voice.StateIdle
}

// Info returns metadata about the session. Start metadata is cleared once
// the session is idle again; LastError survives until the next successful
// start.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	sess := sm.sess
	info := sm.info
	info.LastError = sm.lastErr
	sm.mu.Unlock()

	if sess == nil {
		info.State = voice.StateIdle.String()
		return info
	}
	st := sess.Status()
	info.State = st.State.String()
	if st.State == voice.StateIdle {
		return SessionInfo{State: info.State, LastError: info.LastError}
	}
	info.SessionID = st.SessionID
	info.ActiveSources = st.ActiveSources
	return info
}

// Closed returns a channel that receives a value whenever a session ends,
// either by the remote side, an error or [SessionManager.Stop].
func (sm *SessionManager) Closed() <-chan struct{} {
	return sm.closed
}

func (sm *SessionManager) setLastError(err error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.lastErr = err.Error()
}

func (sm *SessionManager) ended() {
	select {
	case sm.closed <- struct{}{}:
	default:
	}
}
