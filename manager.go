package analyst

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Supported dataset formats. Everything else is rejected at start with
// UNSUPPORTED_FORMAT.
var supportedDatasetExts = map[string]bool{
	"csv":  true,
	"xlsx": true,
}

// ParseDatasetExt extracts and validates the lowercase extension of an
// uploaded dataset filename.
func ParseDatasetExt(filename string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "" {
		return "", &ErrUnsupportedFormat{Ext: "(none)"}
	}
	if !supportedDatasetExts[ext] {
		return "", &ErrUnsupportedFormat{Ext: ext}
	}
	return ext, nil
}

// ManagerConfig bounds the runtime behavior of all sessions.
type ManagerConfig struct {
	MaxIterations    int           // per-session LLM-call cap; 0 = DefaultMaxIterations
	MaxPerTask       int           // hybrid inner bound; 0 = DefaultMaxPerTask
	EventBufferSize  int           // per-subscriber queue depth; 0 = DefaultEventBufferSize
	RetentionTTL     time.Duration // terminal-session retention; 0 = 1h
	ReapInterval     time.Duration // reaper period; 0 = 1m
	UploadDir        string        // root for per-session working directories
	MaxFileSizeBytes int64         // upload cap enforced by the server layer
	DefaultStrategy  string        // strategy when a request names none; "" = tool-driven
}

// StartRequest describes one analysis invocation.
type StartRequest struct {
	DatasetPath string // already-saved upload on local disk
	DatasetName string // original filename (extension decides the format)
	Request     string // natural-language analysis request
	Strategy    string // strategy tag; empty selects ManagerConfig.DefaultStrategy, then tool-driven
}

// FetchResult is the terminal output of a session.
type FetchResult struct {
	Report   string
	Images   [][]byte
	Snapshot SessionSnapshot
}

// HealthInfo is the liveness marker returned by the health surface.
type HealthInfo struct {
	ActiveSessions int `json:"active_sessions"`
	TotalSessions  int `json:"total_sessions"`
}

// Manager owns the id → session mapping and the session lifecycle: it
// materializes sessions, spawns each strategy on its own goroutine, routes
// stop/subscribe/fetch by id, and reclaims terminal sessions after a TTL.
// Parallel across sessions, cooperative within a session.
type Manager struct {
	deps   Deps
	cfg    ManagerConfig
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewManager creates a manager and starts its background reaper.
func NewManager(deps Deps, cfg ManagerConfig) *Manager {
	if cfg.RetentionTTL <= 0 {
		cfg.RetentionTTL = time.Hour
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = time.Minute
	}
	deps.MaxIterations = cfg.MaxIterations
	deps.MaxPerTask = cfg.MaxPerTask
	m := &Manager{
		deps:     deps,
		cfg:      cfg,
		logger:   deps.logger(),
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go m.runReaper()
	return m
}

// Start validates the request, materializes a session, and spawns its
// strategy goroutine. Returns the session id immediately; progress flows on
// the session's event stream.
func (m *Manager) Start(req StartRequest) (string, error) {
	if strings.TrimSpace(req.Request) == "" {
		return "", &ErrInvalidInput{Reason: "empty request"}
	}
	ext, err := ParseDatasetExt(req.DatasetName)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(req.DatasetPath)
	if err != nil {
		return "", &ErrInvalidInput{Reason: "dataset file not readable: " + err.Error()}
	}

	tag := req.Strategy
	if tag == "" {
		tag = m.cfg.DefaultStrategy
	}
	if tag == "" {
		tag = StrategyToolDriven
	}
	strategy, err := NewStrategy(tag)
	if err != nil {
		return "", &ErrInvalidInput{Reason: err.Error()}
	}

	id := NewID()
	workDir := filepath.Join(m.cfg.UploadDir, id)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("create session work dir: %w", err)
	}

	bus := NewEventBus(id, m.cfg.EventBufferSize)
	sess := NewSession(id, Dataset{
		Path: req.DatasetPath,
		Name: req.DatasetName,
		Ext:  ext,
		Size: info.Size(),
	}, req.Request, tag, bus, workDir)

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	go m.runSession(sess, strategy)
	return id, nil
}

// runSession drives one strategy to its terminal event, translating
// infrastructure errors and panics into agent_error.
func (m *Manager) runSession(sess *Session, strategy Strategy) {
	ctx, cancel := context.WithCancel(context.Background())
	sess.bindCancel(cancel)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("strategy panicked", "session_id", sess.ID, "strategy", strategy.Name(), "panic", p)
			m.failSession(sess, fmt.Sprintf("panic: %v", p), "strategy")
		}
	}()

	m.logger.Info("session started", "session_id", sess.ID, "strategy", strategy.Name(), "dataset", sess.Dataset.Name)

	err := strategy.Run(ctx, sess, m.deps)
	switch {
	case err == nil:
		m.logger.Info("session finished", "session_id", sess.ID, "phase", sess.Phase(), "iterations", sess.Iterations())
	case sess.Cancelled():
		// Cancellation surfaced through a failed LLM or sandbox call rather
		// than a checkpoint; still a clean stop.
		finishStopped(sess, "cancelled by client")
		m.logger.Info("session stopped", "session_id", sess.ID)
	default:
		m.logger.Error("session failed", "session_id", sess.ID, "error", err)
		m.failSession(sess, err.Error(), "strategy")
	}
}

// failSession emits the agent_error terminal unless the stream already
// closed.
func (m *Manager) failSession(sess *Session, errText, where string) {
	if sess.Bus().Closed() {
		return
	}
	setPhase(sess, PhaseFailed)
	sess.Emit(NewAgentError(sess.ID, errText, where))
}

// Stop flips the session's cooperative cancellation flag. The strategy
// observes it at its next checkpoint, cleans up, and emits agent_stopped.
func (m *Manager) Stop(id string) error {
	sess, err := m.get(id)
	if err != nil {
		return err
	}
	sess.Cancel()
	return nil
}

// Subscribe attaches to the session's event stream, replaying buffered
// events first.
func (m *Manager) Subscribe(id string) (*Subscriber, error) {
	sess, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return sess.Bus().Subscribe(), nil
}

// Fetch returns the final artifacts once the session is terminal.
func (m *Manager) Fetch(id string) (*FetchResult, error) {
	sess, err := m.get(id)
	if err != nil {
		return nil, err
	}
	if !sess.Phase().IsTerminal() {
		return nil, &ErrSessionNotReady{ID: id}
	}
	return &FetchResult{
		Report:   sess.Report(),
		Images:   sess.Images(),
		Snapshot: sess.Snapshot(),
	}, nil
}

// Session returns the session by id (read-only use by the control surface).
func (m *Manager) Session(id string) (*Session, error) {
	return m.get(id)
}

// Health reports liveness and session counts.
func (m *Manager) Health() HealthInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info := HealthInfo{TotalSessions: len(m.sessions)}
	for _, s := range m.sessions {
		if !s.Phase().IsTerminal() {
			info.ActiveSessions++
		}
	}
	return info
}

// Close stops the reaper and cancels every live session.
func (m *Manager) Close() {
	close(m.stopCh)
	<-m.doneCh
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		s.Cancel()
	}
}

func (m *Manager) get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, &ErrUnknownSession{ID: id}
	}
	return sess, nil
}

// runReaper periodically reclaims sessions whose terminal event is older
// than the retention TTL, along with their working directories.
func (m *Manager) runReaper() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.reap(NowUnix())
		}
	}
}

// reap removes sessions terminal for longer than the TTL.
func (m *Manager) reap(now int64) {
	ttl := int64(m.cfg.RetentionTTL / time.Second)
	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if at := s.TerminalAt(); at > 0 && now-at > ttl {
			delete(m.sessions, id)
			expired = append(expired, s)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		if s.WorkDir != "" {
			if err := os.RemoveAll(s.WorkDir); err != nil {
				m.logger.Warn("failed to remove session work dir", "session_id", s.ID, "error", err)
			}
		}
		m.logger.Info("session reclaimed", "session_id", s.ID)
	}
}
