package terminal

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/homiegw/internal/logger"
	"github.com/ehrlich-b/homiegw/internal/store"
	"github.com/ehrlich-b/homiegw/internal/wire"
)

func envShell() string {
	return os.Getenv("SHELL")
}

// subscriberQueueCap bounds how many unread output frames may sit in a
// single subscriber's outbound queue before frames start being dropped
// for that subscriber.
const subscriberQueueCap = 256

// SessionInfo is the client-facing description of an active session.
type SessionInfo struct {
	SessionID uuid.UUID `json:"session_id"`
	Shell     string    `json:"shell"`
	Cols      uint16    `json:"cols"`
	Rows      uint16    `json:"rows"`
	StartedAt int64     `json:"started_at"`
}

// NotFoundError reports a reference to a session id the registry does
// not know about (never existed, or already reaped).
type NotFoundError struct {
	SessionID uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session not found: %s", e.SessionID)
}

type activeSession struct {
	mu      sync.Mutex
	info    SessionInfo
	runtime *Runtime
	history *History
	subs    map[uuid.UUID]chan []byte
	drops   map[uuid.UUID]int
}

// Registry owns every active terminal session, process-wide. It is
// shared across every connection's Service instance behind its own
// mutex; critical sections are kept to map lookups and subscriber
// bookkeeping so the mutex is never held across a channel send.
type Registry struct {
	mu           sync.Mutex
	sessions     map[uuid.UUID]*activeSession
	store        store.Store
	historyBytes int
}

// NewRegistry creates an empty registry. historyBytes configures each new
// session's replay buffer capacity; 0 disables history entirely.
func NewRegistry(st store.Store, historyBytes int) *Registry {
	return &Registry{sessions: make(map[uuid.UUID]*activeSession), store: st, historyBytes: historyBytes}
}

// Start spawns a new PTY session and attaches subscriberID as its first
// subscriber.
func (r *Registry) Start(subscriberID uuid.UUID, shell string, cols, rows uint16) (uuid.UUID, error) {
	if shell == "" {
		shell = defaultShell()
	}
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}

	sessionID := uuid.New()
	rt, err := Start(sessionID.String(), shell, cols, rows)
	if err != nil {
		return uuid.Nil, fmt.Errorf("start session: %w", err)
	}

	as := &activeSession{
		info: SessionInfo{
			SessionID: sessionID,
			Shell:     shell,
			Cols:      cols,
			Rows:      rows,
			StartedAt: time.Now().Unix(),
		},
		runtime: rt,
		history: NewHistory(r.historyBytes),
		subs:    map[uuid.UUID]chan []byte{subscriberID: make(chan []byte, subscriberQueueCap)},
		drops:   make(map[uuid.UUID]int),
	}

	r.mu.Lock()
	r.sessions[sessionID] = as
	r.mu.Unlock()

	r.persist(as, store.StatusActive, nil)
	go r.forward(sessionID, as)

	return sessionID, nil
}

func defaultShell() string {
	if sh := envShell(); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// forward drains a session's runtime output, records it into history,
// and fans it out to every current subscriber with lossy backpressure:
// a subscriber whose queue is full loses the frame rather than stalling
// the other subscribers or the PTY itself.
func (r *Registry) forward(sessionID uuid.UUID, as *activeSession) {
	for chunk := range as.runtime.Output() {
		as.history.Push(chunk)
		frame := wire.EncodeFrame(&wire.BinaryFrame{SessionID: sessionID, Stream: wire.StreamStdout, Payload: chunk})

		as.mu.Lock()
		for id, q := range as.subs {
			select {
			case q <- frame:
				if as.drops[id] > 0 {
					logger.Warn("terminal subscriber recovered from drops", "session_id", sessionID, "subscriber_id", id, "dropped", as.drops[id])
					as.drops[id] = 0
				}
			default:
				as.drops[id]++
				n := as.drops[id]
				if n == 1 || n%100 == 0 {
					logger.Warn("terminal subscriber queue full, dropping frame", "session_id", sessionID, "subscriber_id", id, "dropped", n)
				}
			}
		}
		as.mu.Unlock()
	}
}

// Attach registers subscriberID to receive sessionID's live output and
// returns its info plus the subscriber's output channel. The first
// attach from a given subscriber id triggers a one-shot replay of
// current history ahead of live frames.
func (r *Registry) Attach(subscriberID, sessionID uuid.UUID) (SessionInfo, <-chan []byte, error) {
	as := r.get(sessionID)
	if as == nil {
		return SessionInfo{}, nil, &NotFoundError{SessionID: sessionID}
	}

	as.mu.Lock()
	q, existed := as.subs[subscriberID]
	if !existed {
		q = make(chan []byte, subscriberQueueCap)
		as.subs[subscriberID] = q
	}
	info := as.info
	history := as.history
	as.mu.Unlock()

	if !existed {
		go replay(sessionID, history, q)
	}

	r.persist(as, store.StatusActive, nil)
	return info, q, nil
}

// replay is spawned once per first-time attach and enqueues a history
// snapshot, sliced into bounded chunks, onto the subscriber's own queue
// ahead of whatever live frames the forward loop enqueues next. Because
// replay and the forward loop share the same queue and enqueue order is
// preserved, this guarantees history arrives before any live frame
// enqueued after the attach call returns — but it is an independent
// goroutine, so it does not provide a hard barrier against a live frame
// that was already in flight to this exact queue at attach time.
func replay(sessionID uuid.UUID, h *History, q chan []byte) {
	snap := h.Snapshot()
	for _, chunk := range Chunks(snap) {
		frame := wire.EncodeFrame(&wire.BinaryFrame{SessionID: sessionID, Stream: wire.StreamStdout, Payload: chunk})
		select {
		case q <- frame:
		default:
			return
		}
	}
}

// Detach removes subscriberID from sessionID's fan-out. The session
// itself survives; future output is simply no longer delivered to this
// subscriber.
func (r *Registry) Detach(subscriberID, sessionID uuid.UUID) error {
	as := r.get(sessionID)
	if as == nil {
		return &NotFoundError{SessionID: sessionID}
	}
	as.mu.Lock()
	delete(as.subs, subscriberID)
	delete(as.drops, subscriberID)
	as.mu.Unlock()
	return nil
}

// DetachAll removes subscriberID from every session it is currently
// attached to. Used when a connection shuts down.
func (r *Registry) DetachAll(subscriberID uuid.UUID) {
	r.mu.Lock()
	sessions := make([]*activeSession, 0, len(r.sessions))
	for _, as := range r.sessions {
		sessions = append(sessions, as)
	}
	r.mu.Unlock()

	for _, as := range sessions {
		as.mu.Lock()
		delete(as.subs, subscriberID)
		delete(as.drops, subscriberID)
		as.mu.Unlock()
	}
}

// Resize changes a session's PTY dimensions.
func (r *Registry) Resize(sessionID uuid.UUID, cols, rows uint16) error {
	as := r.get(sessionID)
	if as == nil {
		return &NotFoundError{SessionID: sessionID}
	}
	if err := as.runtime.Resize(cols, rows); err != nil {
		return err
	}
	as.mu.Lock()
	as.info.Cols = cols
	as.info.Rows = rows
	as.mu.Unlock()
	return nil
}

// Input writes bytes to a session's PTY stdin.
func (r *Registry) Input(sessionID uuid.UUID, data []byte) error {
	as := r.get(sessionID)
	if as == nil {
		return &NotFoundError{SessionID: sessionID}
	}
	return as.runtime.WriteInput(data)
}

// Kill terminates a session's child and removes it from the registry.
func (r *Registry) Kill(sessionID uuid.UUID) error {
	as := r.remove(sessionID)
	if as == nil {
		return &NotFoundError{SessionID: sessionID}
	}
	as.runtime.Shutdown()
	r.persist(as, store.StatusExited, nil)
	return nil
}

// List returns every persisted terminal record, most recent first.
func (r *Registry) List() ([]*store.TerminalRecord, error) {
	return r.store.ListTerminals()
}

// Reap polls every active session's child for exit and removes any that
// have exited, persisting their final status and returning a
// terminal.session.exit event for each.
func (r *Registry) Reap() []ReapedSession {
	r.mu.Lock()
	ids := make([]uuid.UUID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var reaped []ReapedSession
	for _, id := range ids {
		as := r.get(id)
		if as == nil {
			continue
		}
		code, exited := as.runtime.TryWait()
		if !exited {
			continue
		}
		r.remove(id)
		c := code
		r.persist(as, store.StatusExited, &c)
		reaped = append(reaped, ReapedSession{SessionID: id, ExitCode: code})
	}
	return reaped
}

// ReapedSession describes one session the reaper found exited.
type ReapedSession struct {
	SessionID uuid.UUID
	ExitCode  uint32
}

// ShutdownAll tears down every active session's runtime, e.g. on process
// exit. It does not touch persisted records.
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	sessions := make([]*activeSession, 0, len(r.sessions))
	for _, as := range r.sessions {
		sessions = append(sessions, as)
	}
	r.sessions = make(map[uuid.UUID]*activeSession)
	r.mu.Unlock()

	for _, as := range sessions {
		as.runtime.Shutdown()
	}
}

func (r *Registry) get(id uuid.UUID) *activeSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

func (r *Registry) remove(id uuid.UUID) *activeSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	as := r.sessions[id]
	delete(r.sessions, id)
	return as
}

func (r *Registry) persist(as *activeSession, status store.SessionStatus, exitCode *uint32) {
	as.mu.Lock()
	info := as.info
	as.mu.Unlock()

	if err := r.store.UpsertTerminal(&store.TerminalRecord{
		SessionID: info.SessionID.String(),
		Shell:     info.Shell,
		Cols:      info.Cols,
		Rows:      info.Rows,
		StartedAt: info.StartedAt,
		Status:    status,
		ExitCode:  exitCode,
	}); err != nil {
		logger.Warn("persist terminal record failed", "session_id", info.SessionID, "err", err)
	}
}
