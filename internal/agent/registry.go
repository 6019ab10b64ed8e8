// Package agent implements the LLM chat façade: a registry of chat
// threads, each backed by a long-lived subprocess speaking the JSONL
// protocol in internal/agentproc, fanned out to attached connections the
// same way the terminal subsystem fans out PTY output — multiple
// subscribers, lossy backpressure, a one-shot replay of recent history on
// first attach.
package agent

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/homiegw/internal/agentproc"
	"github.com/ehrlich-b/homiegw/internal/logger"
	"github.com/ehrlich-b/homiegw/internal/store"
	"github.com/ehrlich-b/homiegw/internal/wire"
)

// subscriberQueueCap mirrors the terminal subsystem's per-subscriber
// bound: a slow attached connection loses agent events rather than
// stalling delivery to everyone else.
const subscriberQueueCap = 256

// historyLimit bounds how many recent events a chat keeps for replay on
// a fresh attach.
const historyLimit = 200

// NotFoundError reports a reference to a chat id the registry doesn't
// know about.
type NotFoundError struct {
	ChatID uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("chat not found: %s", e.ChatID)
}

type chatEvent struct {
	Method string          `json:"method"`
	ID     *uint64         `json:"id,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

type activeChat struct {
	mu        sync.Mutex
	chatID    uuid.UUID
	threadID  string
	createdAt int64
	process   *agentproc.Process
	pointer   uint64
	history   []chatEvent
	subs      map[uuid.UUID]chan []byte
}

// Registry owns every active chat, process-wide, the same way
// terminal.Registry owns every active PTY session.
type Registry struct {
	mu      sync.Mutex
	chats   map[uuid.UUID]*activeChat
	store   store.Store
	command string
	args    []string
}

// NewRegistry builds a registry that spawns command/args for every new
// chat. An empty command disables agent.start entirely (agent.* is still
// registered so agent.list keeps working against persisted history).
func NewRegistry(st store.Store, command string, args []string) *Registry {
	return &Registry{chats: make(map[uuid.UUID]*activeChat), store: st, command: command, args: args}
}

// Start spawns a fresh subprocess and registers a new chat thread.
func (r *Registry) Start(subscriberID uuid.UUID, threadID string) (uuid.UUID, error) {
	if r.command == "" {
		return uuid.Nil, fmt.Errorf("agent subprocess not configured")
	}
	if threadID == "" {
		threadID = uuid.NewString()
	}

	proc, events, err := agentproc.Spawn(r.command, r.args...)
	if err != nil {
		return uuid.Nil, fmt.Errorf("spawn agent: %w", err)
	}
	if _, err := proc.Initialize("homiegw", "1"); err != nil {
		proc.Shutdown()
		return uuid.Nil, fmt.Errorf("initialize agent: %w", err)
	}

	chatID := uuid.New()
	ac := &activeChat{
		chatID:    chatID,
		threadID:  threadID,
		createdAt: time.Now().Unix(),
		process:   proc,
		subs:      map[uuid.UUID]chan []byte{subscriberID: make(chan []byte, subscriberQueueCap)},
	}

	r.mu.Lock()
	r.chats[chatID] = ac
	r.mu.Unlock()

	r.persist(ac, store.StatusActive)
	go r.forward(chatID, ac, events)

	return chatID, nil
}

// forward drains one chat's subprocess events, records them for replay,
// and fans them out to attached subscribers with the same lossy
// backpressure policy the terminal subsystem uses for PTY output.
func (r *Registry) forward(chatID uuid.UUID, ac *activeChat, events <-chan agentproc.Event) {
	for ev := range events {
		ac.mu.Lock()
		ac.pointer++
		ce := chatEvent{Method: ev.Method, ID: ev.ID, Params: ev.Params}
		ac.history = append(ac.history, ce)
		if len(ac.history) > historyLimit {
			ac.history = ac.history[len(ac.history)-historyLimit:]
		}
		pointer := ac.pointer
		ac.mu.Unlock()

		r.store.UpdateEventPointer(chatID.String(), pointer)

		env, err := wire.NewEvent("agent."+chatID.String(), ce)
		if err != nil {
			logger.Warn("encode agent event failed", "chat_id", chatID, "err", err)
			continue
		}
		data, err := env.Encode()
		if err != nil {
			logger.Warn("encode agent event failed", "chat_id", chatID, "err", err)
			continue
		}

		ac.mu.Lock()
		for id, q := range ac.subs {
			select {
			case q <- data:
			default:
				logger.Warn("agent subscriber queue full, dropping event", "chat_id", chatID, "subscriber_id", id)
			}
		}
		ac.mu.Unlock()
	}

	// Subprocess event channel closed: the child exited. Mark the
	// thread exited so agent.list reflects it without a client having
	// to poll the process directly.
	r.persist(ac, store.StatusExited)
}

// Attach registers subscriberID to receive chatID's fanned-out events,
// replaying buffered history ahead of future live events on first
// attach from that subscriber.
func (r *Registry) Attach(subscriberID, chatID uuid.UUID) (<-chan []byte, error) {
	ac := r.get(chatID)
	if ac == nil {
		return nil, &NotFoundError{ChatID: chatID}
	}

	ac.mu.Lock()
	q, existed := ac.subs[subscriberID]
	if !existed {
		q = make(chan []byte, subscriberQueueCap)
		ac.subs[subscriberID] = q
	}
	snapshot := append([]chatEvent(nil), ac.history...)
	ac.mu.Unlock()

	if !existed {
		go replay(chatID, snapshot, q)
	}
	return q, nil
}

func replay(chatID uuid.UUID, history []chatEvent, q chan []byte) {
	for _, ce := range history {
		env, err := wire.NewEvent("agent."+chatID.String(), ce)
		if err != nil {
			continue
		}
		data, err := env.Encode()
		if err != nil {
			continue
		}
		select {
		case q <- data:
		default:
			return
		}
	}
}

// Detach removes subscriberID from chatID's fan-out.
func (r *Registry) Detach(subscriberID, chatID uuid.UUID) error {
	ac := r.get(chatID)
	if ac == nil {
		return &NotFoundError{ChatID: chatID}
	}
	ac.mu.Lock()
	delete(ac.subs, subscriberID)
	ac.mu.Unlock()
	return nil
}

// DetachAll removes subscriberID from every chat it is attached to, e.g.
// on connection teardown.
func (r *Registry) DetachAll(subscriberID uuid.UUID) {
	r.mu.Lock()
	chats := make([]*activeChat, 0, len(r.chats))
	for _, ac := range r.chats {
		chats = append(chats, ac)
	}
	r.mu.Unlock()

	for _, ac := range chats {
		ac.mu.Lock()
		delete(ac.subs, subscriberID)
		ac.mu.Unlock()
	}
}

// Send forwards message to chatID's subprocess as a user_message
// notification.
func (r *Registry) Send(chatID uuid.UUID, message json.RawMessage) error {
	ac := r.get(chatID)
	if ac == nil {
		return &NotFoundError{ChatID: chatID}
	}
	return ac.process.SendNotification("user_message", message)
}

// Approve relays a response to a request the subprocess itself
// initiated (e.g. a tool-approval prompt surfaced as an event with a
// non-nil id).
func (r *Registry) Approve(chatID uuid.UUID, requestID uint64, result json.RawMessage) error {
	ac := r.get(chatID)
	if ac == nil {
		return &NotFoundError{ChatID: chatID}
	}
	return ac.process.SendResponse(requestID, result)
}

// Stop shuts down chatID's subprocess and removes it from the registry.
func (r *Registry) Stop(chatID uuid.UUID) error {
	ac := r.remove(chatID)
	if ac == nil {
		return &NotFoundError{ChatID: chatID}
	}
	ac.process.Shutdown()
	r.persist(ac, store.StatusExited)
	return nil
}

// List returns every persisted chat record.
func (r *Registry) List() ([]*store.ChatRecord, error) {
	return r.store.ListChats()
}

// ShutdownAll tears down every active chat's subprocess, e.g. on process
// exit.
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	chats := make([]*activeChat, 0, len(r.chats))
	for _, ac := range r.chats {
		chats = append(chats, ac)
	}
	r.chats = make(map[uuid.UUID]*activeChat)
	r.mu.Unlock()

	for _, ac := range chats {
		ac.process.Shutdown()
	}
}

func (r *Registry) get(id uuid.UUID) *activeChat {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chats[id]
}

func (r *Registry) remove(id uuid.UUID) *activeChat {
	r.mu.Lock()
	defer r.mu.Unlock()
	ac := r.chats[id]
	delete(r.chats, id)
	return ac
}

func (r *Registry) persist(ac *activeChat, status store.SessionStatus) {
	ac.mu.Lock()
	rec := &store.ChatRecord{
		ChatID:       ac.chatID.String(),
		ThreadID:     ac.threadID,
		CreatedAt:    ac.createdAt,
		Status:       status,
		EventPointer: ac.pointer,
	}
	ac.mu.Unlock()

	if err := r.store.UpsertChat(rec); err != nil {
		logger.Warn("persist chat record failed", "chat_id", ac.chatID, "err", err)
	}
}
