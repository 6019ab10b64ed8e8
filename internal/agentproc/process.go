// Package agentproc speaks a newline-delimited JSON request/response
// protocol to a long-lived child process, correlating requests and
// responses by a client-generated id while fanning out anything the
// child sends unprompted (notifications, or requests of its own) onto
// an event channel.
package agentproc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/homiegw/internal/logger"
)

// eventQueueCap bounds how many unconsumed notifications/requests from
// the child may queue before new ones are dropped.
const eventQueueCap = 256

// writeQueueCap bounds how many outbound lines may queue before a
// caller's send blocks on a slow or stuck child.
const writeQueueCap = 64

// Event is a notification or request received from the child that
// wasn't a response to one of our own requests.
type Event struct {
	Method string
	ID     *uint64
	Params json.RawMessage
}

// pendingEntry registers a waiter for one in-flight request's response.
type pendingEntry struct {
	id uint64
	ch chan json.RawMessage
}

// Process manages a spawned child speaking line-delimited JSON over its
// stdin/stdout. Multiple concurrent SendRequest calls are safe; each
// gets its own monotonic id and is matched only by that id.
type Process struct {
	cmd    *exec.Cmd
	stdin  chan string
	events chan Event

	nextID  atomic.Uint64
	pending chan pendingEntry

	done chan struct{}
	once sync.Once
}

// Spawn starts name with args, piping its stdin and stdout and
// discarding stderr. The returned Process's event channel delivers
// anything the child sends that isn't a correlated response.
func Spawn(name string, args ...string) (*Process, <-chan Event, error) {
	cmd := exec.Command(name, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("spawn %s: %w", name, err)
	}

	p := &Process{
		cmd:     cmd,
		stdin:   make(chan string, writeQueueCap),
		events:  make(chan Event, eventQueueCap),
		pending: make(chan pendingEntry, writeQueueCap),
		done:    make(chan struct{}),
	}

	go p.readLoop(stdout)
	go p.writeLoop(stdin)

	return p, p.events, nil
}

// Initialize performs the handshake shape most app-server style
// subprocess protocols expect: an "initialize" request carrying client
// identification, followed by an "initialized" notification.
func (p *Process) Initialize(clientName, clientVersion string) (json.RawMessage, error) {
	result, err := p.SendRequest("initialize", map[string]any{
		"clientInfo": map[string]string{
			"name":    clientName,
			"version": clientVersion,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := p.SendNotification("initialized", nil); err != nil {
		return nil, err
	}
	return result, nil
}

type outboundRequest struct {
	Method string `json:"method"`
	ID     uint64 `json:"id"`
	Params any    `json:"params,omitempty"`
}

type outboundNotification struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type outboundResponse struct {
	ID     uint64 `json:"id"`
	Result any    `json:"result"`
}

// SendRequest allocates a fresh id, registers a waiter for it, writes
// the request line, and blocks until the matching response arrives or
// the process is shut down.
func (p *Process) SendRequest(method string, params any) (json.RawMessage, error) {
	id := p.nextID.Add(1)
	ch := make(chan json.RawMessage, 1)

	select {
	case p.pending <- pendingEntry{id: id, ch: ch}:
	case <-p.done:
		return nil, fmt.Errorf("process shut down")
	}

	line, err := json.Marshal(outboundRequest{Method: method, ID: id, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	if err := p.enqueue(string(line)); err != nil {
		return nil, err
	}

	select {
	case result := <-ch:
		return result, nil
	case <-p.done:
		return nil, fmt.Errorf("process shut down waiting for response to %s", method)
	}
}

// SendNotification writes a method+params line with no id; no response
// is expected or waited for.
func (p *Process) SendNotification(method string, params any) error {
	line, err := json.Marshal(outboundNotification{Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return p.enqueue(string(line))
}

// SendResponse replies to a request the child itself initiated (e.g. an
// approval prompt surfaced as an Event with a non-nil ID).
func (p *Process) SendResponse(id uint64, result any) error {
	line, err := json.Marshal(outboundResponse{ID: id, Result: result})
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	return p.enqueue(string(line))
}

func (p *Process) enqueue(line string) error {
	select {
	case p.stdin <- line:
		return nil
	case <-p.done:
		return fmt.Errorf("process shut down")
	}
}

// Shutdown kills the child and stops the reader/writer goroutines.
// Idempotent.
func (p *Process) Shutdown() {
	p.once.Do(func() {
		close(p.done)
		if p.cmd.Process != nil {
			p.cmd.Process.Kill()
		}
		p.cmd.Wait()
	})
}

func (p *Process) writeLoop(stdin io.Writer) {
	for {
		select {
		case line := <-p.stdin:
			if _, err := stdin.Write([]byte(line + "\n")); err != nil {
				logger.Warn("subprocess stdin write error", "err", err)
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *Process) readLoop(stdout io.Reader) {
	defer close(p.events)
	pending := make(map[uint64]chan json.RawMessage)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case entry := <-p.pending:
			pending[entry.id] = entry.ch
		case line, ok := <-lines:
			if !ok {
				logger.Debug("subprocess reader loop exited")
				return
			}
			dispatchLine(line, pending, p.events)
		case <-p.done:
			return
		}
	}
}

type wireMessage struct {
	Method *string         `json:"method"`
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Params json.RawMessage `json:"params"`
}

// dispatchLine parses one JSONL line and routes it to the matching
// pending waiter (response) or the event channel (notification, or a
// request initiated by the child). Malformed or empty lines are logged
// and skipped; a response with no registered waiter is logged at debug
// and discarded rather than treated as an error, since a late response
// after the caller gave up is expected, not exceptional.
func dispatchLine(line string, pending map[uint64]chan json.RawMessage, events chan<- Event) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}

	var msg wireMessage
	if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
		logger.Warn("subprocess sent non-JSON line", "err", err)
		return
	}

	if msg.Method == nil {
		if msg.ID == nil {
			return
		}
		ch, ok := pending[*msg.ID]
		if !ok {
			logger.Debug("subprocess response with no waiter", "id", *msg.ID)
			return
		}
		delete(pending, *msg.ID)
		result := msg.Result
		if result == nil {
			result = json.RawMessage(trimmed)
		}
		ch <- result
		return
	}

	event := Event{Method: *msg.Method, ID: msg.ID, Params: msg.Params}
	select {
	case events <- event:
	default:
		logger.Warn("subprocess event channel full, dropping event", "method", event.Method)
	}
}
