package terminal

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/creack/pty"

	"github.com/ehrlich-b/homiegw/internal/logger"
)

// outputChunkSize bounds a single read from the PTY master before it is
// handed to the output queue.
const outputChunkSize = 32 * 1024

// outputQueueCap bounds how many unread chunks may sit in a runtime's
// output queue before the reader goroutine blocks on send. A consumer
// (the registry's forward task) is expected to drain this promptly; the
// bound exists only to cap memory if it briefly falls behind, not to
// implement subscriber backpressure (that happens downstream, per
// subscriber, via the registry's lossy fan-out).
const outputQueueCap = 256

// Runtime owns the OS-level resources of a single PTY session: the
// master/slave pair, the spawned child, and the goroutine blocked reading
// from the master. A Runtime is created once per session and torn down
// exactly once by Shutdown.
type Runtime struct {
	cmd    *exec.Cmd
	master *os.File

	output chan []byte

	closing int32 // set by Shutdown to suppress the "unexpected read error" log
	mu      sync.Mutex
	closed  bool

	done      chan struct{} // closed once the child has been reaped
	exitCode  atomic.Uint32
	sessionID string
}

// Start spawns shell as a child attached to a freshly allocated PTY of
// the given size and begins goroutines reading its output and reaping
// its exit status.
func Start(sessionID, shell string, cols, rows uint16) (*Runtime, error) {
	cmd := exec.Command(shell)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	master, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	r := &Runtime{
		cmd:       cmd,
		master:    master,
		output:    make(chan []byte, outputQueueCap),
		done:      make(chan struct{}),
		sessionID: sessionID,
	}
	go r.readLoop()
	go r.waitLoop()
	return r, nil
}

// waitLoop blocks until the child exits, records its exit code, and
// closes done. There is exactly one call to cmd.Wait() per Runtime, as
// required by os/exec.
func (r *Runtime) waitLoop() {
	err := r.cmd.Wait()
	code := 0
	if r.cmd.ProcessState != nil {
		code = r.cmd.ProcessState.ExitCode()
	}
	if code < 0 {
		code = 0
	}
	_ = err
	r.exitCode.Store(uint32(code))
	close(r.done)
}

func (r *Runtime) readLoop() {
	defer close(r.output)
	buf := make([]byte, outputChunkSize)
	for {
		n, err := r.master.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			r.output <- chunk
		}
		if err != nil {
			if atomic.LoadInt32(&r.closing) == 0 && err != io.EOF {
				logger.Warn("terminal pty read error", "session_id", r.sessionID, "err", err)
			}
			return
		}
	}
}

// Output returns the channel of raw output chunks read from the PTY
// master. It is closed when the reader goroutine exits (EOF, read error,
// or shutdown).
func (r *Runtime) Output() <-chan []byte {
	return r.output
}

// WriteInput writes bytes to the PTY's input side (what the child reads
// as stdin).
func (r *Runtime) WriteInput(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("write to closed session %s", r.sessionID)
	}
	if _, err := r.master.Write(data); err != nil {
		return fmt.Errorf("write pty input: %w", err)
	}
	return nil
}

// Resize updates the PTY's terminal size.
func (r *Runtime) Resize(cols, rows uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("resize closed session %s", r.sessionID)
	}
	if err := pty.Setsize(r.master, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return fmt.Errorf("resize pty: %w", err)
	}
	return nil
}

// TryWait performs a non-blocking poll of the child's exit status. It
// returns ok=false while the child is still running. Once the child has
// exited, TryWait keeps returning the same exit code on every subsequent
// call.
func (r *Runtime) TryWait() (code uint32, ok bool) {
	select {
	case <-r.done:
		return r.exitCode.Load(), true
	default:
		return 0, false
	}
}

// Shutdown signals the reader to stop, closes the master (which unblocks
// the blocking Read), kills the child if still alive, and waits for it to
// be reaped. Idempotent.
func (r *Runtime) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	atomic.StoreInt32(&r.closing, 1)
	r.master.Close()
	if r.cmd.Process != nil {
		r.cmd.Process.Kill()
	}
	<-r.done
}
