package agent

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/homiegw/internal/store"
)

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// echoResponderArgs builds a fake subprocess that answers every request
// line carrying an id with a bare {"id":...,"result":{"echo":true}}
// response (so Process.Initialize's handshake request resolves) and also
// emits one unsolicited notification per line read, so tests can observe
// events flowing through the registry's fan-out.
func echoResponderArgs() (string, []string) {
	script := `while read -r line; do
  id=$(printf '%s' "$line" | grep -oE '"id":[0-9]+' | cut -d: -f2)
  if [ -n "$id" ]; then
    printf '{"id":%s,"result":{"echo":true}}\n' "$id"
  fi
  printf '{"method":"turn/event","params":{"ok":true}}\n'
done`
	return "sh", []string{"-c", script}
}

func TestRegistryStartAttachDetach(t *testing.T) {
	cmd, args := echoResponderArgs()
	r := NewRegistry(openTestStore(t), cmd, args)
	subscriber := uuid.New()

	chatID, err := r.Start(subscriber, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer r.Stop(chatID)

	if _, err := r.Attach(subscriber, chatID); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := r.Detach(subscriber, chatID); err != nil {
		t.Fatalf("detach: %v", err)
	}

	list, err := r.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ChatID != chatID.String() {
		t.Fatalf("got %+v", list)
	}
}

func TestRegistryAttachUnknownChatReturnsNotFound(t *testing.T) {
	r := NewRegistry(openTestStore(t), "", nil)
	if _, err := r.Attach(uuid.New(), uuid.New()); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestRegistryStartWithoutCommandConfiguredFails(t *testing.T) {
	r := NewRegistry(openTestStore(t), "", nil)
	if _, err := r.Start(uuid.New(), ""); err == nil {
		t.Fatal("expected error when no subprocess is configured")
	}
}

func TestRegistrySendAndStop(t *testing.T) {
	cmd, args := echoResponderArgs()
	r := NewRegistry(openTestStore(t), cmd, args)
	subscriber := uuid.New()

	chatID, err := r.Start(subscriber, "thread-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := r.Send(chatID, []byte(`"hello"`)); err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := r.Stop(chatID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := r.Stop(chatID); err == nil {
		t.Fatal("expected not-found on double stop")
	}
}

func TestRegistryShutdownAllStopsEveryChat(t *testing.T) {
	cmd, args := echoResponderArgs()
	r := NewRegistry(openTestStore(t), cmd, args)
	subscriber := uuid.New()

	if _, err := r.Start(subscriber, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := r.Start(subscriber, ""); err != nil {
		t.Fatalf("start: %v", err)
	}

	r.ShutdownAll()
	time.Sleep(10 * time.Millisecond)
}
