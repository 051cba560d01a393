package store

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/robot-ai-webapp/gateway/internal/protocol"
	"go.uber.org/zap"
)

type fakeSubscriber struct {
	id       string
	mu       sync.Mutex
	received []*protocol.Message
	subbed   map[string]bool
}

func newFakeSubscriber(id string) *fakeSubscriber {
	return &fakeSubscriber{id: id, subbed: make(map[string]bool)}
}

func (f *fakeSubscriber) ClientID() string { return f.id }

func (f *fakeSubscriber) Deliver(msg *protocol.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, msg)
}

func (f *fakeSubscriber) MarkSubscribed(name string)   { f.subbed[name] = true }
func (f *fakeSubscriber) MarkUnsubscribed(name string) { delete(f.subbed, name) }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newTestStore(t *testing.T, schema string) *Store {
	t.Helper()
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "vars.conf")
	dbPath := filepath.Join(dir, "vars.db")
	writeFile(t, schemaPath, schema)

	s := New(zap.NewNop())
	if err := s.LoadSchema(schemaPath); err != nil {
		t.Fatalf("LoadSchema: %v", err)
	}
	if err := s.LoadPersistent(dbPath); err != nil {
		t.Fatalf("LoadPersistent: %v", err)
	}
	return s
}

func TestGetSetRoundTrip(t *testing.T) {
	s := newTestStore(t, "Depth = 0.0000, 0, 0\n")

	if res := s.Set("Depth", 1.5); res != SetOk {
		t.Fatalf("Set returned %v, want SetOk", res)
	}
	val, readOnly, ok := s.Get("Depth")
	if !ok || readOnly || val != 1.5 {
		t.Errorf("Get = (%v, %v, %v), want (1.5, false, true)", val, readOnly, ok)
	}
}

func TestSetReadOnlyRejected(t *testing.T) {
	s := newTestStore(t, "ClockHz = 100, 0, 1\n")
	if res := s.Set("ClockHz", 200); res != SetReadOnly {
		t.Errorf("Set on read-only var returned %v, want SetReadOnly", res)
	}
}

func TestSetUnknownVariable(t *testing.T) {
	s := newTestStore(t, "Depth = 0, 0, 0\n")
	if res := s.Set("Nope", 1); res != SetNotFound {
		t.Errorf("Set on unknown var returned %v, want SetNotFound", res)
	}
}

func TestSubscribeReceivesWatchPush(t *testing.T) {
	s := newTestStore(t, "Depth = 0, 0, 0\n")
	sub := newFakeSubscriber("c1")

	if ok := s.Subscribe(sub, "Depth"); !ok {
		t.Fatal("Subscribe returned false for known variable")
	}
	if !sub.subbed["Depth"] {
		t.Error("subscriber's own subscription set was not mirrored")
	}

	s.Set("Depth", 3.25)

	if len(sub.received) != 1 {
		t.Fatalf("got %d pushes, want 1", len(sub.received))
	}
	msg := sub.received[0]
	if msg.Namespace() != protocol.NSWatch || len(msg.Components) < 2 || msg.Components[1] != "Depth" {
		t.Errorf("unexpected push components: %v", msg.Components)
	}
}

func TestUnsubscribeStopsPush(t *testing.T) {
	s := newTestStore(t, "Depth = 0, 0, 0\n")
	sub := newFakeSubscriber("c1")
	s.Subscribe(sub, "Depth")

	if res := s.Unsubscribe(sub, "Depth"); res != UnsubOk {
		t.Fatalf("Unsubscribe returned %v, want UnsubOk", res)
	}
	s.Set("Depth", 9)
	if len(sub.received) != 0 {
		t.Errorf("got %d pushes after unsubscribe, want 0", len(sub.received))
	}

	if res := s.Unsubscribe(sub, "Depth"); res != UnsubNotSubscribed {
		t.Errorf("second Unsubscribe returned %v, want UnsubNotSubscribed", res)
	}
}

func TestDropClientRemovesFromAllVariables(t *testing.T) {
	s := newTestStore(t, "A = 0, 0, 0\nB = 0, 0, 0\n")
	sub := newFakeSubscriber("c1")
	s.Subscribe(sub, "A")
	s.Subscribe(sub, "B")

	s.DropClient(sub)

	s.Set("A", 1)
	s.Set("B", 1)
	if len(sub.received) != 0 {
		t.Errorf("got %d pushes after DropClient, want 0", len(sub.received))
	}
}

func TestPersistentValueSurvivesFlushAndReload(t *testing.T) {
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "vars.conf")
	dbPath := filepath.Join(dir, "vars.db")
	writeFile(t, schemaPath, "PID.p = 0, 1, 0\n")

	s := New(zap.NewNop())
	if err := s.LoadSchema(schemaPath); err != nil {
		t.Fatalf("LoadSchema: %v", err)
	}
	if err := s.LoadPersistent(dbPath); err != nil {
		t.Fatalf("LoadPersistent: %v", err)
	}
	s.StartFlusher()

	s.Set("PID.p", 3.25)
	s.Stop() // forces a final synchronous flush

	reloaded := New(zap.NewNop())
	if err := reloaded.LoadSchema(schemaPath); err != nil {
		t.Fatalf("LoadSchema (reload): %v", err)
	}
	if err := reloaded.LoadPersistent(dbPath); err != nil {
		t.Fatalf("LoadPersistent (reload): %v", err)
	}
	val, _, ok := reloaded.Get("PID.p")
	if !ok || val != 3.25 {
		t.Errorf("reloaded value = %v, ok = %v, want 3.25, true", val, ok)
	}
}

func TestLoadPersistentRejectsUnknownName(t *testing.T) {
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "vars.conf")
	dbPath := filepath.Join(dir, "vars.db")
	writeFile(t, schemaPath, "Depth = 0, 1, 0\n")
	writeFile(t, dbPath, "Ghost = 1.0000\n")

	s := New(zap.NewNop())
	if err := s.LoadSchema(schemaPath); err != nil {
		t.Fatalf("LoadSchema: %v", err)
	}
	if err := s.LoadPersistent(dbPath); err == nil {
		t.Error("expected an error for an unknown variable name in the DB file")
	}
}
