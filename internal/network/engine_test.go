package network

import (
	"net"
	"testing"
	"time"

	"github.com/robot-ai-webapp/gateway/internal/protocol"
	"github.com/robot-ai-webapp/gateway/internal/registry"
	"github.com/robot-ai-webapp/gateway/internal/store"
	"go.uber.org/zap"
)

type fakeVars struct{}

func (fakeVars) DropClient(sub store.Subscriber) {}

type recordingDispatcher struct {
	handled chan *protocol.Message
}

func (d *recordingDispatcher) Handle(c *registry.Client, msg *protocol.Message) {
	d.handled <- msg
}

func newTestEngine(t *testing.T, maxClients int, limiter *AdmissionLimiter) (*Engine, *recordingDispatcher, string) {
	t.Helper()
	reg := registry.New(fakeVars{}, zap.NewNop())
	reg.StartReaper()
	t.Cleanup(reg.StopReaper)

	disp := &recordingDispatcher{handled: make(chan *protocol.Message, 8)}
	e := NewEngine(reg, disp, limiter, maxClients, 0, zap.NewNop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	e.listener = ln
	go e.acceptLoop()
	t.Cleanup(func() {
		e.Shutdown()
		e.Wait()
	})
	return e, disp, ln.Addr().String()
}

func TestEngineDispatchesDecodedMessage(t *testing.T) {
	_, disp, addr := newTestEngine(t, 0, nil)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	buf, err := protocol.NewCodec().Encode(protocol.New(1, protocol.NSComm, protocol.VerbAuth, "secret"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := conn.Write(buf); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case msg := <-disp.handled:
		if msg.Verb() != protocol.VerbAuth {
			t.Errorf("expected AUTH verb, got %+v", msg.Components)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
}

func TestEngineRejectsOverMaxClients(t *testing.T) {
	e, _, addr := newTestEngine(t, 1, nil)

	first, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer first.Close()

	// Give the accept loop a moment to register the first connection.
	deadline := time.Now().Add(time.Second)
	for e.registry.Count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	second, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(time.Second))
	one := make([]byte, 1)
	if _, err := second.Read(one); err == nil {
		t.Error("expected the second connection to be closed by the server")
	}
}

func TestEngineAdmissionLimiterRejectsExcessConnections(t *testing.T) {
	limiter := NewAdmissionLimiter(1)
	_, _, addr := newTestEngine(t, 0, limiter)

	first, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer first.Close()

	second, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(time.Second))
	one := make([]byte, 1)
	if _, err := second.Read(one); err == nil {
		t.Error("expected the rate-limited connection to be closed by the server")
	}
}
