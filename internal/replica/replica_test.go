package replica

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jonathanchu33/distributed-vaccine-database/internal/logging"
	"github.com/jonathanchu33/distributed-vaccine-database/internal/metrics"
	"github.com/jonathanchu33/distributed-vaccine-database/internal/wire"
	"go.uber.org/goleak"
)

// startTestReplica launches a Replica on an ephemeral port and returns
// its address plus a func that shuts the Serve goroutine down.
func startTestReplica(t *testing.T) (addr string, stop func()) {
	t.Helper()

	r := New(Config{
		Addr:    "127.0.0.1:0",
		Logger:  logging.New("test"),
		Metrics: metrics.NewReplica(),
	})

	ctx, cancel := context.WithCancel(context.Background())

	addrCh := make(chan string, 1)
	r.onListen = func(a string) { addrCh <- a }

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Serve(ctx)
	}()

	select {
	case addr = <-addrCh:
	case <-time.After(time.Second):
		t.Fatal("replica did not start listening in time")
	}

	stop = func() {
		cancel()
		<-done
	}
	return addr, stop
}

func dialAndInit(t *testing.T, addr, clientID string) *wire.Conn {
	t.Helper()
	conn, err := wire.Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := conn.Send(wire.Message{Transaction: wire.Init, LClock: 0, HasLClock: true, ClientID: clientID}); err != nil {
		t.Fatalf("send init: %v", err)
	}
	ack, err := conn.Receive()
	if err != nil {
		t.Fatalf("receive init ack: %v", err)
	}
	if ack.Transaction != wire.Init {
		t.Fatalf("init ack transaction = %q, want %q", ack.Transaction, wire.Init)
	}
	return conn
}

func TestSingleClientListAndQuit(t *testing.T) {
	defer goleak.VerifyNone(t)

	addr, stop := startTestReplica(t)
	defer stop()

	conn := dialAndInit(t, addr, "client-a")

	if err := conn.Send(wire.Message{Transaction: wire.List, RSeqno: 1, HasRSeqno: true}); err != nil {
		t.Fatalf("send list: %v", err)
	}
	ack, err := conn.Receive()
	if err != nil {
		t.Fatalf("receive ack: %v", err)
	}
	if ack.Transaction != wire.Ack {
		t.Fatalf("got %q, want ack", ack.Transaction)
	}
	// The execution loop refills a picked client's slot before executing,
	// so the list runs only once a further request (here the dummy a
	// client's ticker would send) is queued. The dummy's ack and the list
	// output can then arrive in either order.
	if err := conn.Send(wire.Message{Transaction: wire.Dummy, RSeqno: 2, HasRSeqno: true}); err != nil {
		t.Fatalf("send dummy: %v", err)
	}
	var out wire.Message
	for i := 0; i < 2; i++ {
		m, err := conn.Receive()
		if err != nil {
			t.Fatalf("receive output: %v", err)
		}
		if m.Transaction != wire.Ack {
			out = m
		}
	}
	if out.Transaction != wire.List {
		t.Fatalf("output transaction = %q, want list", out.Transaction)
	}

	if err := conn.Send(wire.Message{Transaction: wire.Quit, RSeqno: 3, HasRSeqno: true}); err != nil {
		t.Fatalf("send quit: %v", err)
	}
	if _, err := conn.Receive(); err != nil {
		t.Fatalf("receive quit ack: %v", err)
	}
	conn.Close()
}

func TestFailInjectionTriggersFailureNoticeAndDrain(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := New(Config{Addr: "127.0.0.1:0", Logger: logging.New("test"), Metrics: metrics.NewReplica()})
	addrCh := make(chan string, 1)
	r.onListen = func(a string) { addrCh <- a }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Serve(ctx)
	}()
	defer func() { cancel(); <-done }()

	var addr string
	select {
	case addr = <-addrCh:
	case <-time.After(time.Second):
		t.Fatal("no listen address")
	}

	conn := dialAndInit(t, addr, "client-b")
	defer conn.Close()

	if !r.Fail() {
		t.Fatal("expected first Fail() to transition")
	}
	if r.Fail() {
		t.Fatal("expected second Fail() to be a no-op")
	}

	// Unblock the connection handler's pending Receive so it re-checks
	// aliveness at the top of its loop and falls into the failure drain.
	if err := conn.Send(wire.Message{Transaction: wire.Dummy, RSeqno: 1, HasRSeqno: true}); err != nil {
		t.Fatalf("send unblocking dummy: %v", err)
	}
	if _, err := conn.Receive(); err != nil {
		t.Fatalf("receive ack for unblocking dummy: %v", err)
	}

	notice, err := conn.Receive()
	if err != nil {
		t.Fatalf("receive failure notice: %v", err)
	}
	if notice.Transaction != wire.Failure {
		t.Fatalf("got %q, want failure", notice.Transaction)
	}

	if err := conn.Send(wire.Message{Transaction: wire.Quit, RSeqno: 1, HasRSeqno: true}); err != nil {
		t.Fatalf("send quit during drain: %v", err)
	}
	if _, err := conn.Receive(); err != nil {
		t.Fatalf("receive post-failure dummy ack: %v", err)
	}
}

func TestTestModeAppendsExecutedOutputsToLogFile(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := New(Config{Addr: "127.0.0.1:0", TestMode: true, Port: 59999, Logger: logging.New("test"), Metrics: metrics.NewReplica()})
	addrCh := make(chan string, 1)
	r.onListen = func(a string) { addrCh <- a }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Serve(ctx)
	}()

	var addr string
	select {
	case addr = <-addrCh:
	case <-time.After(time.Second):
		t.Fatal("no listen address")
	}
	logPath := "test_log_59999.txt"
	defer os.Remove(logPath)

	conn := dialAndInit(t, addr, "client-c")
	if err := conn.Send(wire.Message{Transaction: wire.List, RSeqno: 1, HasRSeqno: true}); err != nil {
		t.Fatalf("send list: %v", err)
	}
	if _, err := conn.Receive(); err != nil { // ack
		t.Fatalf("receive ack: %v", err)
	}
	// The list executes once a further request refills its slot; see
	// TestSingleClientListAndQuit.
	if err := conn.Send(wire.Message{Transaction: wire.Dummy, RSeqno: 2, HasRSeqno: true}); err != nil {
		t.Fatalf("send dummy: %v", err)
	}
	for i := 0; i < 2; i++ { // dummy ack and list output, in either order
		if _, err := conn.Receive(); err != nil {
			t.Fatalf("receive output: %v", err)
		}
	}
	if err := conn.Send(wire.Message{Transaction: wire.Quit, RSeqno: 3, HasRSeqno: true}); err != nil {
		t.Fatalf("send quit: %v", err)
	}
	conn.Receive()
	conn.Close()

	cancel()
	<-done

	if _, err := os.Stat(logPath); err != nil {
		t.Fatalf("expected test log file to exist: %v", err)
	}
}
