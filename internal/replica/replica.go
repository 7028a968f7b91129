// Package replica implements the replica side of the core: the
// per-client connection handler, the stability-selecting execution
// loop, and the failure injector.
package replica

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/jonathanchu33/distributed-vaccine-database/internal/appdb"
	"github.com/jonathanchu33/distributed-vaccine-database/internal/clock"
	"github.com/jonathanchu33/distributed-vaccine-database/internal/logging"
	"github.com/jonathanchu33/distributed-vaccine-database/internal/metrics"
	"github.com/jonathanchu33/distributed-vaccine-database/internal/wire"
)

// clientEntry bundles one client's transport handle and per-client
// FIFO, registered together on init and torn down together once the
// execution loop (graceful quit) or the connection handler (failure
// drain, broken transport or failed send) decides the client is gone.
type clientEntry struct {
	conn  *wire.Conn
	queue chan wire.Message
}

const requestQueueCapacity = 4096

// Config holds replica construction parameters.
type Config struct {
	Addr     string // listen address, e.g. "localhost:8892"
	TestMode bool   // append executed requests to test_log_<port>.txt
	Port     int    // used for the test-mode log filename
	Logger   logging.Logger
	Metrics  *metrics.Replica
}

// Replica is one state-machine replica: it accepts client connections,
// buffers per-client requests, and runs the stability selector that
// gives every live replica the same execution order.
type Replica struct {
	cfg Config
	db  *appdb.VaccineDB
	clk *clock.Clock
	log logging.Logger

	alive atomic.Bool

	mu        sync.Mutex
	clients   map[string]*clientEntry
	connected map[string]struct{}

	notIdle *notIdleEvent

	testLog   *os.File
	testLogMu sync.Mutex

	listener net.Listener

	// onListen, if set, is invoked with the bound listen address once
	// Serve has started accepting connections. Used by tests to recover
	// the actual port when Config.Addr asks for an ephemeral one.
	onListen func(string)

	addrReady chan struct{}
	boundAddr string
}

// New constructs a Replica in the live state. Call Serve to start
// accepting connections and running the execution loop.
func New(cfg Config) *Replica {
	r := &Replica{
		cfg:       cfg,
		db:        appdb.New(),
		clk:       clock.New(0),
		log:       cfg.Logger,
		clients:   make(map[string]*clientEntry),
		connected: make(map[string]struct{}),
		notIdle:   newNotIdleEvent(),
		addrReady: make(chan struct{}),
	}
	r.alive.Store(true)
	return r
}

// Serve binds the listener, launches the execution loop, and accepts
// connections until ctx is cancelled. Blocks until shutdown.
func (r *Replica) Serve(ctx context.Context) error {
	if r.cfg.TestMode {
		f, err := os.Create(fmt.Sprintf("test_log_%d.txt", r.cfg.Port))
		if err != nil {
			return fmt.Errorf("replica: creating test log: %w", err)
		}
		r.testLog = f
		defer f.Close()
	}

	ln, err := net.Listen("tcp", r.cfg.Addr)
	if err != nil {
		return fmt.Errorf("replica: listen %s: %w", r.cfg.Addr, err)
	}
	r.listener = ln
	defer ln.Close()
	r.boundAddr = ln.Addr().String()
	close(r.addrReady)
	if r.onListen != nil {
		r.onListen(r.boundAddr)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.runExecutionLoop(ctx)
	}()

	r.log.Infof("replica listening on %s", r.cfg.Addr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				wg.Wait()
				return nil
			default:
				r.log.Errorf("accept error: %v", err)
				wg.Wait()
				return err
			}
		}
		go r.handleConnection(ctx, wire.NewConn(conn))
	}
}

// Addr blocks until Serve has bound its listener and returns the actual
// address it is listening on, resolving any ephemeral port requested by
// Config.Addr (e.g. "127.0.0.1:0"). Returns the zero value if ctx is
// cancelled first.
func (r *Replica) Addr(ctx context.Context) string {
	select {
	case <-r.addrReady:
		return r.boundAddr
	case <-ctx.Done():
		return ""
	}
}

// Fail transitions the replica into the simulated-failure state exactly
// once. Returns true if this call performed the transition.
func (r *Replica) Fail() bool {
	transitioned := r.alive.CompareAndSwap(true, false)
	if transitioned {
		r.cfg.Metrics.Failures.Inc()
		r.log.Warnf("simulated failure injected")
	}
	return transitioned
}

func (r *Replica) isAlive() bool {
	return r.alive.Load()
}

func (r *Replica) markDisconnected(id string) {
	r.mu.Lock()
	delete(r.connected, id)
	empty := len(r.connected) == 0
	r.mu.Unlock()
	if empty {
		r.notIdle.Clear()
	}
}

func (r *Replica) removeClientFully(id string) {
	r.mu.Lock()
	entry, ok := r.clients[id]
	delete(r.clients, id)
	delete(r.connected, id)
	empty := len(r.connected) == 0
	r.mu.Unlock()

	if ok {
		close(entry.queue)
	}
	r.cfg.Metrics.ConnectedClients.Set(float64(r.connectedCount()))
	if empty {
		r.notIdle.Clear()
	}
}

func (r *Replica) connectedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connected)
}

func (r *Replica) isConnected(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.connected[id]
	return ok
}

func (r *Replica) appendTestLog(rseqno uint64, output string) {
	if r.testLog == nil {
		return
	}
	r.testLogMu.Lock()
	defer r.testLogMu.Unlock()
	fmt.Fprintf(r.testLog, "%d: %s\n", rseqno, output)
}
