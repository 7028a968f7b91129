// Package client implements the client side of the core: one
// broadcast coordinator driving N replica connections, a liveness
// dummy-ticker, and per-replica receiver goroutines that split acks
// from executed-command outputs.
package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonathanchu33/distributed-vaccine-database/internal/clock"
	"github.com/jonathanchu33/distributed-vaccine-database/internal/logging"
	"github.com/jonathanchu33/distributed-vaccine-database/internal/metrics"
	"github.com/jonathanchu33/distributed-vaccine-database/internal/wire"
)

// DummyInterval is the liveness tick period for dummy broadcasts.
const DummyInterval = 100 * time.Millisecond

const ackQueueCapacity = 1

// replicaView is one replica's connection state: the transport handle,
// its live/demoted flag, and the inbox the receiver goroutine funnels
// acks and failure notices into for the broadcaster to consume.
type replicaView struct {
	addr string
	conn *wire.Conn
	live atomic.Bool
	acks chan wire.Message
}

func (v *replicaView) isLive() bool { return v.live.Load() }

// Coordinator is the client-side broadcast coordinator: it enforces the
// broadcast-sequencing restriction (one broadcast in flight at a time,
// via broadcastMu) across every live replica, and demotes a replica to
// dead the first time it reports a simulated failure.
type Coordinator struct {
	clientID string
	log      logging.Logger
	metrics  *metrics.Client

	clk *clock.Clock

	broadcastMu sync.Mutex
	replicas    []*replicaView

	outputs chan wire.Message

	quitting atomic.Bool
}

// Connect dials and handshakes with every replica address in order and
// returns a Coordinator ready to broadcast. Replica order is significant
// only for the handshake; broadcasts fan out to all of them.
func Connect(addrs []string, log logging.Logger, m *metrics.Client) (*Coordinator, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("client: at least one replica address is required")
	}

	c := &Coordinator{
		clientID: newClientID(),
		log:      log,
		metrics:  m,
		clk:      clock.New(0),
		outputs:  make(chan wire.Message, 256),
	}

	for _, addr := range addrs {
		conn, err := wire.Dial(addr)
		if err != nil {
			c.closeAll()
			return nil, fmt.Errorf("client: connecting to %s: %w", addr, err)
		}

		if err := conn.Send(wire.Message{
			Transaction: wire.Init,
			LClock:      c.clk.Current(),
			HasLClock:   true,
			ClientID:    c.clientID,
		}); err != nil {
			conn.Close()
			c.closeAll()
			return nil, fmt.Errorf("client: sending init to %s: %w", addr, err)
		}

		ack, err := conn.Receive()
		if err != nil {
			conn.Close()
			c.closeAll()
			return nil, fmt.Errorf("client: init handshake with %s: %w", addr, err)
		}
		c.clk.Observe(ack.LClock)

		view := &replicaView{addr: addr, conn: conn, acks: make(chan wire.Message, ackQueueCapacity)}
		view.live.Store(ack.Transaction != wire.Failure)
		c.replicas = append(c.replicas, view)

		go c.receive(view)
	}

	log.Infof("connected to %d replicas as client %s", len(addrs), c.clientID)
	return c, nil
}

func (c *Coordinator) closeAll() {
	for _, v := range c.replicas {
		v.conn.Close()
	}
}

// RunDummyLoop broadcasts a dummy request every DummyInterval until ctx
// is cancelled, giving the replicas' stability selector forward progress
// even when this client is waiting on user input.
func (c *Coordinator) RunDummyLoop(ctx context.Context) {
	ticker := time.NewTicker(DummyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.quitting.Load() {
				return
			}
			if _, err := c.Broadcast(wire.Message{Transaction: wire.Dummy}); err != nil {
				c.log.Warnf("dummy broadcast failed: %v", err)
				return
			}
			c.metrics.DummyTicks.Inc()
		}
	}
}

// Broadcast sends msg to every live replica (every replica at all, if
// msg is a quit), waits for one ack per live replica, demotes any
// replica whose ack is a failure notice, and returns the request's
// sequence number.
func (c *Coordinator) Broadcast(msg wire.Message) (uint64, error) {
	c.broadcastMu.Lock()
	defer c.broadcastMu.Unlock()

	seq := c.clk.Tick()
	msg.RSeqno = seq
	msg.HasRSeqno = true
	msg.LClock = seq
	msg.HasLClock = true
	msg.ClientID = c.clientID

	isQuit := msg.Transaction == wire.Quit

	var sent []*replicaView
	for _, v := range c.replicas {
		live := v.isLive()
		if !live && !isQuit {
			continue
		}
		if err := v.conn.Send(msg); err != nil {
			c.log.Warnf("broadcast to %s failed: %v", v.addr, err)
			continue
		}
		// A quit also reaches demoted replicas, but only live ones are
		// waited on for an ack.
		if live {
			sent = append(sent, v)
		}
	}
	c.metrics.Broadcasts.WithLabelValues(string(msg.Transaction)).Inc()

	for _, v := range sent {
		ack := <-v.acks
		c.metrics.Acks.Inc()
		if ack.Transaction == wire.Failure {
			v.live.Store(false)
			c.metrics.Demotions.Inc()
		}
	}

	return seq, nil
}

// WaitForOutput blocks until the executed-command output for rseqno
// arrives, discarding any stale or duplicate outputs queued ahead of it.
func (c *Coordinator) WaitForOutput(ctx context.Context, rseqno uint64) (string, error) {
	for {
		select {
		case msg, ok := <-c.outputs:
			if !ok {
				return "", fmt.Errorf("client: output channel closed")
			}
			if msg.RSeqno == rseqno {
				return msg.OutputMsg, nil
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Quit broadcasts a quit request to every replica, waits for the acks of
// the live ones, and then closes every connection.
func (c *Coordinator) Quit() error {
	c.quitting.Store(true)
	_, err := c.Broadcast(wire.Message{Transaction: wire.Quit})
	c.closeAll()
	return err
}

// receive is the per-replica receiver goroutine: it reads every inbound
// message, routes acks and failure notices to the replica's ack inbox,
// and routes everything else (executed-command outputs) to the shared
// output queue.
func (c *Coordinator) receive(v *replicaView) {
	for {
		msg, err := v.conn.Receive()
		if err != nil {
			// A broken transport is indistinguishable from a replica
			// that has gone away: synthesize the failure notice it
			// never got to send so a Broadcast blocked on this
			// replica's ack unblocks instead of hanging forever.
			v.live.Store(false)
			select {
			case v.acks <- wire.Message{Transaction: wire.Failure}:
			default:
			}
			c.log.Warnf("replica %s transport error: %v", v.addr, err)
			return
		}
		c.clk.Observe(msg.LClock)

		switch msg.Transaction {
		case wire.Ack:
			v.acks <- msg
		case wire.Failure:
			v.acks <- msg
			v.live.Store(false)
			c.log.Warnf("replica %s reported failure", v.addr)
			return
		default:
			c.outputs <- msg
		}
	}
}

func newClientID() string {
	return time.Now().Format("20060102150405.000000")
}
