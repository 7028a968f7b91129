package replica

import (
	"context"
	"errors"

	"github.com/jonathanchu33/distributed-vaccine-database/internal/logging"
	"github.com/jonathanchu33/distributed-vaccine-database/internal/wire"
)

// handleConnection is the replica connection handler: init handshake,
// request loop with per-request ack, and the post-failure drain.
func (r *Replica) handleConnection(ctx context.Context, conn *wire.Conn) {
	defer conn.Close()

	initMsg, err := conn.Receive()
	if err != nil {
		r.log.Warnf("connection closed before handshake: %v", err)
		return
	}
	if initMsg.Transaction != wire.Init {
		r.log.Warnf("expected init message, got %q", initMsg.Transaction)
		return
	}
	clientID := initMsg.ClientID
	if initMsg.HasLClock {
		r.clk.Observe(initMsg.LClock)
	}

	entry := &clientEntry{conn: conn, queue: make(chan wire.Message, requestQueueCapacity)}
	r.mu.Lock()
	r.clients[clientID] = entry
	r.connected[clientID] = struct{}{}
	r.mu.Unlock()
	r.notIdle.Set()
	r.cfg.Metrics.ConnectedClients.Set(float64(r.connectedCount()))

	log := r.log.With("client_id", clientID)
	log.Infof("client connected from %s", conn.RemoteAddr())

	if err := conn.Send(wire.Message{
		Transaction: wire.Init,
		LClock:      r.clk.Current(),
		HasLClock:   true,
	}); err != nil {
		log.Warnf("failed sending init ack: %v", err)
		r.removeClientFully(clientID)
		return
	}

	r.requestLoop(ctx, log, clientID, entry)
}

// requestLoop is the main receive/enqueue/ack loop, handing off to the
// failure drain once the replica is marked failed. Polling isAlive at
// the top of the loop (rather than interrupting an in-flight Receive)
// relies on the client's ~100ms dummy tick to periodically wake the
// blocking read.
func (r *Replica) requestLoop(ctx context.Context, log logging.Logger, clientID string, entry *clientEntry) {
	quitSeen := false

	for r.isAlive() {
		msg, err := entry.conn.Receive()
		if err != nil {
			if errors.Is(err, wire.ErrTransportClosed) {
				log.Infof("transport closed, treating as implicit quit")
			} else {
				log.Warnf("protocol error, treating as implicit quit: %v", err)
			}
			r.removeClientFully(clientID)
			return
		}

		newLClock := r.clk.Observe(valueOrZero(msg.HasRSeqno, msg.RSeqno))
		msg.LClock = newLClock
		msg.HasLClock = true
		msg.ClientID = clientID

		r.cfg.Metrics.RequestsReceived.WithLabelValues(string(msg.Transaction)).Inc()

		select {
		case entry.queue <- msg:
		case <-ctx.Done():
			return
		}

		ackErr := entry.conn.Send(wire.Message{
			Transaction: wire.Ack,
			RSeqno:      msg.RSeqno,
			HasRSeqno:   msg.HasRSeqno,
			LClock:      newLClock,
			HasLClock:   true,
		})
		if ackErr != nil {
			log.Warnf("failed sending ack: %v", ackErr)
			r.removeClientFully(clientID)
			return
		}

		if msg.Transaction == wire.Quit {
			quitSeen = true
			r.markDisconnected(clientID)
			break
		}
	}

	if !r.isAlive() {
		r.failureDrain(log, clientID, entry)
		return
	}

	if !quitSeen {
		// Nothing more to do; context cancellation returns from inside
		// the loop, and handleConnection's deferred Close closes this
		// socket.
		return
	}
}

// failureDrain runs once a replica has been marked failed: emit one
// failure notice, drain until the client quits, send a final dummy ack
// to unblock the client's receiver goroutine, then close.
func (r *Replica) failureDrain(log logging.Logger, clientID string, entry *clientEntry) {
	if err := entry.conn.Send(wire.Message{
		Transaction: wire.Failure,
		LClock:      r.clk.Current(),
		HasLClock:   true,
	}); err != nil {
		log.Warnf("failed sending failure notice: %v", err)
	}

	for {
		msg, err := entry.conn.Receive()
		if err != nil {
			break
		}
		if msg.Transaction == wire.Quit {
			break
		}
	}

	if err := entry.conn.Send(wire.Message{
		Transaction: wire.Dummy,
		LClock:      r.clk.Current(),
		HasLClock:   true,
	}); err != nil {
		log.Warnf("failed sending post-failure dummy ack: %v", err)
	}

	r.removeClientFully(clientID)
}

func valueOrZero(has bool, v uint64) uint64 {
	if has {
		return v
	}
	return 0
}
