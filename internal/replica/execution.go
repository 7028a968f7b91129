package replica

import (
	"context"

	"github.com/jonathanchu33/distributed-vaccine-database/internal/wire"
)

// pick is one entry of the execution queue: the head request currently
// held for one connected client, keyed by (rseqno, client_id) for the
// stability test.
type pick struct {
	rseqno   uint64
	clientID string
	msg      wire.Message
}

// runExecutionLoop is the stability selector, the heart of the replica:
// fill the per-client heads, pick the minimum (rseqno, client_id),
// handle quit early, refill the picked slot, then skip or execute.
func (r *Replica) runExecutionLoop(ctx context.Context) {
	execQueue := make(map[string]pick)

	for {
		if ctx.Err() != nil {
			return
		}

		if !r.isAlive() {
			// Failure is permanent: nothing left to execute, just wait
			// for shutdown.
			<-ctx.Done()
			return
		}

		if !r.notIdle.Wait(ctx) {
			return
		}

		if !r.fill(ctx, execQueue) {
			return
		}
		if len(execQueue) == 0 {
			// Connected-set emptied concurrently between Wait and Fill.
			continue
		}

		head := argmin(execQueue)

		if head.msg.Transaction == wire.Quit {
			delete(execQueue, head.clientID)
			r.finalizeQuit(head.clientID)
			continue
		}

		r.refillOrDrop(ctx, execQueue, head.clientID)

		if head.msg.Transaction == wire.Dummy || !r.isConnected(head.clientID) {
			continue
		}

		if !r.isAlive() {
			continue
		}

		r.execute(head)
	}
}

// fill ensures execQueue holds one head per connected client, dequeuing
// (possibly blocking) from each client lacking an entry. The registry
// lock is released before any blocking queue read, to avoid holding it
// across an indefinite wait. Returns false if ctx was cancelled mid-fill.
func (r *Replica) fill(ctx context.Context, execQueue map[string]pick) bool {
	r.mu.Lock()
	var need []string
	for id := range r.connected {
		if _, ok := execQueue[id]; !ok {
			need = append(need, id)
		}
	}
	r.mu.Unlock()

	for _, id := range need {
		r.mu.Lock()
		entry, ok := r.clients[id]
		r.mu.Unlock()
		if !ok {
			continue
		}

		select {
		case msg, ok := <-entry.queue:
			if !ok {
				continue // queue closed: client was removed concurrently
			}
			execQueue[id] = pick{rseqno: msg.RSeqno, clientID: id, msg: msg}
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// refillOrDrop replaces the just-picked slot with the client's next
// request, or drops the stale entry if the client's queue no longer
// exists (it was removed concurrently by the connection handler's
// implicit-quit path).
func (r *Replica) refillOrDrop(ctx context.Context, execQueue map[string]pick, clientID string) {
	r.mu.Lock()
	entry, ok := r.clients[clientID]
	r.mu.Unlock()
	if !ok {
		delete(execQueue, clientID)
		return
	}

	select {
	case msg, ok := <-entry.queue:
		if !ok {
			delete(execQueue, clientID)
			return
		}
		execQueue[clientID] = pick{rseqno: msg.RSeqno, clientID: clientID, msg: msg}
	case <-ctx.Done():
	}
}

// finalizeQuit performs the graceful-quit teardown: close the socket,
// destroy the queue, remove the client from the registry.
func (r *Replica) finalizeQuit(clientID string) {
	r.mu.Lock()
	entry, ok := r.clients[clientID]
	r.mu.Unlock()
	if ok {
		entry.conn.Close()
	}
	r.removeClientFully(clientID)
}

// execute runs the stable request against the application state machine
// and sends its output back to the originating client.
func (r *Replica) execute(head pick) {
	r.clk.Tick()
	output := r.db.Apply(head.msg)

	r.mu.Lock()
	entry, ok := r.clients[head.clientID]
	r.mu.Unlock()
	if !ok {
		return
	}

	resp := wire.Message{
		Transaction: head.msg.Transaction,
		RSeqno:      head.rseqno,
		HasRSeqno:   true,
		LClock:      r.clk.Current(),
		HasLClock:   true,
		OutputMsg:   output,
	}
	if err := entry.conn.Send(resp); err != nil {
		r.log.Warnf("failed sending executed output to %s: %v", head.clientID, err)
	}

	r.cfg.Metrics.RequestsExecuted.Inc()
	r.appendTestLog(head.rseqno, output)
}

// argmin returns the execQueue entry with the lowest (rseqno, client_id),
// the stability test's total order.
func argmin(execQueue map[string]pick) pick {
	first := true
	var best pick
	for _, p := range execQueue {
		if first || p.rseqno < best.rseqno || (p.rseqno == best.rseqno && p.clientID < best.clientID) {
			best = p
			first = false
		}
	}
	return best
}
