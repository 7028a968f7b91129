// Command servers launches N state-machine replicas, each listening on
// its own port, and drives simulated-failure injection from stdin.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/jonathanchu33/distributed-vaccine-database/internal/logging"
	"github.com/jonathanchu33/distributed-vaccine-database/internal/metrics"
	"github.com/jonathanchu33/distributed-vaccine-database/internal/replica"
)

// basePort is the first replica's listen port; replica i listens on
// basePort+i.
const basePort = 8892

// metricsPortOffset separates each replica's Prometheus endpoint from
// its client-facing listener.
const metricsPortOffset = 1000

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: servers <replica-count> [TEST]")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return fmt.Errorf("replica-count must be a positive integer, got %q", args[0])
	}
	testMode := len(args) >= 2 && args[1] == "TEST"

	log := logging.New("servers")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("shutdown signal received")
		cancel()
	}()

	replicas := make([]*replica.Replica, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		port := basePort + i
		m := metrics.NewReplica()
		r := replica.New(replica.Config{
			Addr:     fmt.Sprintf("localhost:%d", port),
			TestMode: testMode,
			Port:     port,
			Logger:   log.With("replica", i),
			Metrics:  m,
		})
		replicas[i] = r

		wg.Add(1)
		go func(r *replica.Replica, port int) {
			defer wg.Done()
			if err := r.Serve(ctx); err != nil {
				log.Errorf("replica on port %d exited: %v", port, err)
			}
		}(r, port)

		mAddr := fmt.Sprintf("localhost:%d", port+metricsPortOffset)
		go func(addr string, m *metrics.Replica) {
			if err := m.Serve(addr); err != nil {
				log.Warnf("metrics endpoint on %s stopped: %v", addr, err)
			}
		}(mAddr, m)
	}

	log.Infof("%d replicas started; type a replica index (0-%d) and press enter to simulate its failure", n, n-1)
	go injectFailures(ctx, log, replicas)

	wg.Wait()
	return nil
}

// injectFailures reads newline-delimited replica indices from stdin and
// fails the named replica, refusing once N-1 of them have already
// failed — beyond that point the replica set can no longer make
// progress.
func injectFailures(ctx context.Context, log logging.Logger, replicas []*replica.Replica) {
	scanner := bufio.NewScanner(os.Stdin)
	failed := 0
	maxFailures := len(replicas) - 1

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		idx, err := strconv.Atoi(line)
		if err != nil || idx < 0 || idx >= len(replicas) {
			log.Warnf("invalid replica index %q", line)
			continue
		}
		if failed >= maxFailures {
			log.Warnf("refusing to fail replica %d: already at %d/%d simulated failures", idx, failed, maxFailures)
			continue
		}
		if replicas[idx].Fail() {
			failed++
			log.Infof("replica %d marked failed (%d/%d)", idx, failed, maxFailures)
		} else {
			log.Warnf("replica %d was already failed", idx)
		}
	}
}
