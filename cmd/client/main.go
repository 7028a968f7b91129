// Command client connects to one or more replicas and presents the
// interactive vaccine-database menu.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jonathanchu33/distributed-vaccine-database/internal/client"
	"github.com/jonathanchu33/distributed-vaccine-database/internal/logging"
	"github.com/jonathanchu33/distributed-vaccine-database/internal/metrics"
	"github.com/jonathanchu33/distributed-vaccine-database/internal/wire"
)

const metricsPortOffset = 2000

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: client <replica-port> [<replica-port> ...]")
	}

	var addrs []string
	for _, a := range args {
		port, err := strconv.Atoi(a)
		if err != nil {
			return fmt.Errorf("invalid replica port %q: %w", a, err)
		}
		addrs = append(addrs, fmt.Sprintf("localhost:%d", port))
	}

	log := logging.New("client")
	m := metrics.NewClient()
	if firstPort, err := strconv.Atoi(args[0]); err == nil {
		go func() {
			addr := fmt.Sprintf("localhost:%d", firstPort+metricsPortOffset)
			if err := m.Serve(addr); err != nil {
				log.Warnf("metrics endpoint on %s stopped: %v", addr, err)
			}
		}()
	}

	coord, err := client.Connect(addrs, log, m)
	if err != nil {
		return err
	}
	fmt.Printf("Connected to %d servers; application starting.\n\n", len(addrs))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.RunDummyLoop(ctx)

	stdin := bufio.NewReader(os.Stdin)
	for {
		choice, err := chooseAction(stdin)
		if err != nil {
			return err
		}
		if choice == wire.Quit {
			fmt.Println("Exiting client...")
			return coord.Quit()
		}

		msg, err := takeAction(stdin, choice)
		if err != nil {
			return err
		}

		seq, err := coord.Broadcast(msg)
		if err != nil {
			return fmt.Errorf("broadcast failed: %w", err)
		}

		out, err := coord.WaitForOutput(ctx, seq)
		if err != nil {
			return fmt.Errorf("waiting for output: %w", err)
		}
		fmt.Printf("\n%s\n\n", out)
	}
}

var menu = "What would you like to do?\n[l] list all vaccine site details;\n" +
	"[v] view # of available vaccines at a particular site;\n[e] edit" +
	" vaccine availability at a particular site;\n[n] add a new " +
	"vaccine site;\n[q] close the connection and quit.\n"

func chooseAction(stdin *bufio.Reader) (wire.Transaction, error) {
	valid := map[string]wire.Transaction{
		"l": wire.List, "v": wire.View, "e": wire.Edit, "n": wire.New, "q": wire.Quit,
	}
	for {
		fmt.Print(menu)
		line, err := readLine(stdin)
		if err != nil {
			return "", err
		}
		if t, ok := valid[strings.TrimSpace(line)]; ok {
			return t, nil
		}
	}
}

func takeAction(stdin *bufio.Reader, choice wire.Transaction) (wire.Message, error) {
	msg := wire.Message{Transaction: choice}

	switch choice {
	case wire.View, wire.Edit, wire.New:
		fmt.Print("Please enter the vaccine site name: ")
		site, err := readLine(stdin)
		if err != nil {
			return msg, err
		}
		msg.SiteName = strings.TrimSpace(site)
	}

	switch choice {
	case wire.Edit:
		prompt := "Please enter the number of available vaccines at this site " +
			"(or [True/False] for binary availability): "
		for {
			fmt.Print(prompt)
			v, err := readLine(stdin)
			if err != nil {
				return msg, err
			}
			v = strings.TrimSpace(v)
			if isDigits(v) || v == "True" || v == "False" {
				msg.VaccineNo = v
				break
			}
			prompt = "Availability must be a nonnegative integer or [True/False]: "
		}
	case wire.New:
		for {
			fmt.Print("Please enter the ZIP code of the site: ")
			z, err := readLine(stdin)
			if err != nil {
				return msg, err
			}
			z = strings.TrimSpace(z)
			if isDigits(z) {
				msg.ZipCode = z
				break
			}
			fmt.Println("ZIP code must be a nonnegative integer.")
		}
	}

	return msg, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return line, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
