// Package appdb is the vaccine-site application state machine: a
// deterministic apply(request) -> output function over a
// site-name-keyed map. It is intentionally opaque to the replication
// core (internal/replica) — the core only ever calls Apply.
package appdb

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jonathanchu33/distributed-vaccine-database/internal/wire"
)

// site holds one vaccination site's availability count and ZIP code.
type site struct {
	availability string
	zipCode      string
}

// VaccineDB is the replicated key-value database. The zero value is not
// usable; use New.
type VaccineDB struct {
	mu    sync.RWMutex
	sites map[string]site
}

// New returns a VaccineDB seeded with one starter record.
func New() *VaccineDB {
	return &VaccineDB{
		sites: map[string]site{
			"Harvard University": {availability: "0", zipCode: "02138"},
		},
	}
}

// Apply executes one non-dummy request against the database and returns
// its human-readable output. Apply is deterministic: given the same
// sequence of requests, every replica computes the same outputs.
func (db *VaccineDB) Apply(req wire.Message) string {
	switch req.Transaction {
	case wire.List:
		return db.list()
	case wire.View:
		return db.view(req.SiteName)
	case wire.Edit:
		return db.edit(req.SiteName, req.VaccineNo)
	case wire.New:
		return db.add(req.SiteName, req.ZipCode)
	default:
		// The stability selector (internal/replica) never calls Apply
		// for 'd' (dummy) or 'q' (quit) requests; anything else reaching
		// here is a defect upstream, not a recoverable application error.
		panic(fmt.Sprintf("appdb: Apply called with non-applicable transaction %q", req.Transaction))
	}
}

func (db *VaccineDB) list() string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	names := make([]string, 0, len(db.sites))
	for name := range db.sites {
		names = append(names, name)
	}
	sort.Strings(names)

	var rows []string
	for _, name := range names {
		s := db.sites[name]
		rows = append(rows, s.availability+","+s.zipCode+","+name)
	}

	return "Availability,ZIP Code,Site Name\n" + strings.Join(rows, "\n")
}

func (db *VaccineDB) view(siteName string) string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	s, ok := db.sites[siteName]
	if !ok {
		return "Site does not exist. Choose [l] to view all sites."
	}
	return fmt.Sprintf("Availability at %s (ZIP code %s): %s", siteName, s.zipCode, s.availability)
}

func (db *VaccineDB) edit(siteName, vaccineNo string) string {
	db.mu.Lock()
	defer db.mu.Unlock()

	s, ok := db.sites[siteName]
	if !ok {
		return "Site does not exist. Choose [l] to view all sites."
	}
	s.availability = vaccineNo
	db.sites[siteName] = s
	return fmt.Sprintf("Vaccine availability at %s (ZIP code %s) updated to %s.", siteName, s.zipCode, vaccineNo)
}

func (db *VaccineDB) add(siteName, zipCode string) string {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.sites[siteName]; ok {
		return fmt.Sprintf("%s already in database.", siteName)
	}
	db.sites[siteName] = site{availability: "0", zipCode: zipCode}
	return fmt.Sprintf("%s (ZIP code %s) added with vaccine availability 0.", siteName, zipCode)
}
