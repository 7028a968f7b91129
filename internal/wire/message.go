// Package wire implements the length-delimited transport and
// tagged-field message codec used between clients and replicas, plus
// the net.Conn transport that carries it.
package wire

// Transaction identifies the kind of a Request/Response on the wire.
type Transaction string

const (
	Init    Transaction = "i" // handshake
	Dummy   Transaction = "d" // dummy tick / drain-unblock ack
	List    Transaction = "l" // list all sites
	View    Transaction = "v" // view one site
	Edit    Transaction = "e" // edit availability
	New     Transaction = "n" // add a new site
	Quit    Transaction = "q" // client quitting
	Ack     Transaction = "k" // per-request ack
	Failure Transaction = "f" // replica failure notice
)

// fieldCode is the single-digit wire tag for each Message field.
type fieldCode string

const (
	codeTransaction fieldCode = "0"
	codeLClock      fieldCode = "1"
	codeRSeqno      fieldCode = "2"
	codeClientID    fieldCode = "3"
	codeSiteName    fieldCode = "4"
	codeVaccineNo   fieldCode = "5"
	codeZipCode     fieldCode = "6"
	codeOutputMsg   fieldCode = "7"
)

// Message is the wire-level request/response/ack/notice shape. Not every
// field is populated on every message; an absent string field is "", and
// an absent LClock/RSeqno has HasLClock/HasRSeqno false.
type Message struct {
	Transaction Transaction
	LClock      uint64
	HasLClock   bool
	RSeqno      uint64
	HasRSeqno   bool
	ClientID    string
	SiteName    string
	VaccineNo   string
	ZipCode     string
	OutputMsg   string
}
