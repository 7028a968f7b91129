package wire

import "errors"

var (
	// ErrTransportClosed is returned by Conn.Send/Receive when the
	// underlying connection has been closed or the peer is gone. A
	// client treats this as a missing failure notice (demote the
	// replica); a replica treats it as an implicit quit.
	ErrTransportClosed = errors.New("wire: transport closed")

	// ErrProtocol marks a malformed or unknown message on the wire:
	// an unrecognized transaction code, a non-decimal rseqno/lclock or
	// length prefix, or a stray backtick inside a field value. A frame cut
	// short by the connection closing is ErrTransportClosed instead.
	ErrProtocol = errors.New("wire: protocol error")
)
