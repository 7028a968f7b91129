package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// encode renders a Message as a backtick-delimited `key_code:value`
// token stream. Field order is fixed so the encoding is deterministic,
// which keeps test fixtures and log lines reproducible.
func encode(m Message) ([]byte, error) {
	var b strings.Builder

	write := func(code fieldCode, value string) error {
		if strings.Contains(value, "`") {
			return fmt.Errorf("%w: field %s contains a backtick", ErrProtocol, code)
		}
		b.WriteString(string(code))
		b.WriteByte(':')
		b.WriteString(value)
		b.WriteByte('`')
		return nil
	}

	if err := write(codeTransaction, string(m.Transaction)); err != nil {
		return nil, err
	}
	if m.HasLClock {
		if err := write(codeLClock, strconv.FormatUint(m.LClock, 10)); err != nil {
			return nil, err
		}
	}
	if m.HasRSeqno {
		if err := write(codeRSeqno, strconv.FormatUint(m.RSeqno, 10)); err != nil {
			return nil, err
		}
	}
	if m.ClientID != "" {
		if err := write(codeClientID, m.ClientID); err != nil {
			return nil, err
		}
	}
	if m.SiteName != "" {
		if err := write(codeSiteName, m.SiteName); err != nil {
			return nil, err
		}
	}
	if m.VaccineNo != "" {
		if err := write(codeVaccineNo, m.VaccineNo); err != nil {
			return nil, err
		}
	}
	if m.ZipCode != "" {
		if err := write(codeZipCode, m.ZipCode); err != nil {
			return nil, err
		}
	}
	if m.OutputMsg != "" {
		if err := write(codeOutputMsg, m.OutputMsg); err != nil {
			return nil, err
		}
	}

	return []byte(b.String()), nil
}

// decode parses the backtick-delimited token stream back into a Message.
// Unknown transaction codes or non-decimal rseqno/lclock values are
// reported as protocol errors.
func decode(payload []byte) (Message, error) {
	var m Message
	s := string(payload)

	for len(s) > 0 {
		idx := strings.IndexByte(s, '`')
		if idx < 0 {
			return Message{}, fmt.Errorf("%w: unterminated field", ErrProtocol)
		}
		token := s[:idx]
		s = s[idx+1:]

		sep := strings.IndexByte(token, ':')
		if sep < 0 {
			return Message{}, fmt.Errorf("%w: malformed token %q", ErrProtocol, token)
		}
		code := fieldCode(token[:sep])
		value := token[sep+1:]

		switch code {
		case codeTransaction:
			t := Transaction(value)
			switch t {
			case Init, Dummy, List, View, Edit, New, Quit, Ack, Failure:
				m.Transaction = t
			default:
				return Message{}, fmt.Errorf("%w: unknown transaction %q", ErrProtocol, value)
			}
		case codeLClock:
			v, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return Message{}, fmt.Errorf("%w: bad lclock %q", ErrProtocol, value)
			}
			m.LClock = v
			m.HasLClock = true
		case codeRSeqno:
			v, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return Message{}, fmt.Errorf("%w: bad rseqno %q", ErrProtocol, value)
			}
			m.RSeqno = v
			m.HasRSeqno = true
		case codeClientID:
			m.ClientID = value
		case codeSiteName:
			m.SiteName = value
		case codeVaccineNo:
			m.VaccineNo = value
		case codeZipCode:
			m.ZipCode = value
		case codeOutputMsg:
			m.OutputMsg = value
		default:
			return Message{}, fmt.Errorf("%w: unknown field code %q", ErrProtocol, code)
		}
	}

	if m.Transaction == "" {
		return Message{}, fmt.Errorf("%w: missing transaction field", ErrProtocol)
	}

	return m, nil
}
