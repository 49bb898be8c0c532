// Package assuan implements the line level of the Assuan protocol as spoken
// by pinentry programs: percent-escaping of request arguments and parsing of
// the server response lines.
//
// Reference: https://gnupg.org/documentation/manuals/assuan/
package assuan

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind discriminates server response lines.
type Kind int

const (
	// OK terminates a successful request, optionally with extra info.
	OK Kind = iota
	// Err terminates a failed request with a gpg error code.
	Err
	// Data is one line of raw, still percent-encoded payload.
	Data
	// Inquire means the server wants more input from the client.
	Inquire
	// Status is an informational "S" line sent while a request runs.
	Status
	// Comment lines are for debugging only and carry no meaning.
	Comment
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "OK"
	case Err:
		return "ERR"
	case Data:
		return "D"
	case Inquire:
		return "INQUIRE"
	case Status:
		return "S"
	case Comment:
		return "#"
	}
	return "unknown"
}

// Response is one parsed server line. Which fields are set depends on Kind.
type Response struct {
	Kind Kind

	// Info is the optional text after OK.
	Info string

	// Code is the full gpg error code from an ERR line. The low 16 bits
	// carry the libgpg-error code proper, the rest name the error source.
	Code        uint32
	Description string

	// Keyword from INQUIRE and S lines, Text their optional remainder.
	// Text also carries comment bodies.
	Keyword string
	Text    string

	// Data is the raw payload of a D line. Escape sequences are still
	// encoded: a logical value spanning several D lines must be
	// concatenated before it is decoded.
	Data []byte
}

var (
	ErrMalformedEscape = errors.New("assuan: malformed percent escape")
	ErrUnknownResponse = errors.New("assuan: unknown response line")
)

const hexdigits = "0123456789ABCDEF"

// EncodeCommand builds one request line. The argument has the bytes that
// would collide with the line framing escaped as %XX; the verb is sent as-is.
// An empty argument means the verb stands alone.
func EncodeCommand(verb, arg string) []byte {
	buf := make([]byte, 0, len(verb)+len(arg)+8)
	buf = append(buf, verb...)
	if arg != "" {
		buf = append(buf, ' ')
		for i := 0; i < len(arg); i++ {
			switch c := arg[i]; c {
			case '%', '\r', '\n', 0x00:
				buf = append(buf, '%', hexdigits[c>>4], hexdigits[c&0xf])
			default:
				buf = append(buf, c)
			}
		}
	}
	// A request line must not end in a bare backslash, the Assuan line
	// continuation marker.
	if len(buf) > 0 && buf[len(buf)-1] == '\\' {
		buf = append(buf[:len(buf)-1], '%', '5', 'C')
	}
	return append(buf, '\n')
}

// DecodeArgument reverses the percent-escaping of an argument or an
// assembled data value. A truncated or non-hex escape fails with
// ErrMalformedEscape; no partial data is returned.
func DecodeArgument(b []byte) ([]byte, error) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c != '%' {
			out = append(out, c)
			continue
		}
		if i+2 >= len(b) {
			return nil, fmt.Errorf("%w: truncated escape at offset %d", ErrMalformedEscape, i)
		}
		hi := unhex(b[i+1])
		lo := unhex(b[i+2])
		if hi < 0 || lo < 0 {
			return nil, fmt.Errorf("%w: %q at offset %d", ErrMalformedEscape, b[i:i+3], i)
		}
		out = append(out, byte(hi<<4|lo))
		i += 2
	}
	return out, nil
}

func unhex(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}

// ParseResponse classifies one server line. The terminator may be LF or
// CRLF and may already have been stripped. A leading keyword outside the
// protocol grammar fails with ErrUnknownResponse, it is never treated as
// success.
func ParseResponse(line []byte) (Response, error) {
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	switch {
	case string(line) == "OK":
		return Response{Kind: OK}, nil
	case bytes.HasPrefix(line, []byte("OK ")):
		return Response{Kind: OK, Info: string(line[3:])}, nil
	case bytes.HasPrefix(line, []byte("ERR ")):
		codestr, desc, _ := strings.Cut(string(line[4:]), " ")
		code, err := strconv.ParseUint(codestr, 10, 32)
		if err != nil {
			return Response{}, fmt.Errorf("%w: bad error code %q", ErrUnknownResponse, codestr)
		}
		return Response{Kind: Err, Code: uint32(code), Description: desc}, nil
	case bytes.HasPrefix(line, []byte("D ")):
		return Response{Kind: Data, Data: append([]byte(nil), line[2:]...)}, nil
	case bytes.HasPrefix(line, []byte("INQUIRE ")):
		keyword, params, _ := strings.Cut(string(line[8:]), " ")
		return Response{Kind: Inquire, Keyword: keyword, Text: params}, nil
	case bytes.HasPrefix(line, []byte("S ")):
		keyword, status, _ := strings.Cut(string(line[2:]), " ")
		return Response{Kind: Status, Keyword: keyword, Text: status}, nil
	case len(line) > 0 && line[0] == '#':
		text := strings.TrimPrefix(string(line[1:]), " ")
		return Response{Kind: Comment, Text: text}, nil
	}
	return Response{}, fmt.Errorf("%w: %q", ErrUnknownResponse, line)
}
