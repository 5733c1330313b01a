// Package protocol implements the PostgreSQL v3.0 wire codec spec.md
// §6 fixes: length-prefixed message framing, the startup/auth
// handshake, the simple and extended query sub-protocols, and the
// COPY CSV/binary framing. It has no knowledge of the SQL parser or
// the storage engine -- it only frames and unframes bytes; the
// session/dispatcher packages decide what a frame means.
package protocol

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Frontend message type bytes (client -> server), spec.md §6.
const (
	TagQuery       byte = 'Q'
	TagParse       byte = 'P'
	TagBind        byte = 'B'
	TagDescribe    byte = 'D'
	TagExecute     byte = 'E'
	TagClose       byte = 'C'
	TagSync        byte = 'S'
	TagTerminate   byte = 'X'
	TagPassword    byte = 'p'
	TagCopyData    byte = 'd'
	TagCopyDone    byte = 'c'
	TagCopyFail    byte = 'f'
	TagFlush       byte = 'H'
)

// Backend message type bytes (server -> client).
const (
	TagAuthentication    byte = 'R'
	TagParameterStatus   byte = 'S'
	TagBackendKeyData    byte = 'K'
	TagReadyForQuery     byte = 'Z'
	TagRowDescription    byte = 'T'
	TagDataRow           byte = 'D'
	TagCommandComplete   byte = 'C'
	TagEmptyQueryResp    byte = 'I'
	TagErrorResponse     byte = 'E'
	TagNoticeResponse    byte = 'N'
	TagParseComplete     byte = '1'
	TagBindComplete      byte = '2'
	TagCloseComplete     byte = '3'
	TagParameterDesc     byte = 't'
	TagNoData            byte = 'n'
	TagPortalSuspended   byte = 's'
	TagCopyInResponse    byte = 'G'
	TagCopyOutResponse   byte = 'H'
	TagCopyBothResponse  byte = 'W'
)

// Authentication request sub-codes carried in an 'R' message's first
// int32, per spec.md §6's startup sequence.
const (
	AuthOK                int32 = 0
	AuthCleartextPassword int32 = 3
)

// StartupMessage is the untagged message opening every connection:
// a protocol version word followed by null-terminated key/value pairs,
// terminated by an empty key.
type StartupMessage struct {
	ProtocolVersion int32
	Params          map[string]string
}

// sslRequestCode and cancelRequestCode are the two untagged pseudo-
// startup codes a client may send before a real StartupMessage; the
// front-end responds 'N' (SSL refused) to the first and rejects the
// second with an error.
const (
	sslRequestCode    int32 = 80877103
	cancelRequestCode int32 = 80877102
)

// ReadStartup reads the untagged length+body startup packet and parses
// it into a StartupMessage. Each SSLRequest is answered with 'N' and
// the next packet is read, per the standard protocol negotiation.
func ReadStartup(rw *bufio.ReadWriter) (*StartupMessage, error) {
	for {
		var length int32
		if err := binary.Read(rw, binary.BigEndian, &length); err != nil {
			return nil, errors.Wrap(err, "protocol: reading startup length")
		}
		body := make([]byte, length-4)
		if _, err := io.ReadFull(rw, body); err != nil {
			return nil, errors.Wrap(err, "protocol: reading startup body")
		}
		code := int32(binary.BigEndian.Uint32(body[:4]))
		if code == sslRequestCode {
			if _, err := rw.Write([]byte{'N'}); err != nil {
				return nil, err
			}
			if err := rw.Flush(); err != nil {
				return nil, err
			}
			continue
		}
		if code == cancelRequestCode {
			return nil, errors.New("protocol: cancel request is not supported")
		}
		return parseStartupBody(code, body[4:]), nil
	}
}

func parseStartupBody(version int32, rest []byte) *StartupMessage {
	msg := &StartupMessage{ProtocolVersion: version, Params: make(map[string]string)}
	parts := splitCStrings(rest)
	for i := 0; i+1 < len(parts); i += 2 {
		if parts[i] == "" {
			break
		}
		msg.Params[parts[i]] = parts[i+1]
	}
	return msg
}

func splitCStrings(b []byte) []string {
	var out []string
	start := 0
	for i, c := range b {
		if c == 0 {
			out = append(out, string(b[start:i]))
			start = i + 1
		}
	}
	return out
}

// ReadFrame reads one tagged, length-prefixed message: a 1-byte tag,
// a big-endian int32 length (including itself but not the tag), and
// the remaining body.
func ReadFrame(r *bufio.Reader) (tag byte, body []byte, err error) {
	tag, err = r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	var length int32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return 0, nil, errors.Wrap(err, "protocol: reading frame length")
	}
	if length < 4 {
		return 0, nil, errors.Errorf("protocol: invalid frame length %d", length)
	}
	body = make([]byte, length-4)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, errors.Wrap(err, "protocol: reading frame body")
	}
	return tag, body, nil
}

// WriteFrame writes one tagged, length-prefixed message.
func WriteFrame(w *bufio.Writer, tag byte, body []byte) error {
	if err := w.WriteByte(tag); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)+4))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	return nil
}

// cstring appends s followed by a NUL terminator.
func cstring(buf []byte, s string) []byte {
	buf = append(buf, s...)
	return append(buf, 0)
}

func putInt32(buf []byte, v int32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return append(buf, b[:]...)
}

func putInt16(buf []byte, v int16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	return append(buf, b[:]...)
}
