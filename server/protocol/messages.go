package protocol

import (
	"bufio"
	"encoding/binary"

	"github.com/pkg/errors"
)

// --- Auth / startup replies --------------------------------------------------

func WriteAuthCleartextPassword(w *bufio.Writer) error {
	body := putInt32(nil, AuthCleartextPassword)
	return WriteFrame(w, TagAuthentication, body)
}

func WriteAuthOK(w *bufio.Writer) error {
	body := putInt32(nil, AuthOK)
	return WriteFrame(w, TagAuthentication, body)
}

func WriteParameterStatus(w *bufio.Writer, name, value string) error {
	var body []byte
	body = cstring(body, name)
	body = cstring(body, value)
	return WriteFrame(w, TagParameterStatus, body)
}

func WriteBackendKeyData(w *bufio.Writer, pid, secret int32) error {
	body := putInt32(nil, pid)
	body = putInt32(body, secret)
	return WriteFrame(w, TagBackendKeyData, body)
}

// WriteReadyForQuery sends the transaction-status byte spec.md §6
// names: 'I' idle, 'T' in transaction, 'E' in failed transaction.
func WriteReadyForQuery(w *bufio.Writer, status byte) error {
	return WriteFrame(w, TagReadyForQuery, []byte{status})
}

// ReadPassword parses a PasswordMessage body into the cleartext string.
func ReadPassword(body []byte) string {
	if n := len(body); n > 0 && body[n-1] == 0 {
		body = body[:n-1]
	}
	return string(body)
}

// --- Query results ------------------------------------------------------------

// Field describes one RowDescription column.
type Field struct {
	Name         string
	TableOID     int32
	ColumnAttNum int16
	TypeOID      int32
	TypeSize     int16
	TypeMod      int32
	// FormatCode 0 = text, 1 = binary.
	FormatCode int16
}

func WriteRowDescription(w *bufio.Writer, fields []Field) error {
	var body []byte
	body = putInt16(body, int16(len(fields)))
	for _, f := range fields {
		body = cstring(body, f.Name)
		body = putInt32(body, f.TableOID)
		body = putInt16(body, f.ColumnAttNum)
		body = putInt32(body, f.TypeOID)
		body = putInt16(body, f.TypeSize)
		body = putInt32(body, f.TypeMod)
		body = putInt16(body, f.FormatCode)
	}
	return WriteFrame(w, TagRowDescription, body)
}

func WriteNoData(w *bufio.Writer) error {
	return WriteFrame(w, TagNoData, nil)
}

// WriteDataRow writes one result row. A nil element encodes SQL NULL
// (length -1); every other element is sent in text format.
func WriteDataRow(w *bufio.Writer, values [][]byte) error {
	var body []byte
	body = putInt16(body, int16(len(values)))
	for _, v := range values {
		if v == nil {
			body = putInt32(body, -1)
			continue
		}
		body = putInt32(body, int32(len(v)))
		body = append(body, v...)
	}
	return WriteFrame(w, TagDataRow, body)
}

func WriteCommandComplete(w *bufio.Writer, tag string) error {
	var body []byte
	body = cstring(body, tag)
	return WriteFrame(w, TagCommandComplete, body)
}

func WriteEmptyQueryResponse(w *bufio.Writer) error {
	return WriteFrame(w, TagEmptyQueryResp, nil)
}

// ErrorInfo is the subset of PostgreSQL's ErrorResponse fields spec.md
// §7 requires: severity and a SQLSTATE code alongside the message.
type ErrorInfo struct {
	Severity string // ERROR, FATAL, PANIC
	Code     string // SQLSTATE
	Message  string
}

const (
	fieldSeverity = 'S'
	fieldCode     = 'C'
	fieldMessage  = 'M'
)

func WriteErrorResponse(w *bufio.Writer, e ErrorInfo) error {
	var body []byte
	body = append(body, fieldSeverity)
	body = cstring(body, e.Severity)
	body = append(body, fieldCode)
	body = cstring(body, e.Code)
	body = append(body, fieldMessage)
	body = cstring(body, e.Message)
	body = append(body, 0) // terminator
	return WriteFrame(w, TagErrorResponse, body)
}

// --- Extended query protocol --------------------------------------------------

// ParseMessage is a client Parse request.
type ParseMessage struct {
	StatementName string
	Query         string
	ParamOIDs     []int32
}

func ParseParseMessage(body []byte) (ParseMessage, error) {
	name, rest, err := readCString(body)
	if err != nil {
		return ParseMessage{}, err
	}
	query, rest, err := readCString(rest)
	if err != nil {
		return ParseMessage{}, err
	}
	if len(rest) < 2 {
		return ParseMessage{}, errors.New("protocol: truncated Parse message")
	}
	n := binary.BigEndian.Uint16(rest[:2])
	rest = rest[2:]
	oids := make([]int32, 0, n)
	for i := 0; i < int(n); i++ {
		if len(rest) < 4 {
			return ParseMessage{}, errors.New("protocol: truncated Parse param OIDs")
		}
		oids = append(oids, int32(binary.BigEndian.Uint32(rest[:4])))
		rest = rest[4:]
	}
	return ParseMessage{StatementName: name, Query: query, ParamOIDs: oids}, nil
}

func WriteParseComplete(w *bufio.Writer) error { return WriteFrame(w, TagParseComplete, nil) }

// BindMessage is a client Bind request.
type BindMessage struct {
	PortalName    string
	StatementName string
	ParamFormats  []int16
	ParamValues   [][]byte // nil element = SQL NULL
	ResultFormats []int16
}

func ParseBindMessage(body []byte) (BindMessage, error) {
	portal, rest, err := readCString(body)
	if err != nil {
		return BindMessage{}, err
	}
	stmt, rest, err := readCString(rest)
	if err != nil {
		return BindMessage{}, err
	}
	formats, rest, err := readInt16Array(rest)
	if err != nil {
		return BindMessage{}, err
	}
	if len(rest) < 2 {
		return BindMessage{}, errors.New("protocol: truncated Bind param count")
	}
	nParams := int(binary.BigEndian.Uint16(rest[:2]))
	rest = rest[2:]
	values := make([][]byte, 0, nParams)
	for i := 0; i < nParams; i++ {
		if len(rest) < 4 {
			return BindMessage{}, errors.New("protocol: truncated Bind param value")
		}
		n := int32(binary.BigEndian.Uint32(rest[:4]))
		rest = rest[4:]
		if n < 0 {
			values = append(values, nil)
			continue
		}
		if len(rest) < int(n) {
			return BindMessage{}, errors.New("protocol: truncated Bind param bytes")
		}
		values = append(values, rest[:n])
		rest = rest[n:]
	}
	resultFormats, _, err := readInt16Array(rest)
	if err != nil {
		return BindMessage{}, err
	}
	return BindMessage{
		PortalName: portal, StatementName: stmt,
		ParamFormats: formats, ParamValues: values, ResultFormats: resultFormats,
	}, nil
}

func WriteBindComplete(w *bufio.Writer) error { return WriteFrame(w, TagBindComplete, nil) }

// DescribeMessage names a statement ('S') or portal ('P') to describe.
type DescribeMessage struct {
	Kind byte
	Name string
}

func ParseDescribeMessage(body []byte) (DescribeMessage, error) {
	if len(body) < 1 {
		return DescribeMessage{}, errors.New("protocol: empty Describe message")
	}
	name, _, err := readCString(body[1:])
	if err != nil {
		return DescribeMessage{}, err
	}
	return DescribeMessage{Kind: body[0], Name: name}, nil
}

// ExecuteMessage names a portal to execute and the row limit (0 = unlimited).
type ExecuteMessage struct {
	PortalName string
	MaxRows    int32
}

func ParseExecuteMessage(body []byte) (ExecuteMessage, error) {
	name, rest, err := readCString(body)
	if err != nil {
		return ExecuteMessage{}, err
	}
	if len(rest) < 4 {
		return ExecuteMessage{}, errors.New("protocol: truncated Execute message")
	}
	max := int32(binary.BigEndian.Uint32(rest[:4]))
	return ExecuteMessage{PortalName: name, MaxRows: max}, nil
}

func WritePortalSuspended(w *bufio.Writer) error { return WriteFrame(w, TagPortalSuspended, nil) }

// CloseMessage names a statement ('S') or portal ('P') to close.
type CloseMessage struct {
	Kind byte
	Name string
}

func ParseCloseMessage(body []byte) (CloseMessage, error) {
	if len(body) < 1 {
		return CloseMessage{}, errors.New("protocol: empty Close message")
	}
	name, _, err := readCString(body[1:])
	if err != nil {
		return CloseMessage{}, err
	}
	return CloseMessage{Kind: body[0], Name: name}, nil
}

func WriteCloseComplete(w *bufio.Writer) error { return WriteFrame(w, TagCloseComplete, nil) }

func WriteParameterDescription(w *bufio.Writer, oids []int32) error {
	body := putInt16(nil, int16(len(oids)))
	for _, o := range oids {
		body = putInt32(body, o)
	}
	return WriteFrame(w, TagParameterDesc, body)
}

// --- COPY protocol control messages -------------------------------------------

func WriteCopyInResponse(w *bufio.Writer, binaryFmt bool, nCols int) error {
	return writeCopyResponse(w, TagCopyInResponse, binaryFmt, nCols)
}

func WriteCopyOutResponse(w *bufio.Writer, binaryFmt bool, nCols int) error {
	return writeCopyResponse(w, TagCopyOutResponse, binaryFmt, nCols)
}

func writeCopyResponse(w *bufio.Writer, tag byte, binaryFmt bool, nCols int) error {
	var body []byte
	fmtByte := byte(0)
	if binaryFmt {
		fmtByte = 1
	}
	body = append(body, fmtByte)
	body = putInt16(body, int16(nCols))
	for i := 0; i < nCols; i++ {
		code := int16(0)
		if binaryFmt {
			code = 1
		}
		body = putInt16(body, code)
	}
	return WriteFrame(w, tag, body)
}

func WriteCopyData(w *bufio.Writer, data []byte) error {
	return WriteFrame(w, TagCopyData, data)
}

func WriteCopyDone(w *bufio.Writer) error { return WriteFrame(w, TagCopyDone, nil) }

// --- shared parse helpers ------------------------------------------------------

func readCString(b []byte) (string, []byte, error) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), b[i+1:], nil
		}
	}
	return "", nil, errors.New("protocol: unterminated string")
}

func readInt16Array(b []byte) ([]int16, []byte, error) {
	if len(b) < 2 {
		return nil, nil, errors.New("protocol: truncated int16 array count")
	}
	n := int(binary.BigEndian.Uint16(b[:2]))
	b = b[2:]
	out := make([]int16, 0, n)
	for i := 0; i < n; i++ {
		if len(b) < 2 {
			return nil, nil, errors.New("protocol: truncated int16 array element")
		}
		out = append(out, int16(binary.BigEndian.Uint16(b[:2])))
		b = b[2:]
	}
	return out, b, nil
}
