package net

import (
	"bytes"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	jerrors "github.com/juju/errors"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/ast"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/catalog"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/protocol"
)

// runCopy streams a COPY FROM STDIN / COPY TO STDOUT statement, per
// spec.md §6. The row data itself never passes through Dispatch --
// CopyIn/CopyOut are called directly against the DML executor, inside
// the same transaction boundary a stand-alone DML statement would use.
func (c *conn) runCopy(stmt ast.Copy) error {
	if err := c.disp.CheckPermission(stmt, c.sess.User); err != nil {
		return err
	}
	if stmt.Direction == ast.CopyFrom {
		return c.runCopyIn(stmt)
	}
	return c.runCopyOut(stmt)
}

func (c *conn) runCopyIn(stmt ast.Copy) error {
	t, err := c.eng.Catalog.Table(stmt.Table)
	if err != nil {
		return err
	}
	binaryFmt := stmt.Format == ast.CopyBinary
	if err := protocol.WriteCopyInResponse(c.rw.Writer, binaryFmt, len(t.Columns)); err != nil {
		return err
	}
	if err := c.rw.Flush(); err != nil {
		return err
	}

	cols := stmt.Columns
	kinds := columnKinds(t, cols)

	var pending []byte
	var rows [][]basic.Value
	var seenHeader bool
	failed := false

loop:
	for {
		tag, body, err := protocol.ReadFrame(c.rw.Reader)
		if err != nil {
			return jerrors.Trace(err)
		}
		switch tag {
		case protocol.TagCopyData:
			if binaryFmt {
				pending = append(pending, body...)
				if !seenHeader {
					rest, err := protocol.ReadBinaryCopyHeader(pending)
					if err != nil {
						break // wait for more data
					}
					pending = rest
					seenHeader = true
				}
				for {
					values, rest, err := protocol.DecodeBinaryCopyRow(pending, kinds)
					if err == protocol.ErrBinaryCopyDone {
						pending = rest
						break
					}
					if err != nil {
						break
					}
					rows = append(rows, values)
					pending = rest
				}
				continue
			}
			pending = append(pending, body...)
			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				line := strings.TrimRight(string(pending[:i]), "\r")
				pending = pending[i+1:]
				if line == "" {
					continue
				}
				fields, isNull, err := protocol.DecodeCSVRow(line)
				if err != nil {
					failed = true
					break loop
				}
				values, err := decodeCSVValues(t, cols, fields, isNull)
				if err != nil {
					failed = true
					break loop
				}
				rows = append(rows, values)
			}
		case protocol.TagCopyDone:
			break loop
		case protocol.TagCopyFail:
			failed = true
			break loop
		default:
			return jerrors.Errorf("net: unexpected message %c during COPY IN", tag)
		}
	}

	if failed {
		return jerrors.New("net: COPY failed (CopyFail received)")
	}

	txID, snap, standalone := c.sess.BeginStreaming()
	n, err := c.sess.DMLExecutor().CopyIn(stmt.Table, cols, rows, txID, snap)
	if endErr := c.sess.EndStreaming(txID, standalone, err != nil); endErr != nil && err == nil {
		err = endErr
	}
	if err != nil {
		return err
	}
	return protocol.WriteCommandComplete(c.rw.Writer, copyTag(n))
}

func (c *conn) runCopyOut(stmt ast.Copy) error {
	t, err := c.eng.Catalog.Table(stmt.Table)
	if err != nil {
		return err
	}
	binaryFmt := stmt.Format == ast.CopyBinary
	if err := protocol.WriteCopyOutResponse(c.rw.Writer, binaryFmt, len(t.Columns)); err != nil {
		return err
	}

	txID, snap, standalone := c.sess.BeginStreaming()
	rowsOut, err := c.sess.DMLExecutor().CopyOut(stmt.Table, txID, snap)
	if endErr := c.sess.EndStreaming(txID, standalone, err != nil); endErr != nil && err == nil {
		err = endErr
	}
	if err != nil {
		return err
	}

	if binaryFmt {
		var buf bytes.Buffer
		protocol.WriteBinaryCopyHeader(&buf)
		for _, row := range rowsOut {
			if err := protocol.EncodeBinaryCopyRow(&buf, selectCols(row.Values, t, stmt.Columns)); err != nil {
				return err
			}
		}
		protocol.WriteBinaryCopyTrailer(&buf)
		if err := protocol.WriteCopyData(c.rw.Writer, buf.Bytes()); err != nil {
			return err
		}
	} else {
		for _, row := range rowsOut {
			line, err := protocol.EncodeCSVRow(selectCols(row.Values, t, stmt.Columns))
			if err != nil {
				return err
			}
			if err := protocol.WriteCopyData(c.rw.Writer, append([]byte(line), '\n')); err != nil {
				return err
			}
		}
	}
	if err := protocol.WriteCopyDone(c.rw.Writer); err != nil {
		return err
	}
	return protocol.WriteCommandComplete(c.rw.Writer, copyTag(len(rowsOut)))
}

func copyTag(n int) string {
	return "COPY " + strconv.Itoa(n)
}

// columnKinds resolves the basic.Kind of each column COPY will decode,
// in cols order (all table columns, declared order, when cols is empty).
func columnKinds(t *catalog.Table, cols []string) []basic.Kind {
	names := cols
	if len(names) == 0 {
		names = make([]string, len(t.Columns))
		for i, col := range t.Columns {
			names[i] = col.Name
		}
	}
	kinds := make([]basic.Kind, len(names))
	for i, name := range names {
		col, _, ok := t.ColumnByName(name)
		if !ok {
			continue
		}
		kinds[i] = columnTypeKind(col.Type)
	}
	return kinds
}

func columnTypeKind(ct catalog.ColumnType) basic.Kind {
	switch ct {
	case catalog.TypeNumeric:
		return basic.KindNumeric
	case catalog.TypeString:
		return basic.KindString
	case catalog.TypeTemporal:
		return basic.KindTemporal
	case catalog.TypeBool:
		return basic.KindBool
	case catalog.TypeUUID:
		return basic.KindUUID
	case catalog.TypeJSON:
		return basic.KindJSON
	case catalog.TypeBytea:
		return basic.KindBytea
	case catalog.TypeEnum:
		return basic.KindEnum
	default:
		return basic.KindString
	}
}

// decodeCSVValues types each raw CSV field against its column's kind
// via basic's text constructors; full constraint validation (length,
// NOT NULL, uniqueness) happens later in dml.CopyIn's validateRow pass.
func decodeCSVValues(t *catalog.Table, cols []string, fields []string, isNull []bool) ([]basic.Value, error) {
	names := cols
	if len(names) == 0 {
		names = make([]string, len(t.Columns))
		for i, col := range t.Columns {
			names[i] = col.Name
		}
	}
	if len(fields) != len(names) {
		return nil, jerrors.Errorf("net: COPY row has %d fields, expected %d", len(fields), len(names))
	}
	values := make([]basic.Value, len(fields))
	for i, name := range names {
		if isNull[i] {
			values[i] = basic.Null()
			continue
		}
		col, _, ok := t.ColumnByName(name)
		if !ok {
			return nil, jerrors.Errorf("net: unknown column %q", name)
		}
		v, err := parseTextValue(fields[i], columnTypeKind(col.Type), col.EnumType)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

func selectCols(values []basic.Value, t *catalog.Table, cols []string) []basic.Value {
	if len(cols) == 0 {
		return values
	}
	out := make([]basic.Value, len(cols))
	for i, name := range cols {
		_, ord, ok := t.ColumnByName(name)
		if ok {
			out[i] = values[ord]
		}
	}
	return out
}

// parseTextValue types one COPY CSV field against its column's kind,
// the text-format counterpart to protocol's binary field decoders.
func parseTextValue(field string, kind basic.Kind, enumType string) (basic.Value, error) {
	switch kind {
	case basic.KindNumeric:
		d, err := decimal.NewFromString(field)
		if err != nil {
			return basic.Value{}, errors.Wrapf(basic.ErrTypeViolation, "%q is not numeric", field)
		}
		return basic.NumericV(d), nil
	case basic.KindString:
		return basic.StringV(field), nil
	case basic.KindEnum:
		return basic.EnumV(enumType, field), nil
	case basic.KindBool:
		switch field {
		case "t", "true", "1":
			return basic.BoolV(true), nil
		case "f", "false", "0":
			return basic.BoolV(false), nil
		default:
			return basic.Value{}, errors.Wrapf(basic.ErrTypeViolation, "%q is not a bool", field)
		}
	case basic.KindUUID:
		u, err := uuid.Parse(field)
		if err != nil {
			return basic.Value{}, errors.Wrapf(basic.ErrTypeViolation, "%q is not a uuid", field)
		}
		return basic.UUIDV(u), nil
	case basic.KindJSON:
		return basic.JSONV(field), nil
	case basic.KindBytea:
		s := strings.TrimPrefix(field, "\\x")
		b, err := hex.DecodeString(s)
		if err != nil {
			return basic.Value{}, errors.Wrapf(basic.ErrTypeViolation, "%q is not hex bytea", field)
		}
		return basic.ByteaV(b), nil
	case basic.KindTemporal:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if tm, err := time.Parse(layout, field); err == nil {
				return basic.TemporalV(tm), nil
			}
		}
		return basic.Value{}, errors.Wrapf(basic.ErrTypeViolation, "%q is not a recognized timestamp", field)
	default:
		return basic.StringV(field), nil
	}
}
