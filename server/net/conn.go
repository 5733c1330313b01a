package net

import (
	"bufio"
	"net"
	"strings"

	log "github.com/AlexStocks/log4go"
	jerrors "github.com/juju/errors"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/ast"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/conf"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/dispatcher"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/engine"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/protocol"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/session"
)

// conn drives one client connection's startup handshake and message
// loop, per spec.md §6.
type conn struct {
	nc   net.Conn
	cfg  *conf.Cfg
	eng  *engine.Engine
	disp *dispatcher.Dispatcher

	rw   *bufio.ReadWriter
	sess *session.Session
}

func newConn(nc net.Conn, cfg *conf.Cfg, eng *engine.Engine, disp *dispatcher.Dispatcher) *conn {
	return &conn{
		nc:   nc,
		cfg:  cfg,
		eng:  eng,
		disp: disp,
		rw:   bufio.NewReadWriter(bufio.NewReader(nc), bufio.NewWriter(nc)),
	}
}

func (c *conn) serve() {
	defer c.nc.Close()

	if err := c.handshake(); err != nil {
		log.Warn("conn{%s} handshake failed: %+v", c.nc.RemoteAddr(), jerrors.ErrorStack(err))
		return
	}

	if err := protocol.WriteReadyForQuery(c.rw.Writer, byte(c.sess.Status())); err != nil {
		return
	}
	if err := c.rw.Flush(); err != nil {
		return
	}

	for {
		tag, body, err := protocol.ReadFrame(c.rw.Reader)
		if err != nil {
			log.Debug("conn{%s} closing: %+v", c.nc.RemoteAddr(), err)
			return
		}
		if tag == protocol.TagTerminate {
			return
		}
		if err := c.dispatchFrame(tag, body); err != nil {
			log.Warn("conn{%s} frame %c failed: %+v", c.nc.RemoteAddr(), tag, err)
			return
		}
	}
}

// handshake runs the startup packet, optional cleartext auth, and
// seeds the connection's Session, per spec.md §6.
func (c *conn) handshake() error {
	startup, err := protocol.ReadStartup(c.rw)
	if err != nil {
		return jerrors.Trace(err)
	}

	user := startup.Params["user"]
	database := startup.Params["database"]
	if database == "" {
		database = c.cfg.Database
	}

	if c.cfg.Password != "" {
		if err := protocol.WriteAuthCleartextPassword(c.rw.Writer); err != nil {
			return err
		}
		if err := c.rw.Flush(); err != nil {
			return err
		}
		tag, body, err := protocol.ReadFrame(c.rw.Reader)
		if err != nil {
			return jerrors.Trace(err)
		}
		if tag != protocol.TagPassword || protocol.ReadPassword(body) != c.cfg.Password {
			errInfo := protocol.ErrorInfo{Severity: "FATAL", Code: protocol.SQLStateInsufficientPriv, Message: "password authentication failed"}
			protocol.WriteErrorResponse(c.rw.Writer, errInfo)
			c.rw.Flush()
			return jerrors.New("password authentication failed")
		}
	}

	if err := protocol.WriteAuthOK(c.rw.Writer); err != nil {
		return err
	}
	if err := protocol.WriteParameterStatus(c.rw.Writer, "server_version", "14.0 (postgrust-sql)"); err != nil {
		return err
	}
	if err := protocol.WriteParameterStatus(c.rw.Writer, "client_encoding", "UTF8"); err != nil {
		return err
	}
	if err := protocol.WriteBackendKeyData(c.rw.Writer, 0, 0); err != nil {
		return err
	}

	c.sess = session.New(c.eng, c.disp, user, database)
	return nil
}

func (c *conn) dispatchFrame(tag byte, body []byte) error {
	switch tag {
	case protocol.TagQuery:
		return c.handleSimpleQuery(body)
	case protocol.TagParse:
		return c.handleParse(body)
	case protocol.TagBind:
		return c.handleBind(body)
	case protocol.TagDescribe:
		return c.handleDescribe(body)
	case protocol.TagExecute:
		return c.handleExecute(body)
	case protocol.TagClose:
		return c.handleClose(body)
	case protocol.TagSync:
		return c.handleSync()
	case protocol.TagFlush:
		return c.rw.Flush()
	default:
		errInfo := protocol.ErrorInfo{Severity: "ERROR", Code: protocol.SQLStateProtocolViolation, Message: "unrecognized message"}
		protocol.WriteErrorResponse(c.rw.Writer, errInfo)
		return c.rw.Flush()
	}
}

// handleSimpleQuery runs the gob-encoded statement tree carried in the
// 'Q' message body (the out-of-scope parser's handoff format, see
// server/protocol/stmt.go) and sends its result followed by
// ReadyForQuery, per spec.md §6's simple query protocol.
func (c *conn) handleSimpleQuery(body []byte) error {
	text := strings.TrimRight(string(body), "\x00")
	if text == "" {
		if err := protocol.WriteEmptyQueryResponse(c.rw.Writer); err != nil {
			return err
		}
		return c.finishQuery()
	}

	stmt, err := protocol.DecodeStmt(text)
	if err != nil {
		c.writeError(err)
		return c.finishQuery()
	}

	if copyStmt, ok := stmt.(ast.Copy); ok {
		if err := c.runCopy(copyStmt); err != nil {
			c.writeError(err)
		}
		return c.finishQuery()
	}

	res, err := c.sess.Execute(stmt)
	if err != nil {
		c.writeError(err)
		return c.finishQuery()
	}
	if err := c.writeResult(res); err != nil {
		return err
	}
	return c.finishQuery()
}

func (c *conn) finishQuery() error {
	if err := protocol.WriteReadyForQuery(c.rw.Writer, byte(c.sess.Status())); err != nil {
		return err
	}
	return c.rw.Flush()
}

func (c *conn) writeResult(res dispatcher.Result) error {
	if res.Rows == nil {
		return protocol.WriteCommandComplete(c.rw.Writer, res.Tag)
	}
	fields := make([]protocol.Field, len(res.Rows.Columns))
	for i, name := range res.Rows.Columns {
		fields[i] = protocol.Field{Name: name, TypeOID: protocol.OIDText, TypeSize: -1, FormatCode: 0}
	}
	if err := protocol.WriteRowDescription(c.rw.Writer, fields); err != nil {
		return err
	}
	for _, row := range res.Rows.Rows {
		values := make([][]byte, len(row))
		for i, v := range row {
			values[i] = protocol.EncodeText(v)
		}
		if err := protocol.WriteDataRow(c.rw.Writer, values); err != nil {
			return err
		}
	}
	return protocol.WriteCommandComplete(c.rw.Writer, res.Tag)
}

func (c *conn) writeError(err error) {
	info := protocol.ErrorInfo{
		Severity: "ERROR",
		Code:     protocol.SQLStateFor(err),
		Message:  err.Error(),
	}
	protocol.WriteErrorResponse(c.rw.Writer, info)
}

// --- Extended query protocol (Parse/Bind/Describe/Execute/Close/Sync) -------

func (c *conn) handleParse(body []byte) error {
	msg, err := protocol.ParseParseMessage(body)
	if err != nil {
		c.writeError(err)
		return nil
	}
	stmt, err := protocol.DecodeStmt(msg.Query)
	if err != nil {
		c.writeError(err)
		return nil
	}
	c.sess.Prepare(msg.StatementName, stmt, nil)
	return protocol.WriteParseComplete(c.rw.Writer)
}

func (c *conn) handleBind(body []byte) error {
	msg, err := protocol.ParseBindMessage(body)
	if err != nil {
		c.writeError(err)
		return nil
	}
	params := make([]basic.Value, len(msg.ParamValues))
	for i, raw := range msg.ParamValues {
		if raw == nil {
			params[i] = basic.Null()
		} else {
			params[i] = basic.StringV(string(raw))
		}
	}
	if err := c.sess.Bind(msg.PortalName, msg.StatementName, params); err != nil {
		c.writeError(err)
		return nil
	}
	return protocol.WriteBindComplete(c.rw.Writer)
}

func (c *conn) handleDescribe(body []byte) error {
	msg, err := protocol.ParseDescribeMessage(body)
	if err != nil {
		c.writeError(err)
		return nil
	}
	if msg.Kind == 'S' {
		if _, ok := c.sess.Statement(msg.Name); !ok {
			return protocol.WriteNoData(c.rw.Writer)
		}
		return protocol.WriteParameterDescription(c.rw.Writer, nil)
	}
	return protocol.WriteNoData(c.rw.Writer)
}

func (c *conn) handleExecute(body []byte) error {
	msg, err := protocol.ParseExecuteMessage(body)
	if err != nil {
		c.writeError(err)
		return nil
	}
	portal, ok := c.sess.Portal(msg.PortalName)
	if !ok {
		c.writeError(jerrors.Errorf("no such portal %q", msg.PortalName))
		return nil
	}
	res, err := c.sess.Execute(portal.Statement.Stmt)
	if err != nil {
		c.writeError(err)
		return nil
	}
	return c.writeResult(res)
}

func (c *conn) handleClose(body []byte) error {
	msg, err := protocol.ParseCloseMessage(body)
	if err != nil {
		c.writeError(err)
		return nil
	}
	if msg.Kind == 'S' {
		c.sess.CloseStatement(msg.Name)
	} else {
		c.sess.ClosePortal(msg.Name)
	}
	return protocol.WriteCloseComplete(c.rw.Writer)
}

func (c *conn) handleSync() error {
	if err := protocol.WriteReadyForQuery(c.rw.Writer, byte(c.sess.Status())); err != nil {
		return err
	}
	return c.rw.Flush()
}
