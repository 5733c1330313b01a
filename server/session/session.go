// Package session implements spec.md §4.9's statement lifecycle and
// §6's wire-session contract: stand-alone statements are their own
// transaction, an explicit BEGIN...COMMIT block takes a fresh snapshot
// before each statement (read-committed), a statement error inside a
// block moves the session to the failed ('E') state until ROLLBACK,
// and DDL always auto-commits regardless of an open block. It also
// holds the prepared-statement/portal cache the extended query
// protocol (Parse/Bind/Describe/Execute) reads and writes.
package session

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/ast"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/dispatcher"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/engine"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/exec/dml"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/txn"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/wal"
)

// Status is the wire-visible ReadyForQuery status byte spec.md §6 names.
type Status byte

const (
	StatusIdle    Status = 'I'
	StatusInTxn   Status = 'T'
	StatusFailed  Status = 'E'
)

// PreparedStatement is a Parse'd, named (or unnamed) statement tree
// cached for later Bind/Describe/Execute, per spec.md §6's extended
// query protocol.
type PreparedStatement struct {
	Name       string
	Stmt       ast.Stmt
	ParamTypes []string
}

// Portal is a Bind'd (statement, parameter values) pair.
type Portal struct {
	Name      string
	Statement *PreparedStatement
	Params    []basic.Value
}

// Session is the per-connection state the wire front-end drives: the
// authenticated user, the current database, transaction-block state,
// and the prepared-statement/portal caches.
type Session struct {
	Eng        *engine.Engine
	Dispatcher *dispatcher.Dispatcher

	User     string
	Database string

	mu         sync.Mutex
	status     Status
	inTxn      bool
	txID       uint64

	statements map[string]*PreparedStatement
	portals    map[string]*Portal
}

// New creates a Session bound to eng/disp for the given authenticated
// user and database.
func New(eng *engine.Engine, disp *dispatcher.Dispatcher, user, database string) *Session {
	return &Session{
		Eng:        eng,
		Dispatcher: disp,
		User:       user,
		Database:   database,
		status:     StatusIdle,
		statements: make(map[string]*PreparedStatement),
		portals:    make(map[string]*Portal),
	}
}

// Status reports the current ReadyForQuery status byte.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func isDDL(stmt ast.Stmt) bool {
	switch stmt.(type) {
	case ast.CreateTable, ast.DropTable, ast.AlterTable, ast.CreateEnum,
		ast.CreateIndex, ast.DropIndex, ast.CreateView, ast.DropView,
		ast.CreateRole, ast.DropRole, ast.GrantRole, ast.RevokeRole,
		ast.GrantPriv, ast.RevokePriv, ast.Vacuum:
		return true
	default:
		return false
	}
}

// Execute runs one statement tree to completion and returns its
// dispatcher.Result, applying the transaction-lifecycle rules of
// spec.md §4.9 and the error-propagation rules of §7.
func (s *Session) Execute(stmt ast.Stmt) (dispatcher.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch stmt.(type) {
	case ast.Begin:
		return s.beginLocked()
	case ast.Commit:
		return s.commitLocked()
	case ast.Rollback:
		return s.rollbackLocked()
	}

	if s.status == StatusFailed {
		return dispatcher.Result{}, basic.ErrTransactionFailed
	}

	if isDDL(stmt) {
		// DDL auto-commits immediately regardless of an open block and
		// never flips the session to the failed state on error, per
		// spec.md §4.9.
		return s.Dispatcher.Dispatch(stmt, s.User, 0, txn.Snapshot{})
	}

	if s.inTxn {
		snap := s.Eng.Txn.Snapshot()
		res, err := s.Dispatcher.Dispatch(stmt, s.User, s.txID, snap)
		if err != nil {
			s.status = StatusFailed
			return dispatcher.Result{}, err
		}
		return res, nil
	}

	return s.runStandalone(stmt)
}

// runStandalone wraps a single DML/query statement in its own
// transaction: begin, execute, commit on success or abort on failure,
// per spec.md §4.9's "every DML statement is its own transaction".
func (s *Session) runStandalone(stmt ast.Stmt) (dispatcher.Result, error) {
	txID, snap := s.Eng.Txn.Begin()
	if _, err := s.Eng.WAL.Append(wal.Record{Kind: wal.KindBeginTx, TxID: txID}); err != nil {
		s.Eng.Txn.Abort(txID)
		return dispatcher.Result{}, errors.Wrap(err, "session: appending BeginTx")
	}

	res, err := s.Dispatcher.Dispatch(stmt, s.User, txID, snap)
	if err != nil {
		if abortErr := s.Eng.Txn.Abort(txID); abortErr != nil {
			return dispatcher.Result{}, abortErr
		}
		if _, werr := s.Eng.WAL.Append(wal.Record{Kind: wal.KindAbortTx, TxID: txID}); werr != nil {
			return dispatcher.Result{}, errors.Wrap(werr, "session: appending AbortTx")
		}
		return dispatcher.Result{}, err
	}

	if err := s.Eng.Txn.Commit(txID); err != nil {
		return dispatcher.Result{}, err
	}
	// CommitTx is fsynced before Execute returns, so the wire reply that
	// follows never reports a commit the WAL could fail to recover
	// (spec.md §9's open question on commit durability).
	if _, err := s.Eng.WAL.Append(wal.Record{Kind: wal.KindCommitTx, TxID: txID}); err != nil {
		return dispatcher.Result{}, errors.Wrap(err, "session: appending CommitTx")
	}
	if err := s.Eng.MaybeCheckpoint(); err != nil {
		return dispatcher.Result{}, err
	}
	return res, nil
}

func (s *Session) beginLocked() (dispatcher.Result, error) {
	if s.inTxn {
		return dispatcher.Result{}, basic.ErrTransactionInProgress
	}
	txID, _ := s.Eng.Txn.Begin()
	if _, err := s.Eng.WAL.Append(wal.Record{Kind: wal.KindBeginTx, TxID: txID}); err != nil {
		s.Eng.Txn.Abort(txID)
		return dispatcher.Result{}, errors.Wrap(err, "session: appending BeginTx")
	}
	s.inTxn = true
	s.txID = txID
	s.status = StatusInTxn
	return dispatcher.Result{Tag: "BEGIN"}, nil
}

func (s *Session) commitLocked() (dispatcher.Result, error) {
	if !s.inTxn {
		return dispatcher.Result{}, basic.ErrNoActiveTransaction
	}
	if s.status == StatusFailed {
		// COMMIT on a failed transaction block behaves like ROLLBACK:
		// there is nothing left to publish.
		return s.rollbackLocked()
	}
	txID := s.txID
	if err := s.Eng.Txn.Commit(txID); err != nil {
		return dispatcher.Result{}, err
	}
	if _, err := s.Eng.WAL.Append(wal.Record{Kind: wal.KindCommitTx, TxID: txID}); err != nil {
		return dispatcher.Result{}, errors.Wrap(err, "session: appending CommitTx")
	}
	s.inTxn = false
	s.txID = 0
	s.status = StatusIdle
	if err := s.Eng.MaybeCheckpoint(); err != nil {
		return dispatcher.Result{}, err
	}
	return dispatcher.Result{Tag: "COMMIT"}, nil
}

func (s *Session) rollbackLocked() (dispatcher.Result, error) {
	if !s.inTxn {
		return dispatcher.Result{}, basic.ErrNoActiveTransaction
	}
	txID := s.txID
	if err := s.Eng.Txn.Abort(txID); err != nil {
		return dispatcher.Result{}, err
	}
	if _, err := s.Eng.WAL.Append(wal.Record{Kind: wal.KindAbortTx, TxID: txID}); err != nil {
		return dispatcher.Result{}, errors.Wrap(err, "session: appending AbortTx")
	}
	s.inTxn = false
	s.txID = 0
	s.status = StatusIdle
	return dispatcher.Result{Tag: "ROLLBACK"}, nil
}

// BeginStreaming returns the transaction id and snapshot a COPY/streamed
// statement should run under: the open block's (standalone=false), or a
// fresh stand-alone one (standalone=true) that EndStreaming finishes.
func (s *Session) BeginStreaming() (uint64, txn.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inTxn {
		return s.txID, s.Eng.Txn.Snapshot(), false
	}
	txID, snap := s.Eng.Txn.Begin()
	s.Eng.WAL.Append(wal.Record{Kind: wal.KindBeginTx, TxID: txID})
	return txID, snap, true
}

// EndStreaming commits or aborts a transaction id begun by
// BeginStreaming, when standalone is true (an already-open explicit
// block is left untouched -- its COMMIT/ROLLBACK is the client's job).
func (s *Session) EndStreaming(txID uint64, standalone bool, failed bool) error {
	if !standalone {
		if failed {
			s.mu.Lock()
			s.status = StatusFailed
			s.mu.Unlock()
		}
		return nil
	}
	if failed {
		if err := s.Eng.Txn.Abort(txID); err != nil {
			return err
		}
		_, err := s.Eng.WAL.Append(wal.Record{Kind: wal.KindAbortTx, TxID: txID})
		return err
	}
	if err := s.Eng.Txn.Commit(txID); err != nil {
		return err
	}
	if _, err := s.Eng.WAL.Append(wal.Record{Kind: wal.KindCommitTx, TxID: txID}); err != nil {
		return err
	}
	return s.Eng.MaybeCheckpoint()
}

// --- Extended query protocol cache (spec.md §6) -----------------------------

// Prepare caches a parsed statement tree under name (the empty string
// names the unnamed statement, which Parse always overwrites).
func (s *Session) Prepare(name string, stmt ast.Stmt, paramTypes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statements[name] = &PreparedStatement{Name: name, Stmt: stmt, ParamTypes: paramTypes}
}

// Statement looks up a previously Parse'd statement by name.
func (s *Session) Statement(name string) (*PreparedStatement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.statements[name]
	return p, ok
}

// Bind associates a named (or unnamed) portal with a prepared statement
// and its bound parameter values.
func (s *Session) Bind(portalName, stmtName string, params []basic.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stmt, ok := s.statements[stmtName]
	if !ok {
		return errors.Errorf("session: no prepared statement %q", stmtName)
	}
	s.portals[portalName] = &Portal{Name: portalName, Statement: stmt, Params: params}
	return nil
}

// Portal looks up a bound portal by name.
func (s *Session) Portal(name string) (*Portal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.portals[name]
	return p, ok
}

// CloseStatement / ClosePortal implement the Close message's two targets.
func (s *Session) CloseStatement(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.statements, name)
}

func (s *Session) ClosePortal(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.portals, name)
}

// DMLExecutor is a convenience accessor so the COPY wire handler can call
// CopyIn/CopyOut directly without routing through Dispatch (COPY's
// payload streams incrementally and doesn't fit Dispatch's one-shot
// statement shape).
func (s *Session) DMLExecutor() *dml.Executor { return s.Dispatcher.DML }
