package ast

import "encoding/gob"

// The external parser spec.md §1 places out of scope hands this core a
// Stmt tree, not SQL text. server/net's simple-query and Parse message
// handlers carry that tree as a gob-encoded byte string inside the
// wire protocol's query-text field -- the same round-trip encoding the
// WAL and catalog packages already rely on for basic.Value.
func init() {
	gob.Register(Begin{})
	gob.Register(Commit{})
	gob.Register(Rollback{})
	gob.Register(CreateTable{})
	gob.Register(DropTable{})
	gob.Register(AlterTable{})
	gob.Register(CreateEnum{})
	gob.Register(CreateIndex{})
	gob.Register(DropIndex{})
	gob.Register(CreateView{})
	gob.Register(DropView{})
	gob.Register(CreateRole{})
	gob.Register(DropRole{})
	gob.Register(GrantRole{})
	gob.Register(RevokeRole{})
	gob.Register(GrantPriv{})
	gob.Register(RevokePriv{})
	gob.Register(Vacuum{})
	gob.Register(Insert{})
	gob.Register(Update{})
	gob.Register(Delete{})
	gob.Register(Copy{})
	gob.Register(Select{})
	gob.Register(Explain{})

	gob.Register(ColumnRef{})
	gob.Register(Literal{})
	gob.Register(Star{})
	gob.Register(Binary{})
	gob.Register(Not{})
	gob.Register(Between{})
	gob.Register(Like{})
	gob.Register(InList{})
	gob.Register(InSubquery{})
	gob.Register(Exists{})
	gob.Register(ScalarSubquery{})
	gob.Register(IsNull{})
	gob.Register(IsNotNull{})
	gob.Register(Case{})
	gob.Register(AggCall{})
	gob.Register(WindowCall{})
	gob.Register(FuncCall{})
}

// Encode/Decode live in server/protocol to keep this package free of
// wire-format concerns; see protocol.EncodeStmt/DecodeStmt.
