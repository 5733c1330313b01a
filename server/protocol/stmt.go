package protocol

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/ast"
)

// EncodeStmt and DecodeStmt carry a parsed statement tree across the
// wire in the simple-query and Parse messages' query-text field. The
// external parser spec.md §1 places out of scope is expected to speak
// this same gob encoding -- the Stmt tree shape in server/ast, not raw
// SQL text, is this server's actual front-door contract.
func EncodeStmt(stmt ast.Stmt) (string, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&stmt); err != nil {
		return "", errors.Wrap(err, "protocol: encoding statement tree")
	}
	return buf.String(), nil
}

func DecodeStmt(text string) (ast.Stmt, error) {
	var stmt ast.Stmt
	if err := gob.NewDecoder(bytes.NewReader([]byte(text))).Decode(&stmt); err != nil {
		return nil, errors.Wrap(err, "protocol: decoding statement tree")
	}
	return stmt, nil
}
