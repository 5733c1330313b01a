package protocol

import (
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
)

// PostgreSQL base type OIDs, for RowDescription/ParameterDescription.
const (
	OIDBool      int32 = 16
	OIDBytea     int32 = 17
	OIDInt8      int32 = 20
	OIDInt2      int32 = 21
	OIDInt4      int32 = 23
	OIDText      int32 = 25
	OIDJSON      int32 = 114
	OIDNumeric   int32 = 1700
	OIDVarchar   int32 = 1043
	OIDDate      int32 = 1082
	OIDTime      int32 = 1083
	OIDTimestamp int32 = 1114
	OIDUUID      int32 = 2950
)

// OIDForKind maps a runtime Value kind to the OID advertised in
// RowDescription. Enum columns are advertised as text -- the core
// doesn't allocate a distinct OID per enum type (spec.md is silent on
// this; pg_type enum row OIDs are a client-catalog-lookup concern the
// parser/wire front-end layer owns, not the storage core).
func OIDForKind(k basic.Kind, intWidth int) int32 {
	switch k {
	case basic.KindNumeric:
		switch intWidth {
		case 16:
			return OIDInt2
		case 32:
			return OIDInt4
		case 64:
			return OIDInt8
		default:
			return OIDNumeric
		}
	case basic.KindString:
		return OIDText
	case basic.KindTemporal:
		return OIDTimestamp
	case basic.KindBool:
		return OIDBool
	case basic.KindUUID:
		return OIDUUID
	case basic.KindJSON:
		return OIDJSON
	case basic.KindBytea:
		return OIDBytea
	case basic.KindEnum:
		return OIDText
	default:
		return OIDText
	}
}

// SQLSTATE codes for the error kinds spec.md §7 enumerates. Chosen to
// match the real PostgreSQL codes a client driver already recognizes.
const (
	SQLStateSuccessfulCompletion = "00000"
	SQLStateUndefinedTable       = "42P01"
	SQLStateUndefinedColumn      = "42703"
	SQLStateUndefinedObject      = "42704"
	SQLStateDuplicateTable       = "42P07"
	SQLStateDuplicateColumn      = "42701"
	SQLStateDuplicateObject      = "42710"
	SQLStateNotNullViolation     = "23502"
	SQLStateUniqueViolation      = "23505"
	SQLStateForeignKeyViolation  = "23503"
	SQLStateCheckViolation       = "23514"
	SQLStateInvalidTextRepr      = "22P02"
	SQLStateStringDataRightTrunc = "22001"
	SQLStateInsufficientPriv     = "42501"
	SQLStateInvalidTxnState      = "25000"
	SQLStateActiveTxn            = "25001"
	SQLStateInFailedTxn          = "25P02"
	SQLStateIO                   = "58030"
	SQLStateProtocolViolation    = "08P01"
	SQLStateInternalError        = "XX000"
)

// SQLStateFor classifies an error returned by the dispatcher/executors
// into the SQLSTATE code spec.md §7 says the wire layer must surface
// alongside a severity and short message.
func SQLStateFor(err error) string {
	switch {
	case errIs(err, basic.ErrUnknownTable):
		return SQLStateUndefinedTable
	case errIs(err, basic.ErrUnknownColumn):
		return SQLStateUndefinedColumn
	case errIs(err, basic.ErrUnknownType), errIs(err, basic.ErrUnknownIndex), errIs(err, basic.ErrUnknownRole), errIs(err, basic.ErrUnknownView):
		return SQLStateUndefinedObject
	case errIs(err, basic.ErrDuplicateTable):
		return SQLStateDuplicateTable
	case errIs(err, basic.ErrDuplicateColumn):
		return SQLStateDuplicateColumn
	case errIs(err, basic.ErrDuplicateIndex), errIs(err, basic.ErrDuplicateRole), errIs(err, basic.ErrDuplicateView):
		return SQLStateDuplicateObject
	case errIs(err, basic.ErrNotNullViolation):
		return SQLStateNotNullViolation
	case errIs(err, basic.ErrUniqueViolation):
		return SQLStateUniqueViolation
	case errIs(err, basic.ErrForeignKeyViolated):
		return SQLStateForeignKeyViolation
	case errIs(err, basic.ErrEnumViolation):
		return SQLStateCheckViolation
	case errIs(err, basic.ErrTypeViolation):
		return SQLStateInvalidTextRepr
	case errIs(err, basic.ErrLengthViolation):
		return SQLStateStringDataRightTrunc
	case errIs(err, basic.ErrPermissionDenied):
		return SQLStateInsufficientPriv
	case errIs(err, basic.ErrNoActiveTransaction):
		return SQLStateInvalidTxnState
	case errIs(err, basic.ErrTransactionInProgress):
		return SQLStateActiveTxn
	case errIs(err, basic.ErrTransactionFailed):
		return SQLStateInFailedTxn
	case errIs(err, basic.ErrPageFull), errIs(err, basic.ErrPoolExhausted), errIs(err, basic.ErrPageNotFound):
		return SQLStateIO
	default:
		return SQLStateInternalError
	}
}

// errIs unwraps github.com/pkg/errors and juju/errors causes as well as
// stdlib wrapping, since the executors mix all three across packages.
func errIs(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			causer, ok := err.(interface{ Cause() error })
			if !ok {
				return false
			}
			err = causer.Cause()
			continue
		}
		err = u.Unwrap()
	}
	return false
}
