package basic

import "errors"

// Storage-level errors.
var (
	ErrPageFull      = errors.New("page has insufficient free space")
	ErrSlotNotFound  = errors.New("slot not found")
	ErrTombstone     = errors.New("slot has been freed")
	ErrPoolExhausted = errors.New("buffer pool exhausted: no evictable page")
	ErrPageNotFound  = errors.New("page not found")
)

// Catalog/constraint errors.
var (
	ErrUnknownTable    = errors.New("unknown table")
	ErrUnknownColumn   = errors.New("unknown column")
	ErrUnknownType     = errors.New("unknown type")
	ErrUnknownIndex    = errors.New("unknown index")
	ErrUnknownRole     = errors.New("unknown role")
	ErrUnknownView     = errors.New("unknown view")
	ErrDuplicateTable  = errors.New("table already exists")
	ErrDuplicateColumn = errors.New("duplicate column name")
	ErrDuplicateIndex  = errors.New("index already exists")
	ErrDuplicateRole   = errors.New("role already exists")
	ErrDuplicateView   = errors.New("view already exists")

	ErrNotNullViolation   = errors.New("null value violates not-null constraint")
	ErrUniqueViolation    = errors.New("duplicate key value violates unique constraint")
	ErrForeignKeyViolated = errors.New("insert or update violates foreign key constraint")
	ErrTypeViolation      = errors.New("value does not match column type")
	ErrLengthViolation    = errors.New("value exceeds column length")
	ErrEnumViolation      = errors.New("value is not a member of the enum type")

	ErrPermissionDenied = errors.New("permission denied")
)

// Transaction errors.
var (
	ErrNoActiveTransaction   = errors.New("no active transaction")
	ErrTransactionInProgress = errors.New("transaction already in progress")
	ErrTransactionFailed     = errors.New("current transaction is aborted, commands ignored until end of transaction block")
)
