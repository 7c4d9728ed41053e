package heapdb

import (
	"fmt"
	"sync/atomic"
)

// PageSize is the number of bytes in a page, identical for every file in a
// process. All on-disk I/O happens in PageSize units.
const PageSize int = 4096

// StringLength is the fixed on-disk size of a string field in bytes,
// including its 4-byte length prefix. The longest storable string is
// therefore StringLength-4 bytes.
const StringLength int = 128

// DBType is the type of a tuple field, e.g., IntType or StringType.
type DBType int

const (
	IntType     DBType = iota
	StringType  DBType = iota
	UnknownType DBType = iota // used during parsing, before types are resolved
)

func (t DBType) String() string {
	switch t {
	case IntType:
		return "int"
	case StringType:
		return "string"
	}
	return "unknown"
}

// byteLength returns the fixed serialized size of a value of this type.
func (t DBType) byteLength() int {
	switch t {
	case IntType:
		return 4
	case StringType:
		return StringLength
	}
	return 0
}

// BoolOp is a comparison operator applied between two DBValues.
type BoolOp int

const (
	OpGt BoolOp = iota
	OpLt
	OpGe
	OpLe
	OpEq
	OpNeq
	OpLike
)

func (op BoolOp) String() string {
	switch op {
	case OpGt:
		return ">"
	case OpLt:
		return "<"
	case OpGe:
		return ">="
	case OpLe:
		return "<="
	case OpEq:
		return "="
	case OpNeq:
		return "<>"
	case OpLike:
		return "like"
	}
	return "??"
}

type errorCode int

const (
	TupleNotFoundError errorCode = iota
	PageFullError
	IncompatibleTypesError
	TypeMismatchError
	MalformedDataError
	BufferPoolFullError
	ParseError
	DuplicateTableError
	NoSuchTableError
	AmbiguousNameError
	IllegalOperationError
	DeadlockError
	IllegalTransactionError
	OsError
)

// DBError is the error type returned by the storage and execution layers.
// The code distinguishes outcomes that callers dispatch on: DeadlockError
// means the requesting transaction was chosen as a deadlock victim and must
// abort; BufferPoolFullError means every cached page is dirty and nothing
// can be evicted under NO-STEAL.
type DBError struct {
	code      errorCode
	errString string
}

func (e DBError) Error() string {
	return e.errString
}

// IsDeadlock reports whether err is a deadlock-victim error; callers that see
// it must abort the transaction and release its resources.
func IsDeadlock(err error) bool {
	dbe, ok := err.(DBError)
	return ok && dbe.code == DeadlockError
}

// TransactionID identifies a transaction. Transactions are single-threaded;
// the system is parallel across transactions.
type TransactionID int32

var nextTID int32

// NewTID returns a fresh transaction id. Safe for concurrent use.
func NewTID() TransactionID {
	return TransactionID(atomic.AddInt32(&nextTID, 1))
}

// RWPerm is the permission a transaction requests on a page. ReadPerm maps to
// a shared lock, WritePerm to an exclusive lock.
type RWPerm int

const (
	ReadPerm  RWPerm = iota
	WritePerm RWPerm = iota
)

func (p RWPerm) String() string {
	if p == WritePerm {
		return "write"
	}
	return "read"
}

// Page is a fixed-size unit of buffering. A page tracks whether it has been
// modified since it was last read from or written to disk, and by which
// transaction.
type Page interface {
	isDirty() bool
	setDirty(tid TransactionID, dirty bool)
	// dirtier returns the transaction that last dirtied the page; ok is
	// false when the page is clean.
	dirtier() (tid TransactionID, ok bool)
	getFile() DBFile
	id() PageID
	// toBytes serializes the page into exactly PageSize bytes.
	toBytes() ([]byte, error)
	// beforeImage returns the page's contents as of the last time it was
	// known clean, for undo logging.
	beforeImage() (Page, error)
	// setBeforeImage snapshots the current contents as the new clean
	// baseline.
	setBeforeImage() error
}

// DBFile is a disk-backed collection of tuples, such as a HeapFile. All page
// access by iterators and mutators is routed through the BufferPool so that
// locking and dirty tracking stay single-sourced; readPage and flushPage are
// the raw disk hooks the pool calls back into.
type DBFile interface {
	Operator
	// insertTuple adds t to the file on behalf of tid and returns the pages
	// it modified. The caller (the BufferPool) marks them dirty.
	insertTuple(t *Tuple, tid TransactionID) ([]Page, error)
	// deleteTuple removes the tuple identified by t.Rid and returns the
	// modified page.
	deleteTuple(t *Tuple, tid TransactionID) (Page, error)
	readPage(pageNo int) (Page, error)
	flushPage(p Page) error
	pageKey(pageNo int) PageID
	NumPages() int
}

// Operator is the pull-based iterator every query operator implements.
// Iterator returns a closure positioned before the first tuple; each call
// produces the next tuple, and nil, nil signals end-of-stream. Calling
// Iterator again restarts the stream from the beginning.
type Operator interface {
	Descriptor() *TupleDesc
	Iterator(tid TransactionID) (func() (*Tuple, error), error)
}

var debug = false

// DPrintf logs a formatted diagnostic when debugging is enabled.
func DPrintf(format string, a ...any) {
	if debug {
		fmt.Printf(format+"\n", a...)
	}
}
