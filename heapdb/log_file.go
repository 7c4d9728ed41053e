package heapdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

/*
LogFile implements write-ahead logging. The callers (the BufferPool's flush
and commit paths) are responsible for the WAL discipline itself: the update
record describing a page change is appended and forced before the page is
written to its data file.

The log is a sequence of variable-length records:

	+--------------------------------------------------------+
	| Record type (1 byte)                                   |
	+--------------------------------------------------------+
	| Transaction ID (4 bytes)                               |
	+--------------------------------------------------------+
	| Record body (variable length)                          |
	+--------------------------------------------------------+
	| Offset of record start (8 bytes)                       |
	+--------------------------------------------------------+

Begin, commit and abort records have an empty body. Update records carry the
before and after images of one page:

	+--------------------------------------------------------+
	| Table id (4 bytes)                                     |
	+--------------------------------------------------------+
	| Page number (4 bytes)                                  |
	+--------------------------------------------------------+
	| Page contents (PageSize bytes)                         |
	+--------------------------------------------------------+

Appends accumulate in a buffer; Force writes the buffer through and fsyncs.
The trailing offset lets the reverse iterator walk records back to front.
*/

type LogRecordType int8

const (
	AbortRecord  LogRecordType = iota
	CommitRecord LogRecordType = iota
	UpdateRecord LogRecordType = iota
	BeginRecord  LogRecordType = iota
)

func (t LogRecordType) String() string {
	switch t {
	case AbortRecord:
		return "abort"
	case CommitRecord:
		return "commit"
	case UpdateRecord:
		return "update"
	case BeginRecord:
		return "begin"
	default:
		return "unknown"
	}
}

type LogFile struct {
	mu   sync.Mutex
	file *os.File
	buf  bytes.Buffer
	// offset is the read cursor used by the iterators; appendOff is the
	// logical end of the log including buffered, unforced records. Keeping
	// them separate lets a scan run without moving the append position.
	offset    int64
	appendOff int64
	catalog   *Catalog
}

// NewLogFile opens or creates the log at fileName. The catalog is consulted
// when update records are read back, to resolve table ids to files.
func NewLogFile(fileName string, catalog *Catalog) (*LogFile, error) {
	if catalog == nil {
		return nil, DBError{IllegalOperationError, "log file needs a catalog"}
	}
	file, err := os.OpenFile(fileName, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", fileName, err)
	}
	end, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	return &LogFile{file: file, offset: end, appendOff: end, catalog: catalog}, nil
}

func (w *LogFile) write(data any) {
	binary.Write(&w.buf, binary.LittleEndian, data)
	w.appendOff += int64(binary.Size(data))
}

// Force writes any buffered records through to the operating system and
// syncs the file. Commit and page flush both call this before they may
// proceed.
func (w *LogFile) Force() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.forceLocked()
}

func (w *LogFile) forceLocked() error {
	if w.buf.Len() == 0 {
		return nil
	}
	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	if _, err := w.file.Write(w.buf.Bytes()); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	w.buf.Reset()
	if err := w.file.Sync(); err != nil {
		return err
	}
	// Put the handle back where the read cursor expects it.
	_, err := w.file.Seek(w.offset, io.SeekStart)
	return err
}

func (w *LogFile) seek(offset int64, whence int) error {
	if err := w.forceLocked(); err != nil {
		return err
	}
	newOffset, err := w.file.Seek(offset, whence)
	if err != nil {
		return fmt.Errorf("seek log (%d, %d): %w", offset, whence, err)
	}
	w.offset = newOffset
	return nil
}

func (w *LogFile) read(data any) error {
	if err := w.forceLocked(); err != nil {
		return err
	}
	if err := binary.Read(w.file, binary.LittleEndian, data); err != nil {
		return err
	}
	w.offset += int64(binary.Size(data))
	return nil
}

func (w *LogFile) writeHeader(typ LogRecordType, tid TransactionID) {
	w.write(int8(typ))
	w.write(int32(tid))
}

func (w *LogFile) writePage(page Page) error {
	pid := page.id()
	data, err := page.toBytes()
	if err != nil {
		return err
	}
	w.write(int32(pid.TableID))
	w.write(int32(pid.PageNo))
	w.write(data)
	return nil
}

func (w *LogFile) readPage() (Page, error) {
	var tableID, pageNo int32
	if err := w.read(&tableID); err != nil {
		return nil, err
	}
	if err := w.read(&pageNo); err != nil {
		return nil, err
	}
	file, err := w.catalog.TableFor(int(tableID))
	if err != nil {
		return nil, err
	}
	hf, ok := file.(*HeapFile)
	if !ok {
		return nil, DBError{IncompatibleTypesError, "logged page belongs to a non-heap file"}
	}
	data := make([]byte, PageSize)
	if err := w.read(data); err != nil {
		return nil, err
	}
	pg := &heapPage{desc: hf.Descriptor(), pid: hf.pageKey(int(pageNo)), file: hf}
	if err := pg.initFromBytes(data); err != nil {
		return nil, err
	}
	return pg, nil
}

// LogBegin appends a begin record for tid.
func (w *LogFile) LogBegin(tid TransactionID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	offset := w.appendOff
	w.writeHeader(BeginRecord, tid)
	w.write(offset)
}

// LogCommit appends a commit record for tid. Does not force.
func (w *LogFile) LogCommit(tid TransactionID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	offset := w.appendOff
	w.writeHeader(CommitRecord, tid)
	w.write(offset)
}

// LogAbort appends an abort record for tid.
func (w *LogFile) LogAbort(tid TransactionID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	offset := w.appendOff
	w.writeHeader(AbortRecord, tid)
	w.write(offset)
}

// LogUpdate appends an update record carrying the before and after images of
// one page. Does not force; the caller forces before writing the page to its
// data file.
func (w *LogFile) LogUpdate(tid TransactionID, before Page, after Page) error {
	if before == nil || after == nil {
		return DBError{IllegalOperationError, "update record needs before and after images"}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	offset := w.appendOff
	w.writeHeader(UpdateRecord, tid)
	if err := w.writePage(before); err != nil {
		return err
	}
	if err := w.writePage(after); err != nil {
		return err
	}
	w.write(offset)
	return nil
}

// LogRecord is one parsed record read back from the log.
type LogRecord interface {
	Offset() int64
	Type() LogRecordType
	Tid() TransactionID
}

type GenericLogRecord struct {
	offset int64
	typ    LogRecordType
	tid    TransactionID
}

func (r GenericLogRecord) Offset() int64       { return r.offset }
func (r GenericLogRecord) Type() LogRecordType { return r.typ }
func (r GenericLogRecord) Tid() TransactionID  { return r.tid }

type UpdateLogRecord struct {
	GenericLogRecord
	Before Page
	After  Page
}

// ForwardIterator returns an iterator over the records in the log from the
// current position. It returns nil, nil at end of file and an error on a
// partial record. The caller must hold no concurrent appenders.
func (w *LogFile) ForwardIterator() func() (LogRecord, error) {
	partial := func(what string, err error) (LogRecord, error) {
		return nil, fmt.Errorf("partial log record at offset %d reading %s: %v", w.offset, what, err)
	}
	return func() (LogRecord, error) {
		w.mu.Lock()
		defer w.mu.Unlock()
		var record GenericLogRecord
		var ret LogRecord = &record
		record.offset = w.offset

		var typ int8
		err := w.read(&typ)
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return partial("record type", err)
		}
		record.typ = LogRecordType(typ)

		var tid int32
		if err := w.read(&tid); err != nil {
			return partial("transaction id", err)
		}
		record.tid = TransactionID(tid)

		if record.typ == UpdateRecord {
			update := UpdateLogRecord{GenericLogRecord: record}
			var err error
			if update.Before, err = w.readPage(); err != nil {
				return partial("before image", err)
			}
			if update.After, err = w.readPage(); err != nil {
				return partial("after image", err)
			}
			ret = &update
		}

		var recordOffset int64
		if err := w.read(&recordOffset); err != nil || recordOffset != record.offset {
			return partial("offset trailer", err)
		}
		return ret, nil
	}
}

// ReverseIterator returns an iterator over the records in the log from the
// end back to the beginning, using each record's offset trailer.
func (w *LogFile) ReverseIterator() (func() (LogRecord, error), error) {
	w.mu.Lock()
	if err := w.seek(0, io.SeekEnd); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	w.mu.Unlock()

	forward := w.ForwardIterator()
	return func() (LogRecord, error) {
		w.mu.Lock()
		if w.offset < 8 {
			w.mu.Unlock()
			return nil, nil
		}
		var offset int64
		if err := w.seek(-8, io.SeekCurrent); err != nil {
			w.mu.Unlock()
			return nil, err
		}
		if err := w.read(&offset); err != nil {
			w.mu.Unlock()
			return nil, err
		}
		if err := w.seek(offset, io.SeekStart); err != nil {
			w.mu.Unlock()
			return nil, err
		}
		w.mu.Unlock()

		record, err := forward()
		if err != nil {
			return nil, err
		}

		w.mu.Lock()
		err = w.seek(offset, io.SeekStart)
		w.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return record, nil
	}, nil
}

// Rewind positions the log at its beginning for a forward read.
func (w *LogFile) Rewind() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seek(0, io.SeekStart)
}

// OutputPrettyLog prints a human readable rendering of the whole log.
func (w *LogFile) OutputPrettyLog() error {
	w.mu.Lock()
	oldPos := w.offset
	err := w.seek(0, io.SeekStart)
	w.mu.Unlock()
	if err != nil {
		return err
	}
	defer func() {
		w.mu.Lock()
		w.seek(oldPos, io.SeekStart)
		w.mu.Unlock()
	}()

	iter := w.ForwardIterator()
	for {
		record, err := iter()
		if err != nil {
			return err
		}
		if record == nil {
			return nil
		}
		switch r := record.(type) {
		case *UpdateLogRecord:
			log.Printf("%d RECORD %s (%d) page=%v\n", r.Offset(), r.Type(), r.Tid(), r.Before.id())
		default:
			log.Printf("%d RECORD %s (%d)\n", record.Offset(), record.Type(), record.Tid())
		}
	}
}
