package heapdb

import (
	"bufio"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// A HeapFile is an unordered collection of tuples stored as a sequence of
// slotted pages in a single disk file. Page numbers are 0-based and
// sequential; the file grows by appending pages.
//
// HeapFile never caches pages itself: every page access from the iterator
// and the mutators goes through the BufferPool, which is where locking,
// recency and dirty tracking live. readPage and flushPage are the raw
// positional-I/O hooks the pool calls back into.
type HeapFile struct {
	backingFile string
	tableID     int
	desc        *TupleDesc
	bufPool     *BufferPool
	file        *os.File
	// mu serializes writes and file growth; reads are positional and safe
	// alongside them.
	mu sync.Mutex
}

// tableIDForPath derives a stable 32-bit table id from the absolute path of
// a backing file.
func tableIDForPath(path string) int {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	h := fnv.New32a()
	h.Write([]byte(abs))
	return int(int32(h.Sum32()))
}

// NewHeapFile opens or creates the backing file and returns a HeapFile over
// it. The descriptor fixes the tuple layout for the life of the file.
func NewHeapFile(fromFile string, td *TupleDesc, bp *BufferPool) (*HeapFile, error) {
	if td == nil || len(td.Fields) == 0 {
		return nil, DBError{MalformedDataError, "heap file needs a descriptor with at least one field"}
	}
	file, err := os.OpenFile(fromFile, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open heap file %s: %w", fromFile, err)
	}
	return &HeapFile{
		backingFile: fromFile,
		tableID:     tableIDForPath(fromFile),
		desc:        td,
		bufPool:     bp,
		file:        file,
	}, nil
}

// BackingFile returns the name of the backing file.
func (f *HeapFile) BackingFile() string {
	return f.backingFile
}

// NumPages returns the number of pages in the file, counting a short final
// page as a full one.
func (f *HeapFile) NumPages() int {
	fi, err := f.file.Stat()
	if err != nil {
		return 0
	}
	return int((fi.Size() + int64(PageSize) - 1) / int64(PageSize))
}

// readPage reads page pageNo from disk. Bytes past the end of the file read
// as zero, so a short final page parses as a page with trailing empty slots.
// Never consults the BufferPool.
func (f *HeapFile) readPage(pageNo int) (Page, error) {
	if pageNo < 0 {
		return nil, DBError{MalformedDataError, fmt.Sprintf("negative page number %d", pageNo)}
	}
	data := make([]byte, PageSize)
	n, err := f.file.ReadAt(data, int64(pageNo)*int64(PageSize))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read page %d of %s: %w", pageNo, f.backingFile, err)
	}
	if n == 0 && err == io.EOF && pageNo >= f.NumPages() {
		return nil, DBError{MalformedDataError, fmt.Sprintf("page %d past end of %s", pageNo, f.backingFile)}
	}
	pg := &heapPage{desc: f.desc, pid: f.pageKey(pageNo), file: f}
	if err := pg.initFromBytes(data); err != nil {
		return nil, err
	}
	if err := pg.setBeforeImage(); err != nil {
		return nil, err
	}
	return pg, nil
}

// flushPage writes the page back to its offset in the backing file, always a
// full PageSize bytes.
func (f *HeapFile) flushPage(p Page) error {
	pg, ok := p.(*heapPage)
	if !ok {
		return DBError{IncompatibleTypesError, "flushPage: not a heap page"}
	}
	data, err := pg.toBytes()
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.file.WriteAt(data, int64(pg.pid.PageNo)*int64(PageSize)); err != nil {
		return fmt.Errorf("write page %d of %s: %w", pg.pid.PageNo, f.backingFile, err)
	}
	return nil
}

// insertTuple adds t to the first page with a free slot, appending a new
// page when every existing page is full. Each page is probed with read
// permission through the BufferPool, so the transaction keeps a shared lock
// on every full page it passes; the page that receives the tuple is then
// fetched with write permission, so it is held exclusively. Returns the
// modified pages; the caller marks them dirty.
func (f *HeapFile) insertTuple(t *Tuple, tid TransactionID) ([]Page, error) {
	numPages := f.NumPages()
	for pageNo := 0; pageNo < numPages; pageNo++ {
		pg, err := f.bufPool.GetPage(f, pageNo, tid, ReadPerm)
		if err != nil {
			return nil, err
		}
		if pg.(*heapPage).getNumEmptySlots() == 0 {
			continue
		}
		// Upgrade to exclusive and re-check: another transaction may have
		// filled the page between the probe and the upgrade.
		if pg, err = f.bufPool.GetPage(f, pageNo, tid, WritePerm); err != nil {
			return nil, err
		}
		hp := pg.(*heapPage)
		if _, err := hp.insertTuple(t); err != nil {
			if dbe, ok := err.(DBError); ok && dbe.code == PageFullError {
				continue
			}
			return nil, err
		}
		return []Page{pg}, nil
	}

	// Every page is full: extend the file with an empty page, then insert
	// through the pool so the new page is locked and cached like any other.
	f.mu.Lock()
	newPageNo := f.NumPages()
	empty, err := newHeapPage(f.desc, f.pageKey(newPageNo), f)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	data, err := empty.toBytes()
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	if _, err := f.file.WriteAt(data, int64(newPageNo)*int64(PageSize)); err != nil {
		f.mu.Unlock()
		return nil, fmt.Errorf("extend %s: %w", f.backingFile, err)
	}
	f.mu.Unlock()

	pg, err := f.bufPool.GetPage(f, newPageNo, tid, WritePerm)
	if err != nil {
		return nil, err
	}
	hp := pg.(*heapPage)
	if _, err := hp.insertTuple(t); err != nil {
		return nil, err
	}
	return []Page{pg}, nil
}

// deleteTuple removes the tuple named by t.Rid, fetching its page with write
// permission. Returns the modified page; the caller marks it dirty.
func (f *HeapFile) deleteTuple(t *Tuple, tid TransactionID) (Page, error) {
	if t.Rid == nil {
		return nil, DBError{TupleNotFoundError, "tuple has no record id"}
	}
	rid, ok := t.Rid.(RecordID)
	if !ok {
		return nil, DBError{TupleNotFoundError, "tuple record id is not a heap file record id"}
	}
	if rid.Page.TableID != f.tableID {
		return nil, DBError{TupleNotFoundError, "record id names a different table"}
	}
	if rid.Page.PageNo < 0 || rid.Page.PageNo >= f.NumPages() {
		return nil, DBError{TupleNotFoundError, fmt.Sprintf("record id names page %d past end of file", rid.Page.PageNo)}
	}
	pg, err := f.bufPool.GetPage(f, rid.Page.PageNo, tid, WritePerm)
	if err != nil {
		return nil, err
	}
	hp := pg.(*heapPage)
	if err := hp.deleteTuple(rid); err != nil {
		return nil, err
	}
	return pg, nil
}

// Descriptor returns the TupleDesc supplied at construction.
func (f *HeapFile) Descriptor() *TupleDesc {
	return f.desc
}

// Iterator yields every tuple in the file in page-then-slot order. Each page
// is fetched with read permission through the BufferPool, so the transaction
// acquires a shared lock page by page as the scan advances.
func (f *HeapFile) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	numPages := f.NumPages()
	pageNo := 0
	var pageIter func() (*Tuple, error)
	return func() (*Tuple, error) {
		for {
			if pageIter == nil {
				if pageNo >= numPages {
					return nil, nil
				}
				pg, err := f.bufPool.GetPage(f, pageNo, tid, ReadPerm)
				if err != nil {
					return nil, err
				}
				pageIter = pg.(*heapPage).tupleIter()
				pageNo++
			}
			t, err := pageIter()
			if err != nil {
				return nil, err
			}
			if t == nil {
				pageIter = nil
				continue
			}
			return &Tuple{Desc: *f.desc, Fields: t.Fields, Rid: t.Rid}, nil
		}
	}, nil
}

// pageKey returns the PageID for page pageNo of this file; the BufferPool
// uses it as its cache key.
func (f *HeapFile) pageKey(pageNo int) PageID {
	return PageID{TableID: f.tableID, PageNo: pageNo}
}

// LoadFromCSV loads the contents of the heap file from a CSV file.
// Parameters:
//   - hasHeader: whether the CSV file has a header line
//   - sep: the field separator
//   - skipLastField: if true, the final field is dropped (some TPC datasets
//     end each line with a trailing separator)
//
// Each row is inserted in its own transaction so a large load never pins
// more dirty pages than the pool can hold.
func (f *HeapFile) LoadFromCSV(file *os.File, hasHeader bool, sep string, skipLastField bool) error {
	scanner := bufio.NewScanner(file)
	cnt := 0
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Split(line, sep)
		if skipLastField {
			fields = fields[0 : len(fields)-1]
		}
		cnt++
		desc := f.Descriptor()
		if len(fields) != len(desc.Fields) {
			return DBError{MalformedDataError, fmt.Sprintf("LoadFromCSV: line %d (%s) has %d fields, want %d", cnt, line, len(fields), len(desc.Fields))}
		}
		if cnt == 1 && hasHeader {
			continue
		}
		var newFields []DBValue
		for fno, field := range fields {
			switch desc.Fields[fno].Ftype {
			case IntType:
				field = strings.TrimSpace(field)
				floatVal, err := strconv.ParseFloat(field, 64)
				if err != nil {
					return DBError{TypeMismatchError, fmt.Sprintf("LoadFromCSV: couldn't convert value %s to int, line %d", field, cnt)}
				}
				newFields = append(newFields, IntField{int32(floatVal)})
			case StringType:
				if len(field) > StringLength-4 {
					field = field[0 : StringLength-4]
				}
				newFields = append(newFields, StringField{field})
			}
		}
		t := Tuple{Desc: *desc, Fields: newFields}
		tid := NewTID()
		if err := f.bufPool.BeginTransaction(tid); err != nil {
			return err
		}
		if err := f.bufPool.InsertTuple(tid, f, &t); err != nil {
			f.bufPool.AbortTransaction(tid)
			return err
		}
		if err := f.bufPool.CommitTransaction(tid); err != nil {
			return err
		}
	}
	return scanner.Err()
}
