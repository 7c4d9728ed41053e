package heapdb

import (
	"bytes"
	"fmt"
)

/* heapPage implements the Page interface for pages of HeapFiles.

All tuples in a file are fixed length, so a page holds a fixed number of
slots N derived from the tuple size:

	N = (PageSize * 8) / (tupleSize * 8 + 1)

i.e. each slot costs its tuple bytes plus one header bit. The on-disk layout
is:

	header   ceil(N/8) bytes, one occupancy bit per slot, MSB-first
	         (bit 7 of byte 0 is slot 0; 1 = occupied)
	slots    N * tupleSize bytes, slot i at headerBytes + i*tupleSize;
	         free slots are zero-filled
	padding  zero bytes up to PageSize

A page also carries a dirty flag with the transaction that last wrote it,
and a before-image: a snapshot of its bytes as of the last clean point,
used for update logging and abort.
*/

type heapPage struct {
	desc     *TupleDesc
	pid      PageID
	file     *HeapFile
	numSlots int
	tuples   []*Tuple
	dirty    bool
	dirtyTid TransactionID
	before   []byte
}

// slotCount returns the number of tuple slots a page holds for tuples of the
// given descriptor, and the header size in bytes.
func slotCount(desc *TupleDesc) (numSlots int, headerBytes int, err error) {
	tupleSize := desc.bytesPerTuple()
	if tupleSize <= 0 {
		return 0, 0, DBError{MalformedDataError, "descriptor has zero-byte tuples"}
	}
	numSlots = (PageSize * 8) / (tupleSize*8 + 1)
	headerBytes = (numSlots + 7) / 8
	return numSlots, headerBytes, nil
}

// newHeapPage constructs an empty page for the given descriptor and id. The
// fresh page's before-image is its empty serialization.
func newHeapPage(desc *TupleDesc, pid PageID, f *HeapFile) (*heapPage, error) {
	numSlots, _, err := slotCount(desc)
	if err != nil {
		return nil, err
	}
	pg := &heapPage{
		desc:     desc,
		pid:      pid,
		file:     f,
		numSlots: numSlots,
		tuples:   make([]*Tuple, numSlots),
	}
	if err := pg.setBeforeImage(); err != nil {
		return nil, err
	}
	return pg, nil
}

func (h *heapPage) getNumSlots() int {
	return h.numSlots
}

func (h *heapPage) getNumEmptySlots() int {
	n := 0
	for _, t := range h.tuples {
		if t == nil {
			n++
		}
	}
	return n
}

// insertTuple places t in the lowest-numbered free slot, sets its record id,
// and returns it. Fails with PageFullError when no slot is free and
// TypeMismatchError when t does not match the page's schema.
func (h *heapPage) insertTuple(t *Tuple) (recordID, error) {
	if !t.Desc.equals(h.desc) {
		return nil, DBError{TypeMismatchError, "tuple descriptor does not match page schema"}
	}
	for slot := 0; slot < h.numSlots; slot++ {
		if h.tuples[slot] == nil {
			rid := RecordID{h.pid, slot}
			h.tuples[slot] = &Tuple{Desc: *h.desc, Fields: t.Fields, Rid: rid}
			t.Rid = rid
			return rid, nil
		}
	}
	return nil, DBError{PageFullError, "page has no free slots"}
}

// deleteTuple clears the slot named by rid. The rid must refer to this page
// and to an occupied slot.
func (h *heapPage) deleteTuple(rid recordID) error {
	r, ok := rid.(RecordID)
	if !ok {
		return DBError{TupleNotFoundError, "record id is not a heap file record id"}
	}
	if r.Page != h.pid {
		return DBError{TupleNotFoundError, fmt.Sprintf("record id names page %v, not %v", r.Page, h.pid)}
	}
	if r.Slot < 0 || r.Slot >= h.numSlots {
		return DBError{TupleNotFoundError, fmt.Sprintf("slot %d out of range", r.Slot)}
	}
	if h.tuples[r.Slot] == nil {
		return DBError{TupleNotFoundError, fmt.Sprintf("slot %d is empty", r.Slot)}
	}
	h.tuples[r.Slot] = nil
	return nil
}

func (h *heapPage) isDirty() bool {
	return h.dirty
}

func (h *heapPage) setDirty(tid TransactionID, dirty bool) {
	h.dirty = dirty
	if dirty {
		h.dirtyTid = tid
	} else {
		h.dirtyTid = 0
	}
}

func (h *heapPage) dirtier() (TransactionID, bool) {
	if !h.dirty {
		return 0, false
	}
	return h.dirtyTid, true
}

func (h *heapPage) getFile() DBFile {
	return h.file
}

func (h *heapPage) id() PageID {
	return h.pid
}

// toBytes serializes the page into exactly PageSize bytes: occupancy bitmap,
// then the slot area with free slots zero-filled, then zero padding.
func (h *heapPage) toBytes() ([]byte, error) {
	_, headerBytes, err := slotCount(h.desc)
	if err != nil {
		return nil, err
	}
	tupleSize := h.desc.bytesPerTuple()
	data := make([]byte, PageSize)
	for slot, t := range h.tuples {
		if t == nil {
			continue
		}
		data[slot/8] |= 1 << (7 - uint(slot%8))
		var buf bytes.Buffer
		if err := t.writeTo(&buf); err != nil {
			return nil, err
		}
		copy(data[headerBytes+slot*tupleSize:], buf.Bytes())
	}
	return data, nil
}

// initFromBytes reads the page contents from a serialized image, inverting
// toBytes. Exactly the slots whose header bit is set are decoded.
func (h *heapPage) initFromBytes(data []byte) error {
	if len(data) != PageSize {
		return DBError{MalformedDataError, fmt.Sprintf("page image is %d bytes, want %d", len(data), PageSize)}
	}
	numSlots, headerBytes, err := slotCount(h.desc)
	if err != nil {
		return err
	}
	tupleSize := h.desc.bytesPerTuple()
	tuples := make([]*Tuple, numSlots)
	for slot := 0; slot < numSlots; slot++ {
		if data[slot/8]&(1<<(7-uint(slot%8))) == 0 {
			continue
		}
		off := headerBytes + slot*tupleSize
		t, err := readTupleFrom(bytes.NewBuffer(data[off:off+tupleSize]), h.desc)
		if err != nil {
			return err
		}
		t.Rid = RecordID{h.pid, slot}
		tuples[slot] = t
	}
	h.numSlots = numSlots
	h.tuples = tuples
	h.dirty = false
	h.dirtyTid = 0
	return nil
}

// beforeImage returns a page holding the contents as of the last clean
// point.
func (h *heapPage) beforeImage() (Page, error) {
	pg := &heapPage{desc: h.desc, pid: h.pid, file: h.file}
	if err := pg.initFromBytes(h.before); err != nil {
		return nil, err
	}
	return pg, nil
}

// setBeforeImage snapshots the current bytes as the new clean baseline.
func (h *heapPage) setBeforeImage() error {
	data, err := h.toBytes()
	if err != nil {
		return err
	}
	h.before = data
	return nil
}

// tupleIter returns a function iterating over the occupied slots in
// ascending slot order. It returns nil, nil after the last tuple.
func (h *heapPage) tupleIter() func() (*Tuple, error) {
	slot := 0
	return func() (*Tuple, error) {
		for slot < len(h.tuples) {
			t := h.tuples[slot]
			slot++
			if t != nil {
				return t, nil
			}
		}
		return nil, nil
	}
}
