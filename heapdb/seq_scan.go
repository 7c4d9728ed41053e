package heapdb

// SeqScan yields every tuple of a table in page-then-slot order. The scan's
// output schema is the table's schema with each field qualified by the
// scan's alias, so downstream expressions can name fields as alias.field.
type SeqScan struct {
	file  DBFile
	alias string
}

func NewSeqScan(file DBFile, alias string) *SeqScan {
	return &SeqScan{file: file, alias: alias}
}

func (s *SeqScan) Descriptor() *TupleDesc {
	desc := s.file.Descriptor().copy()
	if s.alias != "" {
		desc.setTableAlias(s.alias)
	}
	return desc
}

func (s *SeqScan) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	fileIter, err := s.file.Iterator(tid)
	if err != nil {
		return nil, err
	}
	desc := *s.Descriptor()
	return func() (*Tuple, error) {
		t, err := fileIter()
		if err != nil || t == nil {
			return nil, err
		}
		return &Tuple{Desc: desc, Fields: t.Fields, Rid: t.Rid}, nil
	}, nil
}
