package heapdb

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Catalog is the registry of tables: for each table it records the backing
// DBFile, the table name, and the name of the primary key field. Tables are
// looked up by id (the stable hash of the backing file path) or by name.
type Catalog struct {
	mu         sync.Mutex
	fromID     map[int]*tableInfo
	fromName   map[string]*tableInfo
	bufferPool *BufferPool
	rootPath   string
}

type tableInfo struct {
	id        int
	name      string
	file      DBFile
	pkeyField string
}

// NewCatalog creates an empty catalog. Tables created by LoadSchema get
// backing files under rootPath.
func NewCatalog(bp *BufferPool, rootPath string) *Catalog {
	return &Catalog{
		fromID:     make(map[int]*tableInfo),
		fromName:   make(map[string]*tableInfo),
		bufferPool: bp,
		rootPath:   rootPath,
	}
}

// AddTable registers file under name with the given primary key field name
// (may be empty). Fails if the name or the file's table id is already
// registered.
func (c *Catalog) AddTable(file DBFile, name string, pkeyField string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := file.pageKey(0).TableID
	if _, ok := c.fromName[name]; ok {
		return DBError{DuplicateTableError, fmt.Sprintf("table %s already exists", name)}
	}
	if _, ok := c.fromID[id]; ok {
		return DBError{DuplicateTableError, fmt.Sprintf("table id %d already exists", id)}
	}
	ti := &tableInfo{id: id, name: name, file: file, pkeyField: pkeyField}
	c.fromID[id] = ti
	c.fromName[name] = ti
	return nil
}

// TableFor returns the DBFile backing the table with the given id.
func (c *Catalog) TableFor(id int) (DBFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ti, ok := c.fromID[id]
	if !ok {
		return nil, DBError{NoSuchTableError, fmt.Sprintf("no table with id %d", id)}
	}
	return ti.file, nil
}

// TableNamed returns the DBFile backing the named table.
func (c *Catalog) TableNamed(name string) (DBFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ti, ok := c.fromName[name]
	if !ok {
		return nil, DBError{NoSuchTableError, fmt.Sprintf("no table named %s", name)}
	}
	return ti.file, nil
}

// DescFor returns the schema of the table with the given id.
func (c *Catalog) DescFor(id int) (*TupleDesc, error) {
	f, err := c.TableFor(id)
	if err != nil {
		return nil, err
	}
	return f.Descriptor(), nil
}

// NameFor returns the name of the table with the given id.
func (c *Catalog) NameFor(id int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ti, ok := c.fromID[id]
	if !ok {
		return "", DBError{NoSuchTableError, fmt.Sprintf("no table with id %d", id)}
	}
	return ti.name, nil
}

// IDFor returns the id of the named table.
func (c *Catalog) IDFor(name string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ti, ok := c.fromName[name]
	if !ok {
		return 0, DBError{NoSuchTableError, fmt.Sprintf("no table named %s", name)}
	}
	return ti.id, nil
}

// PrimaryKeyFor returns the primary key field name of the table with the
// given id; empty if none was declared.
func (c *Catalog) PrimaryKeyFor(id int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ti, ok := c.fromID[id]
	if !ok {
		return "", DBError{NoSuchTableError, fmt.Sprintf("no table with id %d", id)}
	}
	return ti.pkeyField, nil
}

// TableNames returns the registered table names in sorted order.
func (c *Catalog) TableNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.fromName))
	for name := range c.fromName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadSchema reads a schema file and registers a heap file for each table it
// declares. Each line has the form
//
//	name (field type, field type, ...)
//
// where type is int or string; a field may be suffixed with pk to mark the
// primary key. The backing file for table name is rootPath/name.dat.
func (c *Catalog) LoadSchema(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open schema %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		lparen := strings.Index(line, "(")
		rparen := strings.LastIndex(line, ")")
		if lparen < 1 || rparen < lparen {
			return DBError{MalformedDataError, fmt.Sprintf("schema line %d: want name (field type, ...)", lineNo)}
		}
		name := strings.TrimSpace(line[:lparen])
		var fields []FieldType
		pkey := ""
		for _, col := range strings.Split(line[lparen+1:rparen], ",") {
			parts := strings.Fields(strings.TrimSpace(col))
			if len(parts) < 2 {
				return DBError{MalformedDataError, fmt.Sprintf("schema line %d: bad column %q", lineNo, col)}
			}
			var ftype DBType
			switch strings.ToLower(parts[1]) {
			case "int":
				ftype = IntType
			case "string":
				ftype = StringType
			default:
				return DBError{MalformedDataError, fmt.Sprintf("schema line %d: unknown type %q", lineNo, parts[1])}
			}
			if len(parts) > 2 && strings.EqualFold(parts[2], "pk") {
				pkey = parts[0]
			}
			fields = append(fields, FieldType{Fname: parts[0], Ftype: ftype})
		}
		hf, err := NewHeapFile(filepath.Join(c.rootPath, name+".dat"), &TupleDesc{Fields: fields}, c.bufferPool)
		if err != nil {
			return err
		}
		if err := c.AddTable(hf, name, pkey); err != nil {
			return err
		}
	}
	return scanner.Err()
}
