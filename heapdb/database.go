package heapdb

import (
	"fmt"
	"os"
	"path/filepath"
)

// Database bundles the engine's constructed-once services: the buffer pool,
// the catalog, and the write-ahead log. Everything that needs one of them is
// handed the reference explicitly; there is no process-wide mutable state,
// so tests reset by building a fresh Database.
type Database struct {
	bufferPool *BufferPool
	catalog    *Catalog
	logFile    *LogFile
}

// NewDatabase creates an engine rooted at dir with a pool of poolPages
// pages. Table files and the log (heapdb.log) live under dir, which is
// created if missing.
func NewDatabase(dir string, poolPages int) (*Database, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database dir %s: %w", dir, err)
	}
	bp, err := NewBufferPool(poolPages)
	if err != nil {
		return nil, err
	}
	catalog := NewCatalog(bp, dir)
	logFile, err := NewLogFile(filepath.Join(dir, "heapdb.log"), catalog)
	if err != nil {
		return nil, err
	}
	bp.logFile = logFile
	return &Database{bufferPool: bp, catalog: catalog, logFile: logFile}, nil
}

// BufferPool returns the database's page cache.
func (db *Database) BufferPool() *BufferPool {
	return db.bufferPool
}

// Catalog returns the database's table registry.
func (db *Database) Catalog() *Catalog {
	return db.catalog
}

// LogFile returns the database's write-ahead log.
func (db *Database) LogFile() *LogFile {
	return db.logFile
}
