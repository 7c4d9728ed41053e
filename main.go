package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/chzyer/readline"

	"github.com/skarstein/heapdb/heapdb"
)

// An interactive shell over the engine: each line of SQL is planned, run in
// its own transaction, and printed; errors abort the transaction.

func main() {
	dir := flag.String("data", "data", "directory holding table files and the log")
	schema := flag.String("schema", "", "schema file to load (name (field type, ...) per line)")
	poolPages := flag.Int("pool", 64, "buffer pool capacity in pages")
	flag.Parse()

	db, err := heapdb.NewDatabase(*dir, *poolPages)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	if *schema != "" {
		if err := db.Catalog().LoadSchema(*schema); err != nil {
			log.Fatalf("load schema: %v", err)
		}
	}

	rl, err := readline.New("heapdb> ")
	if err != nil {
		log.Fatalf("readline: %v", err)
	}
	defer rl.Close()

	fmt.Println("heapdb shell. Type SQL, \\d for tables, \\q to quit.")
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return
		}
		line = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), ";"))
		switch {
		case line == "":
			continue
		case line == `\q` || strings.EqualFold(line, "quit"):
			return
		case line == `\d`:
			for _, name := range db.Catalog().TableNames() {
				fmt.Println(name)
			}
			continue
		}
		if err := runStatement(db, line); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

func runStatement(db *heapdb.Database, query string) error {
	plan, err := heapdb.ParseStatement(db, query)
	if err != nil {
		return err
	}
	tid := heapdb.NewTID()
	if err := db.BufferPool().BeginTransaction(tid); err != nil {
		return err
	}
	iter, err := plan.Iterator(tid)
	if err != nil {
		db.BufferPool().AbortTransaction(tid)
		return err
	}
	fmt.Println(plan.Descriptor().HeaderString(true))
	rows := 0
	for {
		t, err := iter()
		if err != nil {
			db.BufferPool().AbortTransaction(tid)
			return err
		}
		if t == nil {
			break
		}
		fmt.Println(t.PrettyPrintString(true))
		rows++
	}
	if err := db.BufferPool().CommitTransaction(tid); err != nil {
		return err
	}
	fmt.Printf("(%d rows)\n", rows)
	return nil
}
