// Package datarecording persists simulation artifacts into SQLite so that
// traces and access histories survive the run and can be queried after it.
package datarecording

import (
	"database/sql"
	"fmt"
	"os"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/warpsim/timing/engine"
	"github.com/sarchlab/warpsim/timing/mem"
)

// batchSize is the number of buffered rows that triggers a flush.
const batchSize = 100000

// A Recorder stores trace entries and memory accesses in a SQLite
// database. Rows buffer in memory and are written in batched
// transactions; anything still buffered flushes at exit.
type Recorder struct {
	db *sql.DB

	traceBuf  []engine.TraceEntry
	accessBuf []mem.Access
}

// New creates a Recorder backed by a SQLite file at path (a ".sqlite3"
// suffix is appended). An empty path generates a unique name.
func New(path string) *Recorder {
	if path == "" {
		path = "warpsim_recording_" + xid.New().String()
	}

	filename := path + ".sqlite3"

	_, err := os.Stat(filename)
	if err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	fmt.Fprintf(os.Stderr, "Database created for recording: %s\n", filename)

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}

	r := &Recorder{db: db}
	r.createTables()

	atexit.Register(func() { r.Flush() })

	return r
}

func (r *Recorder) createTables() {
	r.mustExecute(`CREATE TABLE trace (
	Time INTEGER,
	Event INTEGER,
	WarpID INTEGER,
	Address INTEGER,
	Data INTEGER
);`)

	r.mustExecute(`CREATE TABLE memory_access (
	Cycle INTEGER,
	Address INTEGER,
	Data INTEGER,
	IsWrite INTEGER
);`)
}

// RecordTrace buffers one trace entry.
func (r *Recorder) RecordTrace(entry engine.TraceEntry) {
	r.traceBuf = append(r.traceBuf, entry)

	if len(r.traceBuf)+len(r.accessBuf) >= batchSize {
		r.Flush()
	}
}

// RecordAccess buffers one memory access.
func (r *Recorder) RecordAccess(access mem.Access) {
	r.accessBuf = append(r.accessBuf, access)

	if len(r.traceBuf)+len(r.accessBuf) >= batchSize {
		r.Flush()
	}
}

// Flush writes all buffered rows in one transaction.
func (r *Recorder) Flush() {
	if len(r.traceBuf) == 0 && len(r.accessBuf) == 0 {
		return
	}

	r.mustExecute("BEGIN TRANSACTION")
	defer r.mustExecute("COMMIT TRANSACTION")

	if len(r.traceBuf) > 0 {
		stmt := r.mustPrepare(
			"INSERT INTO trace VALUES (?, ?, ?, ?, ?)")

		for _, e := range r.traceBuf {
			_, err := stmt.Exec(
				e.Time, int(e.Kind), e.WarpID, e.Address, e.Data)
			if err != nil {
				panic(err)
			}
		}

		stmt.Close()
		r.traceBuf = nil
	}

	if len(r.accessBuf) > 0 {
		stmt := r.mustPrepare(
			"INSERT INTO memory_access VALUES (?, ?, ?, ?)")

		for _, a := range r.accessBuf {
			_, err := stmt.Exec(a.Cycle, a.Address, a.Data, a.IsWrite)
			if err != nil {
				panic(err)
			}
		}

		stmt.Close()
		r.accessBuf = nil
	}
}

func (r *Recorder) mustExecute(query string) {
	_, err := r.db.Exec(query)
	if err != nil {
		fmt.Printf("Failed to execute: %s\n", query)
		panic(err)
	}
}

func (r *Recorder) mustPrepare(query string) *sql.Stmt {
	stmt, err := r.db.Prepare(query)
	if err != nil {
		panic(err)
	}

	return stmt
}

// RecordSimulation stores the engine's trace and the memory model's access
// history and flushes them to the database.
func RecordSimulation(r *Recorder, eng *engine.Engine) {
	for _, e := range eng.TraceEntries() {
		r.RecordTrace(e)
	}

	for _, a := range eng.Memory().AccessHistory() {
		r.RecordAccess(a)
	}

	r.Flush()
}
