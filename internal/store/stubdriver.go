package store

// An in-memory database/sql/driver stub used only by this package's
// tests. The pack this module was built against carries no sqlmock-style
// dependency, so the store's transactional contract (clock assignment,
// unique-key conflict handling, state-vector persistence) is exercised
// here against a minimal hand-rolled driver implementing exactly the
// subset of database/sql/driver this package's queries need, rather than
// against a live Postgres instance.

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
)

type docRow struct {
	id, name, ownerID string
	stateVector       []byte
}

type updateRow struct {
	documentID string
	clock      int64
	value      []byte
}

// stubDB backs the "collabsync_stub" driver registered by openStub. It holds
// just enough relational state to answer the exact queries store.go
// issues.
type stubDB struct {
	mu        sync.Mutex
	documents map[string]*docRow
	updates   []updateRow
}

func newStubDB() *stubDB {
	return &stubDB{documents: make(map[string]*docRow)}
}

type stubConn struct {
	db *stubDB
	tx *stubTx
}

func (c *stubConn) Prepare(query string) (driver.Stmt, error) {
	return &stubStmt{conn: c, query: query}, nil
}

func (c *stubConn) Close() error { return nil }

func (c *stubConn) Begin() (driver.Tx, error) {
	tx := &stubTx{conn: c}
	c.tx = tx
	return tx, nil
}

type stubTx struct {
	conn *stubConn
}

func (t *stubTx) Commit() error   { t.conn.tx = nil; return nil }
func (t *stubTx) Rollback() error { t.conn.tx = nil; return nil }

type stubStmt struct {
	conn  *stubConn
	query string
}

func (s *stubStmt) Close() error  { return nil }
func (s *stubStmt) NumInput() int { return -1 }

func (s *stubStmt) Exec(args []driver.Value) (driver.Result, error) {
	db := s.conn.db
	db.mu.Lock()
	defer db.mu.Unlock()

	q := normalize(s.query)
	switch {
	case strings.HasPrefix(q, "insert into document_updates"):
		documentID := args[0].(string)
		clock := args[1].(int64)
		value := args[2].([]byte)
		for _, u := range db.updates {
			if u.documentID == documentID && u.clock == clock {
				return nil, errors.New("pq: duplicate key value violates unique constraint (23505)")
			}
		}
		db.updates = append(db.updates, updateRow{documentID: documentID, clock: clock, value: value})
		return driver.RowsAffected(1), nil

	case strings.HasPrefix(q, "update documents set state_vector"):
		id := args[0].(string)
		sv := args[1].([]byte)
		if doc, ok := db.documents[id]; ok {
			doc.stateVector = sv
		}
		return driver.RowsAffected(1), nil

	case strings.HasPrefix(q, "insert into documents"):
		id := args[0].(string)
		name := args[1].(string)
		owner := args[2].(string)
		db.documents[id] = &docRow{id: id, name: name, ownerID: owner}
		return driver.RowsAffected(1), nil

	case strings.HasPrefix(q, "create table") || strings.HasPrefix(q, "create index"):
		return driver.RowsAffected(0), nil
	}
	return nil, errors.New("stub: unsupported exec query: " + s.query)
}

func (s *stubStmt) Query(args []driver.Value) (driver.Rows, error) {
	db := s.conn.db
	db.mu.Lock()
	defer db.mu.Unlock()

	q := normalize(s.query)
	switch {
	case strings.HasPrefix(q, "select id, name, owner_id, state_vector"):
		id := args[0].(string)
		doc, ok := db.documents[id]
		if !ok {
			return &stubRows{}, nil
		}
		return &stubRows{
			cols: []string{"id", "name", "owner_id", "state_vector"},
			data: [][]driver.Value{{doc.id, doc.name, doc.ownerID, doc.stateVector}},
		}, nil

	case strings.HasPrefix(q, "select max(clock)"):
		documentID := args[0].(string)
		var max *int64
		for _, u := range db.updates {
			if u.documentID != documentID {
				continue
			}
			if max == nil || u.clock > *max {
				c := u.clock
				max = &c
			}
		}
		var v driver.Value
		if max != nil {
			v = *max
		}
		return &stubRows{cols: []string{"max"}, data: [][]driver.Value{{v}}}, nil

	case strings.HasPrefix(q, "select value from document_updates"):
		documentID := args[0].(string)
		var rows [][]driver.Value
		ordered := make([]updateRow, len(db.updates))
		copy(ordered, db.updates)
		sortUpdates(ordered)
		for _, u := range ordered {
			if u.documentID == documentID {
				rows = append(rows, []driver.Value{u.value})
			}
		}
		return &stubRows{cols: []string{"value"}, data: rows}, nil
	}
	return nil, errors.New("stub: unsupported query: " + s.query)
}

func sortUpdates(rows []updateRow) {
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rows[j-1].clock > rows[j].clock; j-- {
			rows[j-1], rows[j] = rows[j], rows[j-1]
		}
	}
}

func normalize(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

type stubRows struct {
	cols []string
	data [][]driver.Value
	pos  int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.pos])
	r.pos++
	return nil
}

var registerOnce sync.Once

var stubDriverInstance = &stubRegistryDriver{}

// openStub registers the stub driver (once per process) and opens a
// fresh in-memory database under a unique DSN so tests don't share
// state. It also returns the backing stubDB so tests can seed document
// rows directly without going through SQL.
func openStub(dsn string) (*sql.DB, *stubDB) {
	registerOnce.Do(func() {
		sql.Register("collabsync_stub", stubDriverInstance)
	})
	db, err := sql.Open("collabsync_stub", dsn)
	if err != nil {
		panic(err)
	}
	stubDriverInstance.mu.Lock()
	if stubDriverInstance.dbs == nil {
		stubDriverInstance.dbs = make(map[string]*stubDB)
	}
	backing, ok := stubDriverInstance.dbs[dsn]
	if !ok {
		backing = newStubDB()
		stubDriverInstance.dbs[dsn] = backing
	}
	stubDriverInstance.mu.Unlock()
	return db, backing
}

// stubRegistryDriver hands out a fresh stubDB per DSN the first time it
// is seen, and the same one on subsequent opens with that DSN — mirrors
// how a real driver keyed by DSN would behave within one process.
type stubRegistryDriver struct {
	mu  sync.Mutex
	dbs map[string]*stubDB
}

func (d *stubRegistryDriver) Open(name string) (driver.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dbs == nil {
		d.dbs = make(map[string]*stubDB)
	}
	db, ok := d.dbs[name]
	if !ok {
		db = newStubDB()
		d.dbs[name] = db
	}
	return &stubConn{db: db}, nil
}

// seedDocument inserts a document row directly, bypassing SQL, for test
// setup.
func (d *stubDB) seedDocument(id, name, ownerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.documents[id] = &docRow{id: id, name: name, ownerID: ownerID}
}
