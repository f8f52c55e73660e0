// Package store is the Postgres-backed update log. It owns the two
// tables the Syncer treats as its durable half: documents and their
// cached state vector, and the append-only document_updates log keyed
// by per-document clock.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ruvnet/collabsync/internal/config"
	"github.com/ruvnet/collabsync/internal/crdt"
	"github.com/ruvnet/collabsync/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrDocumentNotFound is returned by GetDocument when no row matches.
var ErrDocumentNotFound = errors.New("store: document not found")

// Store is the data access layer for documents and their update log.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open connects to Postgres using cfg and applies the embedded migrations.
func Open(cfg *config.Config, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	logger.Info("database connection established")
	return s, nil
}

// NewWithDB wraps an already-open *sql.DB, bypassing migrations. Used by
// tests that drive a stub driver instead of a live Postgres instance.
func NewWithDB(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

func (s *Store) migrate() error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}
	for _, entry := range entries {
		body, err := migrations.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(string(body)); err != nil {
			return fmt.Errorf("applying %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// HealthCheck reports whether the database is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetDocument loads the document row a Syncer or upgrade handler needs:
// its owner (for the authorization check) and its cached state vector
// (to seed a freshly created Syncer). Returns ErrDocumentNotFound if no
// row matches id.
func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	doc := &models.Document{}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, state_vector FROM documents WHERE id = $1`, id)

	if err := row.Scan(&doc.ID, &doc.Name, &doc.OwnerID, &doc.StateVector); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return doc, nil
}

// StoreUpdate appends a CRDT update to the document's log and advances
// its cached state vector, all within one transaction, implementing the
// store-update procedure: select the current max clock, insert at
// clock+1, and persist the merged state vector alongside it.
//
// update is the raw CRDT update with its wire tag byte already
// stripped. currentSV is the Syncer's in-memory state vector prior to
// this update. On success it returns the new canonical state vector the
// Syncer should adopt. On a clock conflict (a concurrent writer won the
// race for this clock value — which should not happen under the
// single-owner-per-document assumption, but is handled defensively) it
// returns ErrClockConflict and the Syncer must not advance its
// in-memory state.
func (s *Store) StoreUpdate(ctx context.Context, documentID uuid.UUID, currentSV crdt.StateVector, update []byte) (crdt.StateVector, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var maxClock sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(clock) FROM document_updates WHERE document_id = $1`, documentID,
	).Scan(&maxClock); err != nil {
		return nil, err
	}
	clock := int64(0)
	if maxClock.Valid {
		clock = maxClock.Int64 + 1
	}

	decoded, err := crdt.DecodeUpdate(update)
	if err != nil {
		return nil, fmt.Errorf("store: decode update: %w", err)
	}
	newSV := currentSV.Clone().Merge(decoded.StateVector())

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO document_updates(document_id, clock, value) VALUES ($1, $2, $3)`,
		documentID, clock, update,
	); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrClockConflict
		}
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET state_vector = $2 WHERE id = $1`,
		documentID, newSV.Encode(),
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return newSV, nil
}

// ErrClockConflict is returned by StoreUpdate when a concurrent writer
// already claimed the next clock value for this document.
var ErrClockConflict = errors.New("store: clock conflict")

// isUniqueViolation reports whether err is a Postgres unique-key
// violation (SQLSTATE 23505), matched loosely on driver error text since
// the stub driver used in tests does not implement lib/pq's richer
// *pq.Error type.
func isUniqueViolation(err error) bool {
	return err != nil && (containsAny(err.Error(), "23505", "unique", "duplicate"))
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if len(sub) <= len(s) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

// LoadUpdates returns every persisted update for documentID ordered by
// clock, the input to diff computation per the diff-computation
// procedure.
func (s *Store) LoadUpdates(ctx context.Context, documentID uuid.UUID) ([]*crdt.Update, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT value FROM document_updates WHERE document_id = $1 ORDER BY clock ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var updates []*crdt.Update
	for rows.Next() {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		update, err := crdt.DecodeUpdate(value)
		if err != nil {
			return nil, fmt.Errorf("store: decode logged update: %w", err)
		}
		updates = append(updates, update)
	}
	return updates, rows.Err()
}

// ComputeDiff implements the diff-computation procedure: load every
// persisted update for documentID, merge them, and diff against the
// peer's state vector. Returns an empty payload if the document has no
// persisted updates.
func (s *Store) ComputeDiff(ctx context.Context, documentID uuid.UUID, peerSV crdt.StateVector) ([]byte, error) {
	updates, err := s.LoadUpdates(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return []byte{}, nil
	}
	doc := crdt.Merge(updates)
	return crdt.Diff(doc.MergedUpdate(), peerSV), nil
}
