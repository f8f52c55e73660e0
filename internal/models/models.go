// Package models defines the persisted row shapes shared by the store and
// transport layers.
package models

import "github.com/google/uuid"

// Document is the externally-owned row identifying a collaborative
// document and its cached canonical state vector.
type Document struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Name        string    `json:"name"`
	StateVector []byte    `json:"state_vector,omitempty"` // nullable: nil means no updates persisted yet
}

// DocumentUpdate is one row of the append-only per-document update log.
type DocumentUpdate struct {
	DocumentID uuid.UUID `json:"document_id"`
	Clock      int64     `json:"clock"`
	Value      []byte    `json:"value"` // CRDT update bytes, message-type tag already stripped
}
