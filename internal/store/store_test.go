package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ruvnet/collabsync/internal/crdt"
)

func newTestStore(t *testing.T) (*Store, *stubDB) {
	db, backing := openStub(t.Name())
	return NewWithDB(db, zaptest.NewLogger(t)), backing
}

func TestGetDocumentNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.GetDocument(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestGetDocumentReturnsRow(t *testing.T) {
	s, backing := newTestStore(t)
	id := uuid.New()
	owner := uuid.New()
	backing.seedDocument(id.String(), "design doc", owner.String())

	doc, err := s.GetDocument(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, doc.ID)
	assert.Equal(t, owner, doc.OwnerID)
	assert.Equal(t, "design doc", doc.Name)
}

func TestStoreUpdateAssignsSequentialClocks(t *testing.T) {
	s, backing := newTestStore(t)
	id := uuid.New()
	backing.seedDocument(id.String(), "doc", uuid.New().String())

	b := crdt.NewBuilder("client-a")
	b.InsertString("a")
	u0 := b.Build().Encode()
	b.InsertString("b")
	u1 := b.Build().Encode()
	b.InsertString("c")
	u2 := b.Build().Encode()

	sv := crdt.StateVector{}
	ctx := context.Background()

	sv, err := s.StoreUpdate(ctx, id, sv, u0)
	require.NoError(t, err)
	sv, err = s.StoreUpdate(ctx, id, sv, u1)
	require.NoError(t, err)
	sv, err = s.StoreUpdate(ctx, id, sv, u2)
	require.NoError(t, err)

	assert.Equal(t, uint64(3), sv["client-a"])

	updates, err := s.LoadUpdates(ctx, id)
	require.NoError(t, err)
	require.Len(t, updates, 3)
}

func TestComputeDiffReturnsEmptyForDocumentWithNoUpdates(t *testing.T) {
	s, _ := newTestStore(t)
	diff, err := s.ComputeDiff(context.Background(), uuid.New(), crdt.StateVector{})
	require.NoError(t, err)
	decoded, err := crdt.DecodeUpdate(diff)
	require.NoError(t, err)
	assert.Empty(t, decoded.Ops)
}

func TestComputeDiffReturnsEverythingForEmptyPeerStateVector(t *testing.T) {
	s, backing := newTestStore(t)
	id := uuid.New()
	backing.seedDocument(id.String(), "doc", uuid.New().String())

	b := crdt.NewBuilder("client-a")
	b.InsertString("hi")
	_, err := s.StoreUpdate(context.Background(), id, crdt.StateVector{}, b.Build().Encode())
	require.NoError(t, err)

	diff, err := s.ComputeDiff(context.Background(), id, crdt.StateVector{})
	require.NoError(t, err)
	decoded, err := crdt.DecodeUpdate(diff)
	require.NoError(t, err)
	assert.Len(t, decoded.Ops, 2)
}
