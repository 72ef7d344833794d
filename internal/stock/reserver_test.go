package stock

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCounter struct {
	counts     map[int64]int
	failing    bool
	reserveLog []int64
	releaseLog []int64
	commitLog  []int64
}

func newFakeCounter(counts map[int64]int) *fakeCounter {
	return &fakeCounter{counts: counts}
}

func (f *fakeCounter) ReserveStock(_ context.Context, stockUnitID int64, quantity int) (bool, error) {
	if f.failing {
		return false, errors.New("connection refused")
	}
	if f.counts[stockUnitID] < quantity {
		return false, nil
	}
	f.counts[stockUnitID] -= quantity
	f.reserveLog = append(f.reserveLog, stockUnitID)
	return true, nil
}

func (f *fakeCounter) ReleaseStock(_ context.Context, stockUnitID int64, quantity int) error {
	f.counts[stockUnitID] += quantity
	f.releaseLog = append(f.releaseLog, stockUnitID)
	return nil
}

func (f *fakeCounter) CommitStock(_ context.Context, stockUnitID int64, _ int) error {
	f.commitLog = append(f.commitLog, stockUnitID)
	return nil
}

type fakeReservationStore struct {
	reserveErr error
	open       map[int64][]Item
}

func newFakeReservationStore() *fakeReservationStore {
	return &fakeReservationStore{open: make(map[int64][]Item)}
}

func (f *fakeReservationStore) ReserveStockTx(_ context.Context, paymentID int64, items []Item) error {
	if f.reserveErr != nil {
		return f.reserveErr
	}
	f.open[paymentID] = items
	return nil
}

func (f *fakeReservationStore) CancelReservationTx(_ context.Context, paymentID int64) ([]Item, error) {
	items := f.open[paymentID]
	delete(f.open, paymentID)
	return items, nil
}

func (f *fakeReservationStore) CommitStockTx(_ context.Context, paymentID int64) ([]Item, error) {
	items := f.open[paymentID]
	delete(f.open, paymentID)
	return items, nil
}

func TestReserveHoldsAllItems(t *testing.T) {
	counter := newFakeCounter(map[int64]int{1001: 5, 2001: 3})
	db := newFakeReservationStore()
	svc := NewService(db, counter)

	items := []Item{
		{ProductID: 100, StockUnitID: 1001, Quantity: 2},
		{ProductID: 200, StockUnitID: 2001, Quantity: 1},
	}
	require.NoError(t, svc.Reserve(context.Background(), 7, items))

	assert.Equal(t, items, db.open[7])
	assert.Equal(t, 3, counter.counts[1001])
	assert.Equal(t, 2, counter.counts[2001])
}

func TestReserveRejectsWhenCounterShort(t *testing.T) {
	counter := newFakeCounter(map[int64]int{1001: 5, 2001: 0})
	db := newFakeReservationStore()
	svc := NewService(db, counter)

	err := svc.Reserve(context.Background(), 7, []Item{
		{ProductID: 100, StockUnitID: 1001, Quantity: 2},
		{ProductID: 200, StockUnitID: 2001, Quantity: 1},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	// the already-taken counter is rolled back, nothing reaches the DB
	assert.Equal(t, 5, counter.counts[1001])
	assert.Empty(t, db.open)
}

func TestReserveFallsBackWhenRedisDown(t *testing.T) {
	counter := newFakeCounter(map[int64]int{})
	counter.failing = true
	db := newFakeReservationStore()
	svc := NewService(db, counter)

	items := []Item{{ProductID: 100, StockUnitID: 1001, Quantity: 2}}
	require.NoError(t, svc.Reserve(context.Background(), 7, items))
	assert.Equal(t, items, db.open[7])
}

func TestReserveRollsBackCountersOnDBFailure(t *testing.T) {
	counter := newFakeCounter(map[int64]int{1001: 5})
	db := newFakeReservationStore()
	db.reserveErr = ErrInsufficientStock
	svc := NewService(db, counter)

	err := svc.Reserve(context.Background(), 7, []Item{
		{ProductID: 100, StockUnitID: 1001, Quantity: 2},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 5, counter.counts[1001])
}

func TestCancelReservationIsIdempotent(t *testing.T) {
	counter := newFakeCounter(map[int64]int{1001: 3})
	db := newFakeReservationStore()
	svc := NewService(db, counter)

	items := []Item{{ProductID: 100, StockUnitID: 1001, Quantity: 2}}
	require.NoError(t, svc.Reserve(context.Background(), 7, items))
	assert.Equal(t, 1, counter.counts[1001])

	require.NoError(t, svc.CancelReservation(context.Background(), 7))
	assert.Equal(t, 3, counter.counts[1001])

	// second cancel finds no open rows and touches nothing
	require.NoError(t, svc.CancelReservation(context.Background(), 7))
	assert.Equal(t, 3, counter.counts[1001])
	assert.Len(t, counter.releaseLog, 1)
}

func TestCommitReservationIsIdempotent(t *testing.T) {
	counter := newFakeCounter(map[int64]int{1001: 3})
	db := newFakeReservationStore()
	svc := NewService(db, counter)

	items := []Item{{ProductID: 100, StockUnitID: 1001, Quantity: 2}}
	require.NoError(t, svc.Reserve(context.Background(), 7, items))

	require.NoError(t, svc.CommitReservation(context.Background(), 7))
	assert.Empty(t, db.open)
	assert.Len(t, counter.commitLog, 1)

	// replayed commit finds no open rows and touches nothing
	require.NoError(t, svc.CommitReservation(context.Background(), 7))
	assert.Len(t, counter.commitLog, 1)
}
