//go:build unit

package stock_test

import (
	"bytes"
	"testing"
	"time"

	"storefront/internal/domain/stock"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveRequest_Normalize(t *testing.T) {
	x, y := uuid.New(), uuid.New()

	t.Run("merges duplicates and sorts by product", func(t *testing.T) {
		req, err := stock.ReserveRequest{Lines: []stock.Line{
			{ProductID: x, Quantity: 1},
			{ProductID: y, Quantity: 2},
			{ProductID: x, Quantity: 3},
		}}.Normalize()
		require.NoError(t, err)
		require.Len(t, req.Lines, 2)
		assert.True(t, bytes.Compare(req.Lines[0].ProductID[:], req.Lines[1].ProductID[:]) < 0)

		got := map[uuid.UUID]int{}
		for _, l := range req.Lines {
			got[l.ProductID] = l.Quantity
		}
		assert.Equal(t, map[uuid.UUID]int{x: 4, y: 2}, got)
	})

	t.Run("rejects empty and non-positive lines", func(t *testing.T) {
		_, err := stock.ReserveRequest{}.Normalize()
		assert.ErrorIs(t, err, stock.ErrNoLines)

		_, err = stock.ReserveRequest{Lines: []stock.Line{{ProductID: x, Quantity: 0}}}.Normalize()
		assert.ErrorIs(t, err, stock.ErrInvalidQuantity)
	})
}

func TestReservation_Expired(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	r := &stock.Reservation{Status: stock.StatusReserved, ExpiresAt: now}

	assert.False(t, r.Expired(now.Add(-time.Second)))
	assert.True(t, r.Expired(now))

	r.Status = stock.StatusCommitted
	assert.False(t, r.Expired(now.Add(time.Hour)), "only live reservations expire")
}

func TestInsufficientStockError(t *testing.T) {
	id := uuid.New()
	err := &stock.InsufficientStockError{Shortages: []stock.Shortage{{ProductID: id, Requested: 2, Available: 1}}}
	assert.Contains(t, err.Error(), id.String())
	assert.Contains(t, err.Error(), "requested=2 available=1")
}
