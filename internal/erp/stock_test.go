package erp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStockValidatorReportsEveryShortage(t *testing.T) {
	fake, client := newFakeERP(t)
	fake.reply(ModelProduct, "search_read", []map[string]any{
		{"id": 1, "default_code": "A", "barcode": false},
		{"id": 2, "default_code": false, "barcode": "B"},
	})
	fake.reply(ModelQuant, "search_read", []map[string]any{
		{"product_id": []any{1, "A"}, "quantity": 10, "reserved_quantity": 3},
		{"product_id": []any{2, "B"}, "quantity": 5, "reserved_quantity": 0},
		{"product_id": []any{2, "B"}, "quantity": 5.5, "reserved_quantity": 0},
	})

	validator := NewStockValidator(client)
	shortages, err := validator.Check(context.Background(), "WH-A", 9, map[string]int{"A": 8, "B": 4, "C": 1})
	require.NoError(t, err)
	require.Equal(t, []Shortage{
		{Code: "A", Requested: 8, Available: 7},
		{Code: "C", Requested: 1, Available: 0},
	}, shortages)

	call, ok := fake.lastCall(ModelQuant, "search_read")
	require.True(t, ok)
	domain := call.Args[0].([]any)
	require.Equal(t, []any{"location_id", "child_of", float64(9)}, domain[1])
	require.Zero(t, fake.called(ModelLocation, "search"))
}

func TestStockValidatorSumsCodesOfOneProduct(t *testing.T) {
	fake, client := newFakeERP(t)
	fake.reply(ModelProduct, "search_read", []map[string]any{
		{"id": 1, "default_code": "X", "barcode": "7501234"},
	})
	fake.reply(ModelQuant, "search_read", []map[string]any{
		{"product_id": []any{1, "X"}, "quantity": 10, "reserved_quantity": 0},
	})

	shortages, err := NewStockValidator(client).Check(context.Background(), "WH-A", 9, map[string]int{"X": 6, "7501234": 6})
	require.NoError(t, err)
	require.Equal(t, []Shortage{
		{Code: "7501234", Requested: 6, Available: 10},
		{Code: "X", Requested: 6, Available: 10},
	}, shortages)

	shortages, err = NewStockValidator(client).Check(context.Background(), "WH-A", 9, map[string]int{"X": 6, "7501234": 4})
	require.NoError(t, err)
	require.Empty(t, shortages)
}

func TestStockValidatorFeasibleRequest(t *testing.T) {
	fake, client := newFakeERP(t)
	fake.reply(ModelProduct, "search_read", []map[string]any{{"id": 1, "default_code": "A", "barcode": false}})
	fake.reply(ModelLocation, "search", []int64{12})
	fake.reply(ModelQuant, "search_read", []map[string]any{
		{"product_id": []any{1, "A"}, "quantity": 20, "reserved_quantity": 0},
	})

	shortages, err := NewStockValidator(client).Check(context.Background(), "WH-A", 0, map[string]int{"A": 20})
	require.NoError(t, err)
	require.Empty(t, shortages)
	require.Equal(t, 1, fake.called(ModelLocation, "search"))
}

func TestStockValidatorUnknownLocation(t *testing.T) {
	fake, client := newFakeERP(t)
	fake.reply(ModelProduct, "search_read", []map[string]any{})
	fake.reply(ModelLocation, "search", []int64{})

	_, err := NewStockValidator(client).Check(context.Background(), "NOWHERE", 0, map[string]int{"A": 1})
	require.ErrorIs(t, err, ErrLocationUnmapped)
}
