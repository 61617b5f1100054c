package products

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pehlione.com/settlement/internal/shared/dbtest"
)

func setupRepo(t *testing.T) *Repo {
	db := dbtest.Open(t, &Product{}, &Variant{})
	return NewRepo(db)
}

func TestReadStock(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)

	p, err := repo.CreateProduct(ctx, "Mug", "mug", decimal.NewFromInt(10), 7)
	require.NoError(t, err)
	v, err := repo.AddVariant(ctx, p.ID, "MUG-RED", decimal.NewFromInt(12), 3)
	require.NoError(t, err)

	got, err := repo.ReadStock(ctx, StockRef{ProductID: p.ID})
	require.NoError(t, err)
	assert.Equal(t, 7, got)

	got, err = repo.ReadStock(ctx, StockRef{ProductID: p.ID, VariantID: v.ID})
	require.NoError(t, err)
	assert.Equal(t, 3, got)

	_, err = repo.ReadStock(ctx, StockRef{ProductID: "missing"})
	assert.ErrorIs(t, err, ErrProductNotFound)

	_, err = repo.ReadStock(ctx, StockRef{})
	assert.ErrorIs(t, err, ErrInvalidRef)
}

func TestSwapStock_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)

	p, err := repo.CreateProduct(ctx, "Mug", "mug", decimal.NewFromInt(10), 7)
	require.NoError(t, err)
	ref := StockRef{ProductID: p.ID}

	ok, err := repo.SwapStock(ctx, ref, 7, 5, false)
	require.NoError(t, err)
	assert.True(t, ok)

	// stale expectation loses
	ok, err = repo.SwapStock(ctx, ref, 7, 1, false)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.ReadStock(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 5, got)
}

func TestSwapStock_VariantActiveFlag(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)

	p, err := repo.CreateProduct(ctx, "Shirt", "shirt", decimal.NewFromInt(20), 0)
	require.NoError(t, err)
	v, err := repo.AddVariant(ctx, p.ID, "SHIRT-M", decimal.NewFromInt(20), 2)
	require.NoError(t, err)
	ref := StockRef{ProductID: p.ID, VariantID: v.ID}

	ok, err := repo.SwapStock(ctx, ref, 2, 0, false)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := repo.GetVariant(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Stock)
	assert.False(t, got.IsActive)

	// positive stock without reactivate keeps the variant off
	ok, err = repo.SwapStock(ctx, ref, 0, 1, false)
	require.NoError(t, err)
	require.True(t, ok)
	got, _ = repo.GetVariant(ctx, v.ID)
	assert.False(t, got.IsActive)

	ok, err = repo.SwapStock(ctx, ref, 1, 3, true)
	require.NoError(t, err)
	require.True(t, ok)
	got, _ = repo.GetVariant(ctx, v.ID)
	assert.Equal(t, 3, got.Stock)
	assert.True(t, got.IsActive)
}

func TestSwapStock_ClampsNegative(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)

	p, err := repo.CreateProduct(ctx, "Pen", "pen", decimal.NewFromInt(1), 1)
	require.NoError(t, err)

	ok, err := repo.SwapStock(ctx, StockRef{ProductID: p.ID}, 1, -4, false)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := repo.ReadStock(ctx, StockRef{ProductID: p.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, got)
}

func TestCreateProduct_DerivesSlug(t *testing.T) {
	repo := setupRepo(t)

	p, err := repo.CreateProduct(context.Background(), "  Blue Mug (XL) ", "", decimal.NewFromInt(10), 1)
	require.NoError(t, err)
	assert.Equal(t, "blue-mug-xl", p.Slug)
}
