package database

import (
	"context"
	"dataquality-service/service/config"
	"dataquality-service/service/models"
	"dataquality-service/testutil"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_CountAndRecords(t *testing.T) {
	testDB := testutil.NewTestDB()
	defer testDB.Close()
	testutil.NewTestDataFactory(testDB.DB).CreateEntityTable("orders", []string{"id", "code", "amount"}, []models.Row{
		{"id": 3, "code": "C", "amount": 30.5},
		{"id": 1, "code": "A", "amount": 10},
		{"id": 2, "code": nil, "amount": 20},
	})

	store := NewLocalStore(testDB.DB)
	store.batchSize = 2
	entity := &config.EntityConfig{Name: "orders", LocalTable: "orders", KeyField: "id"}

	count, err := store.Count(context.Background(), entity)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	rows, err := store.Records(context.Background(), entity, []string{"code"})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.EqualValues(t, 1, rows[0]["id"])
	assert.Equal(t, "A", rows[0]["code"])
	assert.Nil(t, rows[1]["code"])
	_, hasAmount := rows[0]["amount"]
	assert.False(t, hasAmount)
}

func TestLocalStore_UnknownTable(t *testing.T) {
	testDB := testutil.NewTestDB()
	defer testDB.Close()

	_, err := NewLocalStore(testDB.DB).Count(context.Background(), &config.EntityConfig{Name: "ghost", LocalTable: "ghost"})
	assert.Error(t, err)
}

func TestQuoteTable(t *testing.T) {
	assert.Equal(t, `"orders"`, quoteTable("orders"))
	assert.Equal(t, `"public"."orders"`, quoteTable("public.orders"))
	assert.Equal(t, `"we""ird"`, quoteTable(`we"ird`))
}
