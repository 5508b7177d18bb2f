//go:build integration

package database

import (
	"context"
	"testing"

	"github.com/cloo-solutions/lightrag/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateAndConnect(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	version, err := Migrate(ctx, pc.ConnectionString())
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)

	again, err := Migrate(ctx, pc.ConnectionString())
	require.NoError(t, err)
	assert.Equal(t, version, again)

	pool, err := NewPool(ctx, Config{URL: pc.ConnectionString(), MaxConns: 2})
	require.NoError(t, err)
	defer pool.Close()

	var tables int
	err = pool.QueryRow(ctx, `
		SELECT count(*) FROM information_schema.tables
		WHERE table_name IN ('documents', 'chunks', 'index_meta')`).Scan(&tables)
	require.NoError(t, err)
	assert.Equal(t, 3, tables)
}

func TestNewPool_InvalidURL(t *testing.T) {
	_, err := NewPool(context.Background(), Config{URL: "::not a url::"})
	assert.Error(t, err)
}
