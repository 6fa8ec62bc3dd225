//go:build integration

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/plughost/internal/store"
)

func TestMigrator_FullCycle(t *testing.T) {
	ctx := context.Background()
	connStr, terminate := startPostgres(ctx, t)
	defer terminate()

	migrator, err := store.NewMigrator(connStr)
	require.NoError(t, err)
	defer migrator.Close()

	version, dirty, err := migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	pending, err := migrator.PendingMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, pending)

	require.NoError(t, migrator.Up())
	version, dirty, err = migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, pending[len(pending)-1], version)
	assert.False(t, dirty)
	latest := version

	require.NoError(t, migrator.Steps(-1))
	version, _, err = migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, latest-1, version, "Steps(-1) should roll back one version")

	require.NoError(t, migrator.Steps(1))
	require.NoError(t, migrator.Down())
	version, _, err = migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version, "Down() should roll back to version 0")

	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Force(1))
	version, dirty, err = migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}
