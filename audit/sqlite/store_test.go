// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/absmach/virgil/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RecordAndList(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "nested", "audit.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	first := audit.NewEntry(audit.OpRepublish, "orders", "fp-1")
	first.Time = base
	first.Success = true
	second := audit.NewEntry(audit.OpAck, "orders", "fp-2")
	second.Time = base.Add(time.Second)
	second.Detail = "message not found"

	require.NoError(t, store.Record(ctx, first))
	require.NoError(t, store.Record(ctx, second))

	entries, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, second.ID, entries[0].ID)
	assert.False(t, entries[0].Success)
	assert.Equal(t, "message not found", entries[0].Detail)
	assert.Equal(t, audit.OpRepublish, entries[1].Operation)
	assert.True(t, entries[1].Success)
	assert.True(t, entries[1].Time.Equal(base))

	entries, err = store.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_DuplicateID(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer store.Close()

	e := audit.NewEntry(audit.OpDropAll, "orders", "")
	require.NoError(t, store.Record(context.Background(), e))
	assert.Error(t, store.Record(context.Background(), e))
}

func TestStore_EmptyPath(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
}

func TestStore_Closed(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	err = store.Record(context.Background(), audit.NewEntry(audit.OpAck, "q", "fp"))
	assert.ErrorIs(t, err, audit.ErrClosed)
}
