// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package status

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/plughost/internal/protocol"
)

func TestTable_LastUpdateWins(t *testing.T) {
	table := NewTable()
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	table.Fold(protocol.StatusUpdate{PluginID: "p", Data: "A", Time: t0, Source: protocol.SourceProcess})
	table.Fold(protocol.StatusUpdate{PluginID: "p", Data: "B", Time: t0.Add(time.Second), Source: protocol.SourceProcess})

	rec := table.Get("p")
	assert.Equal(t, "B", rec.Status)
	assert.Equal(t, t0.Add(time.Second), rec.UpdatedAt)
	assert.Equal(t, protocol.SourceProcess, rec.Source)
}

func TestTable_GetUnknown(t *testing.T) {
	rec := NewTable().Get("ghost")
	assert.Equal(t, "ghost", rec.PluginID)
	assert.Nil(t, rec.Status)
	assert.True(t, rec.Empty())
}

func TestTable_FoldStampsMissingTime(t *testing.T) {
	table := NewTable()
	rec := table.Fold(protocol.StatusUpdate{PluginID: "p", Data: 1})
	assert.False(t, rec.Empty())
	assert.WithinDuration(t, time.Now(), rec.UpdatedAt, time.Second)
}

func TestTable_AllReturnsCopy(t *testing.T) {
	table := NewTable()
	table.Fold(protocol.StatusUpdate{PluginID: "a", Data: 1})
	table.Fold(protocol.StatusUpdate{PluginID: "b", Data: 2})

	all := table.All()
	require.Len(t, all, 2)
	delete(all, "a")
	assert.Len(t, table.All(), 2)
	assert.False(t, table.Get("a").Empty(), "snapshot is a copy")
}

func TestTable_ConcurrentFold(t *testing.T) {
	table := NewTable()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			table.Fold(protocol.StatusUpdate{PluginID: "p", Data: i})
			_ = table.All()
		}()
	}
	wg.Wait()
	assert.IsType(t, 0, table.Get("p").Status)
}
