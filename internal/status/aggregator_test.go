// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package status

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/holomush/plughost/internal/protocol"
)

func TestAggregator_DrainOnceFoldsInOrder(t *testing.T) {
	ch := make(chan protocol.StatusUpdate, 4)
	ch <- protocol.StatusUpdate{PluginID: "p", Data: "A", Source: protocol.SourceProcess}
	ch <- protocol.StatusUpdate{PluginID: "p", Data: "B", Source: protocol.SourceProcess}

	agg := NewAggregator(NewTable())
	agg.Add("p", ch)

	assert.Equal(t, 2, agg.DrainOnce(context.Background()))
	assert.Equal(t, "B", agg.Table().Get("p").Status)
	assert.Equal(t, 0, agg.DrainOnce(context.Background()))
}

func TestAggregator_FillsMissingPluginID(t *testing.T) {
	ch := make(chan protocol.StatusUpdate, 1)
	ch <- protocol.StatusUpdate{Data: "up"}
	agg := NewAggregator(NewTable())
	agg.Add("p", ch)

	agg.DrainOnce(context.Background())
	assert.Equal(t, "up", agg.Table().Get("p").Status)
}

func TestAggregator_ChannelOwnsItsRecord(t *testing.T) {
	a := make(chan protocol.StatusUpdate, 1)
	a <- protocol.StatusUpdate{PluginID: "b", Data: "written by a", Source: protocol.SourceProcess}
	agg := NewAggregator(NewTable())
	agg.Add("a", a)
	agg.Add("b", make(chan protocol.StatusUpdate))

	agg.DrainOnce(context.Background())
	assert.True(t, agg.Table().Get("b").Empty(), "a cannot write b's record")
	assert.Equal(t, "written by a", agg.Table().Get("a").Status)
}

func TestAggregator_ConcurrentDrainsKeepOrder(t *testing.T) {
	const updates = 500
	ch := make(chan protocol.StatusUpdate, updates)
	for i := range updates {
		ch <- protocol.StatusUpdate{Data: float64(i)}
	}

	var (
		mu   sync.Mutex
		seen []float64
	)
	agg := NewAggregator(NewTable(), WithSink(SinkFunc(func(_ context.Context, rec Record) error {
		mu.Lock()
		seen = append(seen, rec.Status.(float64))
		mu.Unlock()
		return nil
	})))
	agg.Add("p", ch)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agg.DrainOnce(context.Background())
		}()
	}
	wg.Wait()

	require.Len(t, seen, updates)
	assert.IsIncreasing(t, seen)
	assert.InDelta(t, float64(updates-1), agg.Table().Get("p").Status, 0)
}

func TestAggregator_ClosedChannelIsRemoved(t *testing.T) {
	ch := make(chan protocol.StatusUpdate, 1)
	ch <- protocol.StatusUpdate{PluginID: "p", Data: "last"}
	close(ch)
	agg := NewAggregator(NewTable())
	agg.Add("p", ch)

	assert.Equal(t, 1, agg.DrainOnce(context.Background()))
	agg.mu.Lock()
	_, still := agg.sources["p"]
	agg.mu.Unlock()
	assert.False(t, still)
	assert.Equal(t, "last", agg.Table().Get("p").Status)
}

func TestAggregator_PublishIsLocal(t *testing.T) {
	agg := NewAggregator(NewTable())
	before := testutil.ToFloat64(UpdatesFolded.WithLabelValues("p", string(protocol.SourceLocal)))

	rec := agg.Publish(context.Background(), "p", map[string]any{"state": "stopped"})

	assert.Equal(t, protocol.SourceLocal, rec.Source)
	assert.Equal(t, rec, agg.Table().Get("p"))
	assert.InDelta(t, before+1, testutil.ToFloat64(UpdatesFolded.WithLabelValues("p", string(protocol.SourceLocal))), 0)
}

func TestAggregator_Sink(t *testing.T) {
	var mu sync.Mutex
	var got []Record
	sink := SinkFunc(func(_ context.Context, rec Record) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, rec)
		if rec.Status == "bad" {
			return errors.New("journal unavailable")
		}
		return nil
	})
	agg := NewAggregator(NewTable(), WithSink(sink))
	failures := testutil.ToFloat64(SinkFailures)

	agg.Publish(context.Background(), "p", "ok")
	agg.Publish(context.Background(), "p", "bad")

	require.Len(t, got, 2)
	assert.Equal(t, "bad", agg.Table().Get("p").Status, "sink failures do not block folding")
	assert.InDelta(t, failures+1, testutil.ToFloat64(SinkFailures), 0)
}

func TestAggregator_RunDrainsUntilCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)
	ch := make(chan protocol.StatusUpdate, 8)
	agg := NewAggregator(NewTable(), WithInterval(5*time.Millisecond))
	agg.Add("p", ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		agg.Run(ctx)
	}()

	ch <- protocol.StatusUpdate{PluginID: "p", Data: "A"}
	require.Eventually(t, func() bool { return agg.Table().Get("p").Status == "A" }, time.Second, time.Millisecond)

	ch <- protocol.StatusUpdate{PluginID: "p", Data: "B"}
	cancel()
	<-done
	assert.Equal(t, "B", agg.Table().Get("p").Status, "final pass folds pending updates")
}
