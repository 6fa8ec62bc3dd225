//go:build integration

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/plughost/internal/protocol"
	"github.com/holomush/plughost/internal/status"
	"github.com/holomush/plughost/internal/store"
	"github.com/holomush/plughost/pkg/errutil"
)

var _ = Describe("StatusJournal", Ordered, func() {
	var (
		ctx       context.Context
		connStr   string
		terminate func()
		pool      *pgxpool.Pool
		journal   *store.StatusJournal
	)

	BeforeAll(func() {
		ctx = context.Background()
		connStr, terminate = startPostgres(ctx, GinkgoT())

		var err error
		pool, err = store.Connect(ctx, connStr)
		Expect(err).NotTo(HaveOccurred())
		journal = store.NewStatusJournal(pool)
	})

	AfterAll(func() {
		if pool != nil {
			pool.Close()
		}
		if terminate != nil {
			terminate()
		}
	})

	It("reports a missing schema before migrations run", func() {
		err := journal.Record(ctx, status.Record{PluginID: "echo", Status: "A", UpdatedAt: time.Now(), Source: protocol.SourceProcess})
		Expect(errutil.CodeOf(err)).To(Equal(store.CodeSchemaMissing))
	})

	It("stores and returns history newest first", func() {
		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())

		t0 := time.Now().UTC().Truncate(time.Millisecond)
		agg := status.NewAggregator(status.NewTable(), status.WithSink(journal))
		ch := make(chan protocol.StatusUpdate, 2)
		ch <- protocol.StatusUpdate{PluginID: "echo", Data: "A", Time: t0, Source: protocol.SourceProcess}
		ch <- protocol.StatusUpdate{PluginID: "echo", Data: map[string]any{"state": "B"}, Time: t0.Add(time.Second), Source: protocol.SourceProcess}
		agg.Add("echo", ch)
		Expect(agg.DrainOnce(ctx)).To(Equal(2))

		history, err := journal.History(ctx, "echo", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(history).To(HaveLen(2))
		Expect(history[0].Status).To(Equal(map[string]any{"state": "B"}))
		Expect(history[1].Status).To(Equal("A"))
		Expect(history[0].UpdatedAt).To(BeTemporally("==", t0.Add(time.Second)))
	})

	It("prunes old records", func() {
		n, err := journal.Prune(ctx, time.Now().Add(time.Hour))
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeNumerically(">=", 2))

		history, err := journal.History(ctx, "echo", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(history).To(BeEmpty())
	})
})
