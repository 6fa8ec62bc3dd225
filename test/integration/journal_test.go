// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/onsi/gomega/gbytes"
	"github.com/onsi/gomega/gexec"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var _ = Describe("Status journal", Ordered, func() {
	var (
		container *postgres.PostgresContainer
		connStr   string
		cfgPath   string
	)

	BeforeAll(func() {
		ctx := context.Background()
		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("plughost"),
			postgres.WithUsername("plughost"),
			postgres.WithPassword("plughost"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		Expect(err).NotTo(HaveOccurred())
		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		cfgPath = writeConfig("status:\n  drain_interval: 20ms\n  database_url: " + connStr + "\n")
	})

	AfterAll(func() {
		if container != nil {
			Expect(container.Terminate(context.Background())).To(Succeed())
		}
	})

	It("applies migrations", func() {
		session := plughost("migrate", "up", "--config", cfgPath)
		Eventually(session, 60*time.Second).Should(gexec.Exit(0))
		Expect(session.Err).To(gbytes.Say("Migrations completed successfully"))

		session = plughost("migrate", "version", "--config", cfgPath)
		Eventually(session, 30*time.Second).Should(gexec.Exit(0))
		Expect(session.Err).To(gbytes.Say(`Version \d+ \(clean\)`))
	})

	It("records plugin status while serving", func() {
		session := plughost("serve", "--config", cfgPath)
		Eventually(session.Err, 30*time.Second).Should(gbytes.Say("plughost started"))
		// Let the echo heartbeat land at least once.
		time.Sleep(1500 * time.Millisecond)
		session.Terminate()
		Eventually(session, 30*time.Second).Should(gexec.Exit(0))
	})

	It("shows the recorded history", func() {
		session := plughost("status", "history", "echo", "--json", "--config", cfgPath)
		Eventually(session, 30*time.Second).Should(gexec.Exit(0))

		var records []struct {
			PluginID string         `json:"plugin_id"`
			Status   map[string]any `json:"status"`
			Source   string         `json:"source"`
		}
		Expect(json.Unmarshal(session.Out.Contents(), &records)).To(Succeed())
		Expect(records).NotTo(BeEmpty())
		// Newest first: the host records the stop last.
		Expect(records[0].Status["state"]).To(Equal("stopped"))
		Expect(records[0].Source).To(Equal("local"))

		var fromProcess bool
		for _, rec := range records {
			if rec.Source == "process" && rec.Status["state"] == "ready" {
				fromProcess = true
			}
		}
		Expect(fromProcess).To(BeTrue())
	})

	It("records spawn failures for plugins that did not load", func() {
		session := plughost("status", "history", "broken", "--config", cfgPath)
		Eventually(session, 30*time.Second).Should(gexec.Exit(0))
		Expect(session.Out).To(gbytes.Say("spawn_failed"))
	})

	It("prunes old records", func() {
		session := plughost("status", "prune", "--older-than", "1ns", "--config", cfgPath)
		Eventually(session, 30*time.Second).Should(gexec.Exit(0))
		Expect(session.Err).To(gbytes.Say(`Pruned \d+`))

		session = plughost("status", "history", "echo", "--config", cfgPath)
		Eventually(session, 30*time.Second).Should(gexec.Exit(0))
		Expect(session.Out).To(gbytes.Say("No status recorded"))
	})
})
