// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package integration

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/plughost/internal/host"
	"github.com/holomush/plughost/pkg/errutil"
	"github.com/holomush/plughost/pkg/plugin"
)

var _ = Describe("Lua plugins", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		h      *host.Host
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		h = newProcessHost()
		go func() { _ = h.Run(ctx) }()
		Expect(h.Load(ctx, plugin.Descriptor{ID: "greeter", Entry: "lua:" + greeterLua})).To(Succeed())
	})

	AfterEach(func() {
		h.ShutdownAll(5 * time.Second)
		cancel()
	})

	It("runs the script in a child of the host executable", func() {
		Expect(pidOf(h, "greeter")).To(BeNumerically(">", 0))
	})

	It("lists the entries the script registers", func() {
		info, err := h.Inspect(ctx, plugin.Descriptor{ID: "greeter", Entry: "lua:" + greeterLua})
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Version).To(Equal("1.0.0"))
		Expect(info.Entries).To(HaveLen(2))
		Expect(info.Entries[0].ID).To(Equal("greet"))
		Expect(info.Entries[1].ID).To(Equal("nap"))
		Expect(info.Entries[1].Kind).To(Equal(plugin.KindService))
	})

	It("keeps script state between triggers", func() {
		got, err := h.Trigger(ctx, "greeter", "greet", map[string]any{"name": "ada"}, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(map[string]any{"greeting": "hello ada", "count": float64(1)}))

		got, err = h.Trigger(ctx, "greeter", "greet", map[string]any{"name": "bob", "excited": true}, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(map[string]any{"greeting": "hello bob!", "count": float64(2)}))
	})

	It("resolves global functions as entries", func() {
		got, err := h.Trigger(ctx, "greeter", "farewell", map[string]any{"name": "ada"}, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal("goodbye ada"))
	})

	It("validates arguments against the script's schema", func() {
		_, err := h.Trigger(ctx, "greeter", "greet", map[string]any{}, 0)
		Expect(errutil.CodeOf(err)).To(Equal(errutil.CodeInvalidArgs))
	})

	It("reports status published by the script", func() {
		Eventually(func() any {
			m, _ := h.GetPluginStatus("greeter").Status.(map[string]any)
			return m["state"]
		}, 5*time.Second, 50*time.Millisecond).Should(Equal("ready"))
	})
})
