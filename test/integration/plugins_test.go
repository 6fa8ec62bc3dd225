// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package integration

import (
	"context"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/shirou/gopsutil/v4/process"

	"github.com/holomush/plughost/internal/host"
	"github.com/holomush/plughost/internal/supervisor"
	"github.com/holomush/plughost/pkg/errutil"
	"github.com/holomush/plughost/pkg/plugin"
)

func newProcessHost() *host.Host {
	return host.New(
		host.WithFactory(&supervisor.GoPluginFactory{
			HostExecutable: plughostBin,
			Logger:         hclog.New(&hclog.LoggerOptions{Output: GinkgoWriter, Level: hclog.Warn}),
			LogLevel:       "warn",
			StartTimeout:   20 * time.Second,
		}),
		host.WithVersion("1.0.0"),
		host.WithTriggerTimeout(5*time.Second),
	)
}

func pidOf(h *host.Host, id string) int {
	for _, info := range h.ListPlugins() {
		if info.ID == id {
			return info.Pid
		}
	}
	return 0
}

var _ = Describe("Go plugin processes", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		h      *host.Host
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		h = newProcessHost()
		go func() { _ = h.Run(ctx) }()
		Expect(h.Load(ctx, plugin.Descriptor{ID: "echo", Entry: echoLocator})).To(Succeed())
		Expect(h.Load(ctx, plugin.Descriptor{ID: "crasher", Entry: crashLocator})).To(Succeed())
	})

	AfterEach(func() {
		h.ShutdownAll(5 * time.Second)
		cancel()
	})

	It("runs every plugin in its own process", func() {
		echoPid, crashPid := pidOf(h, "echo"), pidOf(h, "crasher")
		Expect(echoPid).To(BeNumerically(">", 0))
		Expect(crashPid).To(BeNumerically(">", 0))
		Expect(echoPid).NotTo(Equal(crashPid))
		Expect(echoPid).NotTo(Equal(os.Getpid()))
	})

	It("returns handler results across the process boundary", func() {
		got, err := h.Trigger(ctx, "echo", "say", map[string]any{"message": "hi", "upper": true}, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(map[string]any{"echo": "HI"}))

		got, err = h.Trigger(ctx, "crasher", "ping", nil, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal("pong"))
	})

	It("rejects arguments that violate the input schema before dispatch", func() {
		_, err := h.Trigger(ctx, "echo", "say", map[string]any{"message": 42}, 0)
		Expect(errutil.CodeOf(err)).To(Equal(errutil.CodeInvalidArgs))
	})

	It("times out slow handlers without blocking others", func() {
		_, err := h.Trigger(ctx, "echo", "wait", map[string]any{"seconds": 5}, 100*time.Millisecond)
		Expect(errutil.CodeOf(err)).To(Equal(errutil.CodeTimeout))

		got, err := h.Trigger(ctx, "echo", "say", map[string]any{"message": "still here"}, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(map[string]any{"echo": "still here"}))
	})

	It("isolates a crashing plugin", func() {
		crashPid := int32(pidOf(h, "crasher"))
		_, err := h.Trigger(ctx, "crasher", "crash", map[string]any{"code": 7}, time.Second)
		Expect(err).To(HaveOccurred())

		Eventually(func() bool {
			alive, _ := process.PidExists(crashPid)
			return alive
		}, 5*time.Second, 50*time.Millisecond).Should(BeFalse())

		_, err = h.Trigger(ctx, "crasher", "ping", nil, time.Second)
		Expect(errutil.CodeOf(err)).To(Equal(errutil.CodeProcessExited))

		got, err := h.Trigger(ctx, "echo", "say", map[string]any{"message": "unaffected"}, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(map[string]any{"echo": "unaffected"}))
	})

	It("aggregates status published by plugin processes", func() {
		Eventually(func() any {
			m, _ := h.GetPluginStatus("echo").Status.(map[string]any)
			return m["state"]
		}, 5*time.Second, 50*time.Millisecond).Should(Equal("ready"))
	})

	It("stops every process on shutdown", func() {
		pids := []int32{int32(pidOf(h, "echo")), int32(pidOf(h, "crasher"))}
		h.ShutdownAll(5 * time.Second)

		for _, pid := range pids {
			Eventually(func() bool {
				alive, _ := process.PidExists(pid)
				return alive
			}, 10*time.Second, 50*time.Millisecond).Should(BeFalse())
		}
		Expect(h.ListPlugins()).To(BeEmpty())
	})
})

var _ = Describe("Loading failures", func() {
	It("reports a missing executable as a spawn failure", func() {
		h := newProcessHost()
		defer h.ShutdownAll(time.Second)

		err := h.Load(context.Background(), plugin.Descriptor{ID: "ghost", Entry: "/nonexistent/plugin"})
		Expect(errutil.CodeOf(err)).To(Equal(errutil.CodeSpawnFailure))
		Expect(h.ListPlugins()).To(BeEmpty())
	})

	It("reports an unknown definition without starting the plugin", func() {
		h := newProcessHost()
		defer h.ShutdownAll(time.Second)

		err := h.Load(context.Background(), plugin.Descriptor{ID: "echo", Entry: echoBin + ":Nope"})
		Expect(errutil.CodeOf(err)).To(Equal(errutil.CodeSpawnFailure))
	})
})
