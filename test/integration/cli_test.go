// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/onsi/gomega/gbytes"
	"github.com/onsi/gomega/gexec"
	"gopkg.in/yaml.v3"
)

// writeConfig writes a plughost config listing the example plugins and
// returns its path.
func writeConfig(extra string) string {
	path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
	content := `log:
  format: text
  level: warn
metrics:
  addr: ""
plugins:
  - id: echo
    entry: ` + echoLocator + `
  - id: greeter
    entry: lua:` + greeterLua + `
  - id: broken
    entry: /nonexistent/plugin
` + extra
	Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())
	return path
}

func plughost(args ...string) *gexec.Session {
	cmd := exec.Command(plughostBin, args...)
	cmd.Env = append(os.Environ(), "HOME="+GinkgoT().TempDir())
	session, err := gexec.Start(cmd, GinkgoWriter, GinkgoWriter)
	Expect(err).NotTo(HaveOccurred())
	return session
}

var _ = Describe("plughost CLI", func() {
	It("lists plugins without starting them", func() {
		session := plughost("list", "--config", writeConfig(""))
		Eventually(session, 30*time.Second).Should(gexec.Exit(0))

		var listed []map[string]any
		Expect(yaml.Unmarshal(session.Out.Contents(), &listed)).To(Succeed())
		Expect(listed).To(HaveLen(3))
		Expect(listed[0]["id"]).To(Equal("echo"))
		Expect(listed[0]["entries"]).To(HaveLen(2))
		Expect(listed[1]["name"]).To(Equal("greeter"))
		Expect(listed[2]["error"]).To(ContainSubstring("not found"))
	})

	It("prints the config schema", func() {
		session := plughost("schema")
		Eventually(session, 10*time.Second).Should(gexec.Exit(0))
		Expect(session.Out).To(gbytes.Say(`"\$id"`))
	})

	It("rejects an invalid config", func() {
		path := filepath.Join(GinkgoT().TempDir(), "bad.yaml")
		Expect(os.WriteFile(path, []byte("log:\n  format: xml\n"), 0o600)).To(Succeed())

		session := plughost("list", "--config", path)
		Eventually(session, 10*time.Second).Should(gexec.Exit(1))
		Expect(session.Err).To(gbytes.Say("log.format"))
	})

	It("serves until terminated and skips plugins that fail to load", func() {
		session := plughost("serve", "--config", writeConfig(""))
		Eventually(session.Err, 30*time.Second).Should(gbytes.Say("plughost started"))

		session.Terminate()
		Eventually(session, 30*time.Second).Should(gexec.Exit(0))
	})
})
