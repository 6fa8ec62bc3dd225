// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package main implements the echo example plugin.
// It answers say triggers by echoing the message back and exercises the
// rest of the plugin surface: a long-running service, a timer publishing
// status and a crash entry for supervision tests.
//
// Build with:
//
//	go build -o bin/echo ./plugins/echo
//
// and load it with the locator "./bin/echo:Echo".
package main

import "github.com/holomush/plughost/pkg/pluginsdk"

func main() {
	pluginsdk.Serve(echoDefinition(), crasherDefinition())
}
