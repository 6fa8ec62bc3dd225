// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package errutil holds the error codes shared by the plugin host and
// helpers for logging and asserting oops errors.
package errutil

import (
	"fmt"

	"github.com/samber/oops"
)

// Error codes attached with oops.Code.
const (
	CodeSpawnFailure      = "SPAWN_FAILURE"
	CodeHandlerNotFound   = "HANDLER_NOT_FOUND"
	CodeHandlerException  = "HANDLER_EXCEPTION"
	CodeRemoteExecution   = "REMOTE_EXECUTION"
	CodeTimeout           = "TIMEOUT"
	CodeShutdownFailure   = "SHUTDOWN_FAILURE"
	CodeProcessExited     = "PROCESS_EXITED"
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidArgs       = "INVALID_ARGS"
	CodePermissionDenied  = "PERMISSION_DENIED"
	CodeInvalidDescriptor = "INVALID_DESCRIPTOR"
	CodeAlreadyLoaded     = "ALREADY_LOADED"
	CodeHostClosed        = "HOST_CLOSED"
)

// CodeOf returns the oops code of err, or "" when err carries none.
func CodeOf(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	switch code := oopsErr.Code().(type) {
	case nil:
		return ""
	case string:
		return code
	default:
		return fmt.Sprint(code)
	}
}

// HasCode reports whether err carries code.
func HasCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
