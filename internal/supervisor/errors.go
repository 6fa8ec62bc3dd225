// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package supervisor

import (
	"github.com/samber/oops"
)

// RemoteCodeKey is the error context key holding the failure code reported
// by the plugin (HANDLER_NOT_FOUND, HANDLER_EXCEPTION, INVALID_ARGS).
const RemoteCodeKey = "remote_code"

// RemoteCode returns the plugin-reported failure code carried by a
// REMOTE_EXECUTION error, or "".
func RemoteCode(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Context()[RemoteCodeKey].(string)
	return code
}
