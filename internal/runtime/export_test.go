// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package runtime

func (r *Runtime) instanceForTest() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.instance
}
