// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package protocol

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// NewRequestID returns a fresh request id. Ids are ULIDs drawn from a
// monotonic source, so they are unique and sort in issue order within one
// process.
func NewRequestID() string {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
