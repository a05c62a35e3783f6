// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package syncserver

import "errors"

// Typed sentinel errors for the sync plane. Each handler passes the
// matching HTTP status code to writeError alongside the error.
var (
	ErrUnauthorized   = errors.New("syncserver: unauthorized")
	ErrForbidden      = errors.New("syncserver: forbidden, primary only")
	ErrNotFound       = errors.New("syncserver: not found")
	ErrBadRequest     = errors.New("syncserver: bad request")
	ErrSharedSecret   = errors.New("syncserver: shared secret mismatch")
	ErrNoSharedSecret = errors.New("syncserver: no shared secret configured")
)
