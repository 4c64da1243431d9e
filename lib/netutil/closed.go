// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"io"
	"net"

	"golang.org/x/sys/unix"
)

// IsCleanClose reports whether err marks an orderly end of stream:
// EOF from the peer, or a read on a connection this side already
// closed. Channels treat these as a plain disconnect and report no
// transport error.
func IsCleanClose(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// IsExpectedCloseError reports whether err is a normal connection
// termination: a clean close, a broken pipe, or a connection reset.
// Resets and broken pipes happen routinely when a remote process exits
// mid-stream; they are worth an error event but not an error log line.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if IsCleanClose(err) {
		return true
	}
	return errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET)
}
