// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package comochannel

import (
	"context"
	"net"
	"time"
)

// Dialer opens the byte stream a channel speaks Como over.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// TCPDialer opens TCP connections to monitored processes.
type TCPDialer struct {
	// Timeout is the maximum time to wait for a TCP connection to be
	// established. Zero means no standalone timeout; only the context
	// deadline applies.
	Timeout time.Duration
}

// DialContext connects to address on the named network.
func (d *TCPDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	return dialer.DialContext(ctx, network, address)
}
