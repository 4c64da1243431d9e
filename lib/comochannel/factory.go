// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package comochannel

import "github.com/globe-monitor/globe/lib/channel"

// Type is the channel type string Como channels register under.
const Type = "como"

// Factory creates Como channels for a channel.Factories table.
type Factory struct {
	// Dialer overrides the TCP dialer. Nil uses a TCPDialer with the
	// channel's dial timeout.
	Dialer Dialer
}

var _ channel.Factory = Factory{}

// Type returns "como".
func (Factory) Type() string { return Type }

// NewChannel starts a Como channel in the Disconnected state.
func (f Factory) NewChannel(config channel.Config) (channel.Channel, error) {
	created, err := New(config, f.Dialer)
	if err != nil {
		return nil, err
	}
	return created, nil
}
