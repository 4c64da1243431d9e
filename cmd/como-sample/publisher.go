// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"math"
	"time"

	"github.com/globe-monitor/globe/lib/clock"
	"github.com/globe-monitor/globe/lib/como"
	"github.com/globe-monitor/globe/lib/source"
)

// blinkPeriod is how many steps the Blinker source stays in each
// state.
const blinkPeriod = 5

const sampleTypeName = "Sample"

var (
	counterKey     = source.Key{Name: "Counter", TypeName: sampleTypeName}
	temperatureKey = source.Key{Name: "Temperature", TypeName: sampleTypeName}
	statusKey      = source.Key{Name: "Status", TypeName: sampleTypeName}
	lastUpdateKey  = source.Key{Name: "LastUpdate", TypeName: sampleTypeName}
	timeOfDayKey   = source.Key{Name: "TimeOfDay", TypeName: sampleTypeName}
	blinkerKey     = source.Key{Name: "Blinker", TypeName: sampleTypeName}
)

var statuses = []string{"idle", "warming up", "running", "cooling down"}

// publisher drives the sample sources on a como.Server.
type publisher struct {
	server *como.Server
	clock  clock.Clock
	step   int
	// blinking is whether Blinker is currently registered.
	blinking bool
}

func newPublisher(server *como.Server, clk clock.Clock) *publisher {
	return &publisher{server: server, clock: clk}
}

func (p *publisher) registerAll() error {
	now := p.clock.Now()
	sources := []source.Source{
		{Type: source.TypeInt, Name: counterKey.Name, TypeName: sampleTypeName, Value: int32(0),
			Description: "steps since start"},
		{Type: source.TypeDouble, Name: temperatureKey.Name, TypeName: sampleTypeName, Value: temperatureAt(0),
			Description: "sine wave around 20 degrees"},
		{Type: source.TypeString, Name: statusKey.Name, TypeName: sampleTypeName, Value: statuses[0]},
		{Type: source.TypeDateTime, Name: lastUpdateKey.Name, TypeName: sampleTypeName, Value: now.UTC().Truncate(time.Millisecond)},
		{Type: source.TypeTime, Name: timeOfDayKey.Name, TypeName: sampleTypeName, Value: source.TimeOfDayOf(now)},
		blinker(),
	}
	for _, each := range sources {
		each.Timestamp = now
		if err := p.server.Register(each); err != nil {
			return err
		}
	}
	p.blinking = true
	return nil
}

// advance publishes one step of updates.
func (p *publisher) advance() error {
	p.step++
	now := p.clock.Now()
	updates := []struct {
		key   source.Key
		value any
	}{
		{counterKey, int32(p.step)},
		{temperatureKey, temperatureAt(p.step)},
		{statusKey, statuses[(p.step/blinkPeriod)%len(statuses)]},
		{lastUpdateKey, now.UTC().Truncate(time.Millisecond)},
		{timeOfDayKey, source.TimeOfDayOf(now)},
	}
	for _, update := range updates {
		if err := p.server.Update(update.key, update.value, now); err != nil {
			return err
		}
	}

	if p.step%blinkPeriod != 0 {
		return nil
	}
	if p.blinking {
		p.blinking = false
		return p.server.Deregister(blinkerKey)
	}
	next := blinker()
	next.Timestamp = now
	if err := p.server.Register(next); err != nil {
		return err
	}
	p.blinking = true
	return nil
}

func (p *publisher) run(ctx context.Context, interval time.Duration) error {
	ticker := p.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.advance(); err != nil {
				return err
			}
		}
	}
}

func blinker() source.Source {
	return source.Source{Type: source.TypeULongLong, Name: blinkerKey.Name, TypeName: sampleTypeName,
		Value: uint64(math.MaxUint64), Description: "comes and goes"}
}

func temperatureAt(step int) float64 {
	return 20 + 5*math.Sin(float64(step)/10)
}
