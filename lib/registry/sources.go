// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"slices"
	"sync"

	"github.com/globe-monitor/globe/lib/channel"
	"github.com/globe-monitor/globe/lib/source"
)

// SourceRegistry is the live view of which sources exist per channel
// and whether each is currently registered. Entries are marked
// deregistered rather than deleted, so a view opened late can still
// show a source that has gone away. Entries are deleted only when
// their channel is removed.
//
// Safe for concurrent use. In a running process the channel relays are
// the only writers.
type SourceRegistry struct {
	mu       sync.RWMutex
	channels map[string]map[source.Key]*sourceEntry
}

type sourceEntry struct {
	source     source.Source
	registered bool
}

// NewSourceRegistry returns an empty registry.
func NewSourceRegistry() *SourceRegistry {
	return &SourceRegistry{channels: make(map[string]map[source.Key]*sourceEntry)}
}

// Apply folds one channel event into the registry. Connected is a
// no-op: a remote process may come back with a different set of
// sources, so nothing is assumed until they are announced again.
func (r *SourceRegistry) Apply(channelName string, event channel.Event) {
	switch event.Kind {
	case channel.EventSourceUpdated:
		r.mu.Lock()
		defer r.mu.Unlock()
		entries := r.entriesLocked(channelName)
		entries[event.Source.Key()] = &sourceEntry{source: event.Source, registered: true}

	case channel.EventSourceDeregistered:
		r.mu.Lock()
		defer r.mu.Unlock()
		entries := r.entriesLocked(channelName)
		key := event.Source.Key()
		existing, known := entries[key]
		switch {
		case !known:
			entries[key] = &sourceEntry{source: event.Source}
		case event.Source.Type.Valid():
			existing.source = event.Source
			existing.registered = false
		default:
			existing.registered = false
		}

	case channel.EventDisconnected:
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, existing := range r.channels[channelName] {
			existing.registered = false
		}
	}
}

// RegisteredSources returns the channel's registered sources ordered by
// type name, then name.
func (r *SourceRegistry) RegisteredSources(channelName string) []source.Source {
	return r.collect(channelName, true)
}

// DeregisteredSources returns the channel's deregistered sources ordered
// by type name, then name.
func (r *SourceRegistry) DeregisteredSources(channelName string) []source.Source {
	return r.collect(channelName, false)
}

// Lookup returns the entry for key on channelName.
func (r *SourceRegistry) Lookup(channelName string, key source.Key) (current source.Source, registered bool, found bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	existing, found := r.channels[channelName][key]
	if !found {
		return source.Source{}, false, false
	}
	return existing.source, existing.registered, true
}

// SyncSource reconciles a caller's possibly stale copy of a source. It
// returns the registry's current copy, its registration flag, and
// whether the current copy differs from stale. For a source the
// registry has never seen it returns stale unchanged, false, false.
func (r *SourceRegistry) SyncSource(channelName string, stale source.Source) (current source.Source, registered bool, changed bool) {
	current, registered, found := r.Lookup(channelName, stale.Key())
	if !found {
		return stale, false, false
	}
	return current, registered, !current.Equal(stale)
}

// Counts returns the number of registered and deregistered sources on
// channelName.
func (r *SourceRegistry) Counts(channelName string) (registered, deregistered int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, existing := range r.channels[channelName] {
		if existing.registered {
			registered++
		} else {
			deregistered++
		}
	}
	return registered, deregistered
}

// RemoveChannel deletes every entry of channelName.
func (r *SourceRegistry) RemoveChannel(channelName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, channelName)
}

func (r *SourceRegistry) entriesLocked(channelName string) map[source.Key]*sourceEntry {
	entries, exists := r.channels[channelName]
	if !exists {
		entries = make(map[source.Key]*sourceEntry)
		r.channels[channelName] = entries
	}
	return entries
}

func (r *SourceRegistry) collect(channelName string, registered bool) []source.Source {
	r.mu.RLock()
	var collected []source.Source
	for _, existing := range r.channels[channelName] {
		if existing.registered == registered {
			collected = append(collected, existing.source)
		}
	}
	r.mu.RUnlock()
	slices.SortFunc(collected, func(a, b source.Source) int {
		return a.Key().Compare(b.Key())
	})
	return collected
}
