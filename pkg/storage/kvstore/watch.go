// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package kvstore

import (
	"github.com/cockroachdb/stagekv/pkg/util/syncutil"
)

// A Watcher is notified of writes to keys below a prefix.
type Watcher interface {
	// Changes receives a value after one or more writes under the watched
	// prefix. Notifications are coalesced: a slow reader sees one
	// notification for several writes.
	Changes() <-chan struct{}
	// Close unregisters the watcher.
	Close() error
}

// WatchRegistry tracks the watchers of a store. The zero value is ready for
// use.
type WatchRegistry struct {
	watchers syncutil.Set[*watcher]
}

type watcher struct {
	reg    *WatchRegistry
	prefix Key
	ch     chan struct{}
}

// Watch registers a new watcher for prefix.
func (r *WatchRegistry) Watch(prefix Key) Watcher {
	w := &watcher{
		reg:    r,
		prefix: append(Key(nil), prefix...),
		ch:     make(chan struct{}, 1),
	}
	r.watchers.Add(w)
	return w
}

// Notify signals every watcher whose prefix covers key.
func (r *WatchRegistry) Notify(key Key) {
	r.watchers.Range(func(w *watcher) bool {
		if HasPathPrefix(key, w.prefix) {
			w.signal()
		}
		return true
	})
}

// NotifyAll signals every watcher, e.g. after the contents of a store were
// replaced wholesale.
func (r *WatchRegistry) NotifyAll() {
	r.watchers.Range(func(w *watcher) bool {
		w.signal()
		return true
	})
}

func (w *watcher) signal() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

func (w *watcher) Changes() <-chan struct{} { return w.ch }

func (w *watcher) Close() error {
	w.reg.watchers.Remove(w)
	return nil
}
