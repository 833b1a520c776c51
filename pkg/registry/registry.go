// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package registry tracks live switch sessions and guarantees their release on shutdown
package registry

import (
	"sync"

	"github.com/onosproject/onos-lib-go/pkg/logging"
)

var log = logging.GetLogger("registry")

// Closer is a releasable switch session
type Closer interface {
	Name() string
	Close() error
}

// Registry is the set of tracked sessions
type Registry struct {
	lock     sync.Mutex
	sessions []Closer
	closed   map[Closer]bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{closed: make(map[Closer]bool)}
}

// Register adds the session to the tracked set; registering the same session twice has no effect
func (r *Registry) Register(session Closer) {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, s := range r.sessions {
		if s == session {
			return
		}
	}
	log.Debugf("Registered session %s", session.Name())
	r.sessions = append(r.sessions, session)
}

// Sessions returns the tracked sessions in order of registration
func (r *Registry) Sessions() []Closer {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]Closer(nil), r.sessions...)
}

// Len returns the number of tracked sessions
func (r *Registry) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.sessions)
}

// ShutdownAll closes every tracked session that has not been closed yet, continuing past failures.
// The close errors are returned rather than raised; calling it again only closes sessions registered since.
func (r *Registry) ShutdownAll() []error {
	r.lock.Lock()
	var pending []Closer
	for _, s := range r.sessions {
		if !r.closed[s] {
			r.closed[s] = true
			pending = append(pending, s)
		}
	}
	r.lock.Unlock()

	var errs []error
	for _, s := range pending {
		if err := s.Close(); err != nil {
			log.Warnf("Unable to close session %s: %+v", s.Name(), err)
			errs = append(errs, err)
			continue
		}
		log.Infof("Closed session %s", s.Name())
	}
	return errs
}
