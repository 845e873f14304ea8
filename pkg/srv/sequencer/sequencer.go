/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

// Package sequencer admits callers to the host port one at a time
// in the order they asked.
package sequencer

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"jinr.ru/greenlab/go-hostport/pkg/log"
	"jinr.ru/greenlab/go-hostport/pkg/srv"
	"jinr.ru/greenlab/go-hostport/pkg/srv/queue"
)

type Token uint32

const (
	TokenBase Token = 0x940000
	// TerminationToken published as current makes every waiting caller give up
	TerminationToken Token = 0x5E4000
)

func (t Token) String() string {
	return fmt.Sprintf("0x%06x", uint32(t))
}

type Sequencer struct {
	flags        *srv.Flags
	poller       *srv.Poller
	staleTimeout time.Duration

	pending *queue.Queue[Token]
	current atomic.Uint32
	done    atomic.Bool

	mu sync.Mutex
	// inflight maps every issued token to whether it holds exclusively
	inflight map[Token]bool
	rnd      *rand.Rand

	wg sync.WaitGroup
}

func NewSequencer(flags *srv.Flags, poller *srv.Poller, staleTimeout time.Duration) *Sequencer {
	s := &Sequencer{
		flags:        flags,
		poller:       poller,
		staleTimeout: staleTimeout,
		pending:      queue.New[Token](),
		inflight:     map[Token]bool{},
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.done.Store(true)
	return s
}

// Start runs the admission loop in its own goroutine
func (s *Sequencer) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()
	}()
}

// Wait blocks until the admission loop has exited
func (s *Sequencer) Wait() {
	s.wg.Wait()
}

func (s *Sequencer) stopped() bool {
	return s.Current() == TerminationToken || s.flags.Faulted()
}

func (s *Sequencer) run() {
	log.Debug("Sequencer started")
	defer log.Debug("Sequencer stopped")
	for {
		err := s.poller.Until(0, func() bool { return s.pending.Len() > 0 }, s.stopped)
		if err != nil {
			return
		}
		if !s.awaitRelease() {
			return
		}
		s.done.Store(false)
		next, ok := s.pending.Pop()
		if !ok {
			continue
		}
		cur := s.current.Load()
		if Token(cur) == TerminationToken || !s.current.CompareAndSwap(cur, uint32(next)) {
			return
		}
		log.Debug("Token %s admitted", next)
	}
}

// awaitRelease waits for the current holder to release. A holder past the
// stale timeout is overtaken unless it holds exclusively.
// It returns false once the sequencer is stopped.
func (s *Sequencer) awaitRelease() bool {
	for {
		err := s.poller.Until(s.staleTimeout, s.done.Load, s.stopped)
		switch err.(type) {
		case nil:
			return true
		case srv.ErrPollTimeout:
			cur := s.Current()
			if s.exclusive(cur) {
				log.Debug("Token %s holds exclusively for more than %s", cur, s.staleTimeout)
				continue
			}
			log.Warning("Token %s held for more than %s, admitting next caller", cur, s.staleTimeout)
			return true
		default:
			return false
		}
	}
}

func (s *Sequencer) exclusive(t Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight[t]
}

func (s *Sequencer) newToken(exclusive bool) Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		t := TokenBase | Token(s.rnd.Intn(0x10000))
		if _, ok := s.inflight[t]; !ok {
			s.inflight[t] = exclusive
			return t
		}
	}
}

func (s *Sequencer) forget(t Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, t)
}

// Acquire blocks until the caller is admitted. It returns ErrNotAvailable
// once the sequencer is terminated or the bridge is faulted.
func (s *Sequencer) Acquire() (Token, error) {
	return s.acquire(false)
}

// AcquireExclusive is Acquire for a holder the stale timeout never overtakes,
// used for program loads.
func (s *Sequencer) AcquireExclusive() (Token, error) {
	return s.acquire(true)
}

func (s *Sequencer) acquire(exclusive bool) (Token, error) {
	if s.stopped() {
		return 0, srv.ErrNotAvailable{What: "sequencer terminated"}
	}
	t := s.newToken(exclusive)
	s.pending.Push(t)
	_ = s.poller.Until(0, func() bool {
		return s.Current() == t || s.stopped()
	}, nil)
	if s.Current() != t || s.flags.Faulted() {
		s.pending.RemoveFirst(func(p Token) bool { return p == t })
		s.forget(t)
		return 0, srv.ErrNotAvailable{What: "sequencer terminated"}
	}
	return t, nil
}

// Release lets the next caller in. A token which is no longer current,
// because its holder was declared stale, releases nothing.
// The released value is cleared from current so a new token drawing it is not admitted.
func (s *Sequencer) Release(t Token) {
	if s.current.CompareAndSwap(uint32(t), 0) {
		s.done.Store(true)
	}
	s.forget(t)
}

// Terminate publishes the termination token, waiting and future callers fail
func (s *Sequencer) Terminate() {
	s.current.Store(uint32(TerminationToken))
}

func (s *Sequencer) Current() Token {
	return Token(s.current.Load())
}

// Pending is the number of callers waiting for admission
func (s *Sequencer) Pending() int {
	return s.pending.Len()
}
