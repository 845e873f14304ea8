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

package sequencer

import (
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"jinr.ru/greenlab/go-hostport/pkg/srv"
)

func newTestSequencer(stale time.Duration) (*Sequencer, *srv.Flags) {
	flags := srv.NewFlags(true)
	s := NewSequencer(flags, srv.NewPoller(time.Millisecond, flags), stale)
	s.Start()
	return s, flags
}

func TestMutualExclusion(t *testing.T) {
	s, _ := newTestSequencer(5 * time.Second)
	defer func() {
		s.Terminate()
		s.Wait()
	}()

	var holders atomic.Int32
	var maxHolders atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := s.Acquire()
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			n := holders.Add(1)
			for {
				m := maxHolders.Load()
				if n <= m || maxHolders.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			holders.Add(-1)
			s.Release(tok)
		}()
	}
	wg.Wait()
	if maxHolders.Load() != 1 {
		t.Fatalf("expected one holder at a time, got %d", maxHolders.Load())
	}
}

func TestFIFOAdmission(t *testing.T) {
	s, _ := newTestSequencer(5 * time.Second)
	defer func() {
		s.Terminate()
		s.Wait()
	}()

	first, err := s.Acquire()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	order := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			tok, err := s.Acquire()
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			order <- i
			s.Release(tok)
		}()
		// queue the callers in a known order
		deadline := time.Now().Add(time.Second)
		for s.Pending() != i+1 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}
	s.Release(first)
	for i := 0; i < 3; i++ {
		if got := <-order; got != i {
			t.Fatalf("expected caller %d admitted, got %d", i, got)
		}
	}
}

func TestStaleHolder(t *testing.T) {
	s, _ := newTestSequencer(50 * time.Millisecond)
	defer func() {
		s.Terminate()
		s.Wait()
	}()

	stale, err := s.Acquire()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	start := time.Now()
	next, err := s.Acquire()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("next caller admitted after %s, before the stale timeout", elapsed)
	}
	// a late release of the stale token must not release the new holder
	s.Release(stale)
	if s.Current() != next {
		t.Fatalf("expected %s to stay current, got %s", next, s.Current())
	}
	s.Release(next)
}

func TestExclusiveHolder(t *testing.T) {
	s, _ := newTestSequencer(20 * time.Millisecond)
	defer func() {
		s.Terminate()
		s.Wait()
	}()

	load, err := s.AcquireExclusive()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	admitted := make(chan Token, 1)
	go func() {
		tok, err := s.Acquire()
		if err != nil {
			t.Errorf("unexpected error: %v", err)
			return
		}
		admitted <- tok
	}()
	select {
	case <-admitted:
		t.Fatalf("caller admitted while the exclusive holder was running")
	case <-time.After(150 * time.Millisecond):
	}
	if s.Current() != load {
		t.Fatalf("expected %s to stay current, got %s", load, s.Current())
	}
	s.Release(load)
	select {
	case tok := <-admitted:
		s.Release(tok)
	case <-time.After(time.Second):
		t.Fatalf("caller not admitted after release")
	}
}

func TestReleaseClearsCurrent(t *testing.T) {
	const seed = 42
	flags := srv.NewFlags(true)
	// the admission loop is not started, nothing may be admitted
	s := NewSequencer(flags, srv.NewPoller(time.Millisecond, flags), 5*time.Second)
	s.rnd = rand.New(rand.NewSource(seed))
	tok := s.newToken(false)
	s.current.Store(uint32(tok))
	s.Release(tok)
	if s.Current() == tok {
		t.Fatalf("released token %s is still current", tok)
	}

	// the next token draws the released value again
	s.rnd = rand.New(rand.NewSource(seed))
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Acquire()
		errCh <- err
	}()
	select {
	case err := <-errCh:
		t.Fatalf("caller admitted by a stale current value, err: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	s.Terminate()
	select {
	case err := <-errCh:
		if !errors.As(err, &srv.ErrNotAvailable{}) {
			t.Fatalf("expected ErrNotAvailable, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("waiting caller not released by termination")
	}
}

func TestTerminate(t *testing.T) {
	s, _ := newTestSequencer(5 * time.Second)
	tok, err := s.Acquire()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Acquire()
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	s.Terminate()
	select {
	case err := <-errCh:
		if !errors.As(err, &srv.ErrNotAvailable{}) {
			t.Fatalf("expected ErrNotAvailable, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("waiting caller not released by termination")
	}
	s.Release(tok)
	s.Wait()
	if _, err := s.Acquire(); !errors.As(err, &srv.ErrNotAvailable{}) {
		t.Fatalf("expected ErrNotAvailable after termination, got %v", err)
	}
}

func TestFault(t *testing.T) {
	s, flags := newTestSequencer(5 * time.Second)
	flags.Fault()
	s.Wait()
	if _, err := s.Acquire(); !errors.As(err, &srv.ErrNotAvailable{}) {
		t.Fatalf("expected ErrNotAvailable when faulted, got %v", err)
	}
}
