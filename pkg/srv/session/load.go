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

package session

import (
	"jinr.ru/greenlab/go-hostport/pkg/layers"
	"jinr.ru/greenlab/go-hostport/pkg/log"
	"jinr.ru/greenlab/go-hostport/pkg/regio"
	"jinr.ru/greenlab/go-hostport/pkg/srv/metrics"
)

// submit hands a request to the worker goroutine and waits for its result
func (w *Worker) submit(req *controlRequest) error {
	if w.flags.Faulted() {
		return ErrFaulted{}
	}
	req.done = make(chan error, 1)
	w.control.Push(req)
	select {
	case err := <-req.done:
		return err
	case <-w.exited:
		select {
		case err := <-req.done:
			return err
		default:
			return ErrClosing{}
		}
	}
}

// Load resets the target, loads and runs the program and waits until it is ready.
// An empty target keeps the configured one.
func (w *Worker) Load(path, target string) error {
	return w.submit(&controlRequest{kind: controlLoad, path: path, target: target})
}

func (w *Worker) ListTargets() ([]regio.TargetInfo, error) {
	req := &controlRequest{kind: controlEnumerate}
	if err := w.submit(req); err != nil {
		return nil, err
	}
	return req.targets, nil
}

func (w *Worker) UseTarget(id string) error {
	return w.submit(&controlRequest{kind: controlUseTarget, target: id})
}

func (w *Worker) serviceControl() {
	for {
		req, ok := w.control.Pop()
		if !ok {
			return
		}
		switch req.kind {
		case controlLoad:
			req.done <- w.load(req.path, req.target)
		case controlEnumerate:
			targets, err := w.reg.EnumerateTargets()
			req.targets = targets
			req.done <- err
		case controlUseTarget:
			req.done <- w.reg.UseTarget(req.target)
		}
	}
}

// failControl answers requests left when the worker exits
func (w *Worker) failControl() {
	var err error = ErrClosing{}
	if w.flags.Faulted() {
		err = ErrFaulted{}
	}
	for _, req := range w.control.Drain() {
		req.done <- err
	}
}

// flush acknowledges whatever the device still has latched
func (w *Worker) flush() error {
	var ioErr error
	flushed := 0
	err := w.poller.Until(w.cfg.ReadyTimeout, func() bool {
		s, err := w.status()
		if err != nil {
			ioErr = err
			return true
		}
		if !s.Latched() {
			return true
		}
		flushed++
		if err := w.ack(); err != nil {
			ioErr = err
			return true
		}
		return false
	}, w.halted)
	if ioErr != nil {
		return ioErr
	}
	if err != nil {
		return w.waitErr(err, "flush")
	}
	if flushed > 0 {
		log.Debug("Flushed %d latched words", flushed)
	}
	return nil
}

func (w *Worker) load(path, target string) (err error) {
	if w.flags.Faulted() {
		return ErrFaulted{}
	}
	if target == "" {
		target = w.cfg.TargetID
	}
	running := w.buffers.Load() != nil
	prevState := w.State()
	w.setState(StateLoadHandshake)
	if running {
		w.flags.Pause()
	}
	reset := false
	defer func() {
		metrics.RecordLoad(err == nil)
		if err != nil {
			w.fail("load", err)
			if reset {
				w.setState(StateIdle)
			} else {
				w.setState(prevState)
			}
		}
		if running {
			w.flags.Resume()
		}
	}()

	log.Info("Loading program %s to target %q", path, target)
	if err := w.flush(); err != nil {
		return err
	}
	if target != "" {
		if err := w.reg.UseTarget(target); err != nil {
			return ErrLoadFailed{Path: path, Stage: "use target", Err: err}
		}
	}
	if err := w.reg.HardReset(); err != nil {
		return ErrLoadFailed{Path: path, Stage: "reset", Err: err}
	}
	reset = true
	w.buffers.Store(nil)
	if err := w.reg.LoadProgram(path, true); err != nil {
		return ErrLoadFailed{Path: path, Stage: "load", Err: err}
	}
	thread, err := w.reg.FirstThread()
	if err != nil {
		return ErrLoadFailed{Path: path, Stage: "first thread", Err: err}
	}
	if err := w.reg.Run(thread); err != nil {
		return ErrLoadFailed{Path: path, Stage: "run", Err: err}
	}
	log.Info("Program %s is running, waiting for ready", path)

	var ready layers.Snapshot
	var ioErr error
	waitErr := w.poller.Until(w.cfg.ReadyTimeout, func() bool {
		s, err := w.status()
		if err != nil {
			ioErr = err
			return true
		}
		ready = s
		return s.Pending()
	}, w.halted)
	if ioErr != nil {
		return ioErr
	}
	if waitErr != nil {
		return w.waitErr(waitErr, "ready word")
	}
	if ready.Tag() != layers.TagReady {
		return ErrUnexpectedReadyPayload{Snapshot: ready}
	}
	if err := w.ack(); err != nil {
		return err
	}

	m, err := w.decodeControl("ready message")
	if err != nil {
		return err
	}
	w.publish(m)
	if err := w.discover(!w.configured); err != nil {
		return err
	}
	w.setState(StateSteady)
	log.Info("Program %s loaded", path)
	return nil
}
