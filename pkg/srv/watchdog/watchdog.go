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

// Package watchdog pings the device on a cron schedule.
package watchdog

import (
	"context"
	"time"

	"github.com/gorhill/cronexpr"

	"jinr.ru/greenlab/go-hostport/pkg/log"
	"jinr.ru/greenlab/go-hostport/pkg/srv/metrics"
)

// Pinger is implemented by the broker
type Pinger interface {
	Ping() error
}

type Watchdog struct {
	expr   *cronexpr.Expression
	pinger Pinger
	// OnFailure is called after every failed ping, may be nil
	OnFailure func(err error)
	now       func() time.Time
}

func NewWatchdog(schedule string, pinger Pinger) (*Watchdog, error) {
	expr, err := cronexpr.Parse(schedule)
	if err != nil {
		return nil, err
	}
	return &Watchdog{expr: expr, pinger: pinger, now: time.Now}, nil
}

// Next is the time of the next ping after t, zero when the schedule has no more
func (w *Watchdog) Next(t time.Time) time.Time {
	return w.expr.Next(t)
}

// Check pings once
func (w *Watchdog) Check() error {
	err := w.pinger.Ping()
	metrics.RecordWatchdog(err == nil)
	if err != nil {
		log.Warning("Watchdog ping failed: %s", err)
		if w.OnFailure != nil {
			w.OnFailure(err)
		}
		return err
	}
	log.Debug("Watchdog ping ok")
	return nil
}

// Run pings on schedule until the context is done
func (w *Watchdog) Run(ctx context.Context) error {
	for {
		now := w.now()
		next := w.Next(now)
		if next.IsZero() {
			log.Info("Watchdog schedule is exhausted")
			return nil
		}
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			_ = w.Check()
		}
	}
}
