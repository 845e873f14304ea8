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

// Package state keeps the last known register values, the notification log
// and the session record in a bbolt database.
package state

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"sigs.k8s.io/yaml"

	"jinr.ru/greenlab/go-hostport/pkg/log"
	"jinr.ru/greenlab/go-hostport/pkg/srv/broker"
)

const (
	RegisterBucketPrefix = "registers_"
	NotificationBucket   = "notifications"
	SessionBucket        = "session"
	SessionKey           = "record"
	// MaxNotifications bounds the notification log, the oldest entries are dropped
	MaxNotifications = 1000
)

type Register struct {
	Target uint32 `json:"target"`
	Reg    uint32 `json:"reg"`
	Value  uint32 `json:"value"`
}

// SessionRecord describes the last program load
type SessionRecord struct {
	Program  string    `json:"program"`
	Target   string    `json:"target"`
	LoadedAt time.Time `json:"loaded_at"`
}

type State struct {
	context.Context
	DB *bbolt.DB
}

var _ broker.RegisterCache = &State{}

func NewState(ctx context.Context, path string) (*State, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{NotificationBucket, SessionBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &State{
		Context: ctx,
		DB:      db,
	}, nil
}

// Close ...
func (s *State) Close() {
	s.DB.Close()
}

func uint32ToByte(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func uint64ToByte(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func registerBucket(target uint32) []byte {
	return []byte(fmt.Sprintf("%s%d", RegisterBucketPrefix, target))
}

// PutRegister ...
func (s *State) PutRegister(target, reg, value uint32) error {
	log.Debug("Caching register: target: %d reg: 0x%x value: 0x%x", target, reg, value)
	return s.DB.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(registerBucket(target))
		if err != nil {
			return err
		}
		return b.Put(uint32ToByte(reg), uint32ToByte(value))
	})
}

// GetRegister ...
func (s *State) GetRegister(target, reg uint32) (uint32, error) {
	var value uint32
	if err := s.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(registerBucket(target))
		if b == nil {
			return ErrNotFound{What: fmt.Sprintf("target %d", target)}
		}
		valueBytes := b.Get(uint32ToByte(reg))
		if valueBytes == nil {
			return ErrNotFound{What: fmt.Sprintf("register 0x%x of target %d", reg, target)}
		}
		value = binary.BigEndian.Uint32(valueBytes)
		return nil
	}); err != nil {
		return 0, err
	}
	return value, nil
}

// GetRegisters returns the cached registers of the target ordered by address
func (s *State) GetRegisters(target uint32) ([]*Register, error) {
	var regs []*Register
	if err := s.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(registerBucket(target))
		if b == nil {
			return ErrNotFound{What: fmt.Sprintf("target %d", target)}
		}
		return b.ForEach(func(k, v []byte) error {
			regs = append(regs, &Register{
				Target: target,
				Reg:    binary.BigEndian.Uint32(k),
				Value:  binary.BigEndian.Uint32(v),
			})
			return nil
		})
	}); err != nil {
		return nil, err
	}
	return regs, nil
}

// PutNotification appends to the notification log
func (s *State) PutNotification(n *broker.Notification) error {
	data, err := yaml.Marshal(n)
	if err != nil {
		return err
	}
	return s.DB.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(NotificationBucket))
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(uint64ToByte(id), data); err != nil {
			return err
		}
		if id > MaxNotifications {
			return b.Delete(uint64ToByte(id - MaxNotifications))
		}
		return nil
	})
}

// GetNotifications returns up to limit latest notifications, oldest first.
// Zero limit returns the whole log.
func (s *State) GetNotifications(limit int) ([]*broker.Notification, error) {
	var notifications []*broker.Notification
	if err := s.DB.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(NotificationBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(notifications) == limit {
				break
			}
			n := &broker.Notification{}
			if err := yaml.Unmarshal(v, n); err != nil {
				log.Error("Error while unmarshalling notification %d: %s", binary.BigEndian.Uint64(k), err)
				return err
			}
			notifications = append(notifications, n)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	for i, j := 0, len(notifications)-1; i < j; i, j = i+1, j-1 {
		notifications[i], notifications[j] = notifications[j], notifications[i]
	}
	return notifications, nil
}

// SetSession ...
func (s *State) SetSession(rec *SessionRecord) error {
	log.Debug("Setting session record: program: %s target: %q", rec.Program, rec.Target)
	data, err := yaml.Marshal(rec)
	if err != nil {
		return err
	}
	return s.DB.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(SessionBucket)).Put([]byte(SessionKey), data)
	})
}

// GetSession ...
func (s *State) GetSession() (*SessionRecord, error) {
	rec := &SessionRecord{}
	if err := s.DB.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(SessionBucket)).Get([]byte(SessionKey))
		if data == nil {
			return ErrNotFound{What: "session record"}
		}
		return yaml.Unmarshal(data, rec)
	}); err != nil {
		return nil, err
	}
	return rec, nil
}
