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

// Package store keeps replay results in a bbolt database so that they can be
// queried after the replay finished.
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.etcd.io/bbolt"

	"jinr.ru/greenlab/go-osi/pkg/dissect"
	"jinr.ru/greenlab/go-osi/pkg/log"
	"jinr.ru/greenlab/go-osi/pkg/reassembly"
	"jinr.ru/greenlab/go-osi/pkg/roc"
)

const (
	BucketNamePrefix = "conv_"
	FramesBucket     = "frames"
	summaryKey       = "summary"
)

type ErrNotFound struct {
	What string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("Not found: %s", e.What)
}

type Store struct {
	context.Context
	DB *bbolt.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	if err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(FramesBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{
		Context: ctx,
		DB:      db,
	}, nil
}

func (s *Store) Close() {
	s.DB.Close()
}

func uint64ToByte(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func bucketName(key string) string {
	return fmt.Sprintf("%s%s", BucketNamePrefix, key)
}

// Save stores the summaries of all conversations and all results of the dispatcher
func (s *Store) Save(d *dissect.Dispatcher) error {
	for _, conv := range d.Conversations() {
		if err := s.SaveConversation(conv.Summary()); err != nil {
			return err
		}
	}
	return s.SaveResults(d.AllResults())
}

func (s *Store) SaveConversation(summary *dissect.Summary) error {
	log.Debug("Saving conversation %s", summary.Key)
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return s.DB.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketName(summary.Key)))
		if err != nil {
			return err
		}
		return b.Put([]byte(summaryKey), data)
	})
}

// SaveResults stores results grouped by frame number, a frame can carry several
func (s *Store) SaveResults(results []*dissect.Result) error {
	byFrame := make(map[uint64][]*dissect.Result)
	for _, res := range results {
		byFrame[res.Frame] = append(byFrame[res.Frame], res)
	}
	return s.DB.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(FramesBucket))
		if b == nil {
			return ErrNotFound{What: "bucket " + FramesBucket}
		}
		for frame, frameResults := range byFrame {
			data, err := json.Marshal(frameResults)
			if err != nil {
				return err
			}
			if err := b.Put(uint64ToByte(frame), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Conversation(key string) (*dissect.Summary, error) {
	summary := &dissect.Summary{}
	if err := s.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName(key)))
		if b == nil {
			return ErrNotFound{What: "conversation " + key}
		}
		data := b.Get([]byte(summaryKey))
		if data == nil {
			return ErrNotFound{What: "summary of " + key}
		}
		return json.Unmarshal(data, summary)
	}); err != nil {
		return nil, err
	}
	return summary, nil
}

func (s *Store) Conversations() ([]*dissect.Summary, error) {
	var summaries []*dissect.Summary
	if err := s.DB.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			if !strings.HasPrefix(string(name), BucketNamePrefix) {
				return nil
			}
			data := b.Get([]byte(summaryKey))
			if data == nil {
				return nil
			}
			summary := &dissect.Summary{}
			if err := json.Unmarshal(data, summary); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			summaries = append(summaries, summary)
			return nil
		})
	}); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (s *Store) Frame(number uint64) ([]*dissect.Result, error) {
	var results []*dissect.Result
	if err := s.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(FramesBucket))
		if b == nil {
			return ErrNotFound{What: "bucket " + FramesBucket}
		}
		data := b.Get(uint64ToByte(number))
		if data == nil {
			return ErrNotFound{What: fmt.Sprintf("frame %d", number)}
		}
		return json.Unmarshal(data, &results)
	}); err != nil {
		return nil, err
	}
	return results, nil
}

type PendingInvocation struct {
	Conversation string `json:"conversation"`
	*roc.Invocation
}

type PendingUnit struct {
	Conversation string `json:"conversation"`
	*reassembly.Unit
}

// Pending lists what was still open when the replay ended
type Pending struct {
	Invocations []PendingInvocation `json:"invocations"`
	Units       []PendingUnit       `json:"units"`
}

// Pending collects unanswered invocations and incomplete units of all conversations
func (s *Store) Pending() (*Pending, error) {
	summaries, err := s.Conversations()
	if err != nil {
		return nil, err
	}
	pending := &Pending{}
	for _, summary := range summaries {
		for _, inv := range summary.Unanswered() {
			pending.Invocations = append(pending.Invocations, PendingInvocation{Conversation: summary.Key, Invocation: inv})
		}
		for _, unit := range summary.PendingUnits {
			pending.Units = append(pending.Units, PendingUnit{Conversation: summary.Key, Unit: unit})
		}
	}
	return pending, nil
}

// Clear drops all stored conversations and frames
func (s *Store) Clear() error {
	return s.DB.Update(func(tx *bbolt.Tx) error {
		var names [][]byte
		if err := tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			names = append(names, append([]byte(nil), name...))
			return nil
		}); err != nil {
			return err
		}
		for _, name := range names {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}
		_, err := tx.CreateBucketIfNotExists([]byte(FramesBucket))
		return err
	})
}
