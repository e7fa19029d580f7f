// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package executor

import (
	"context"
	"sync"
	"time"
)

// streamCapacity is the event channel buffer. A consumer more than this far
// behind back-pressures the producer on lossless events.
const streamCapacity = 256

// Stream is a buffered event channel with per-turn sequencing. Status
// indicator events are lossy under back-pressure; all other events block
// until the consumer drains or the context ends.
type Stream struct {
	ch chan Event

	mu       sync.Mutex
	sequence int
	closed   bool
}

// NewStream creates a stream with the standard buffer.
func NewStream() *Stream {
	return &Stream{ch: make(chan Event, streamCapacity)}
}

// Events returns the consumer side of the stream.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Emit queues a lossless event, blocking under back-pressure.
func (s *Stream) Emit(ctx context.Context, e Event) error {
	e = s.stamp(e)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	select {
	case s.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EmitLossy queues an event if the buffer has room, dropping it otherwise.
// Indicator updates tolerate loss; stalling the loop for them does not.
func (s *Stream) EmitLossy(e Event) {
	e = s.stamp(e)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	select {
	case s.ch <- e:
	default:
	}
}

func (s *Stream) stamp(e Event) Event {
	s.mu.Lock()
	s.sequence++
	e.Sequence = s.sequence
	s.mu.Unlock()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return e
}

// Close ends the stream. Safe to call once the producer is done.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
