/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package supervisor

import (
	"errors"
	"fmt"
	"time"

	queuepkg "github.com/Workiva/go-datastructures/queue"
)

// exitEvent reports a worker process that exited.
type exitEvent struct {
	nr  int
	pid int
	err error
}

// eventQueue carries exit events from the waiter goroutines to the
// supervisor loop.
type eventQueue struct {
	q *queuepkg.RingBuffer
}

var errQueueTimeout = errors.New("event queue: timeout")

func newEventQueue(capacity uint64) *eventQueue {
	return &eventQueue{q: queuepkg.NewRingBuffer(capacity)}
}

func (q *eventQueue) put(e exitEvent) error {
	return q.q.Put(e)
}

// poll waits up to timeout for the next event.
func (q *eventQueue) poll(timeout time.Duration) (exitEvent, error) {
	item, err := q.q.Poll(timeout)
	if errors.Is(err, queuepkg.ErrTimeout) {
		return exitEvent{}, errQueueTimeout
	}
	if err != nil {
		return exitEvent{}, err
	}
	e, ok := item.(exitEvent)
	if !ok {
		return exitEvent{}, fmt.Errorf("invalid queue element type %T", item)
	}
	return e, nil
}

func (q *eventQueue) len() uint64 {
	return q.q.Len()
}

func (q *eventQueue) dispose() {
	q.q.Dispose()
}
