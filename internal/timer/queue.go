// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package timer

import (
	"container/heap"
	"time"

	"github.com/holomush/pluginhost/pkg/pluginapi"
)

type entry struct {
	id     pluginapi.TimerID
	owner  string
	cb     *pluginapi.Callback
	delay  time.Duration
	repeat bool
	due    time.Time
	index  int // position in the queue, -1 while not queued
}

// queue orders timers by due time, then by handle.
type queue []*entry

var _ heap.Interface = (*queue)(nil)

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].id < q[j].id
	}
	return q[i].due.Before(q[j].due)
}

func (q queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *queue) Push(x any) {
	e := x.(*entry) //nolint:forcetypeassert // heap only holds *entry
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}
