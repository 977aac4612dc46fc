// Copyright 2026 The OCR Core Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package scheduler implements the pop-then-steal take algorithm and its
// per-worker steal iterators (spec.md §3, §5). The scheduler owns no
// synchronization of its own: the pool array and iterator cache are fixed
// at construction (the "one-time mapping step"), and each iterator is
// thereafter exclusively owned by its worker, so Take is lock-free from the
// scheduler's point of view even though the underlying workpiles are not.
package scheduler

import (
	"fmt"

	"github.com/talismancer/ocr-core/pkg/log"
	"github.com/talismancer/ocr-core/pkg/ocr/guid"
	"github.com/talismancer/ocr-core/pkg/ocr/workpile"
)

// Pool is the subset of *workpile.Workpile the scheduler depends on. Tests
// use it to substitute deques that record which worker called Steal,
// verifying invariant P4 (steal victim exclusion).
type Pool interface {
	Push(g guid.GUID)
	Pop(cost int) (guid.GUID, bool)
	Steal(cost int) (guid.GUID, bool)
}

var _ Pool = (*workpile.Workpile)(nil)

// stealIterator is a round-robin cursor over every pool except its owner's
// home, snapshotting the pool array at construction time (spec.md §5:
// "traverses every pool except the home in a deterministic round-robin
// order").
type stealIterator struct {
	pools []Pool
	order []int // indices into pools, excluding home, in visit order
	home  int
	pos   int // reset to 0 at the start of every Take
}

func newStealIterator(pools []Pool, home int) *stealIterator {
	n := len(pools)
	order := make([]int, 0, n-1)
	for off := 1; off < n; off++ {
		order = append(order, (home+off)%n)
	}
	return &stealIterator{pools: pools, order: order, home: home}
}

// next returns the next victim pool index in round-robin order; ok is false
// once every foreign pool has been visited since the last reset (at once in
// an N=1 system, which has no foreign pools).
func (it *stealIterator) next() (idx int, ok bool) {
	if it.pos >= len(it.order) {
		return 0, false
	}
	idx = it.order[it.pos]
	it.pos++
	return idx, true
}

func (it *stealIterator) reset() { it.pos = 0 }

// Scheduler maps worker id to a home workpile and implements Take's
// pop-then-steal algorithm (spec.md §5).
type Scheduler struct {
	begin, end int // worker id range [begin, end], inclusive
	pools      []Pool
	iterators  []*stealIterator // one per local worker, index by (id-begin)
}

// New constructs a Scheduler serving worker ids [begin, end] (inclusive),
// binding one pool per worker in order. len(pools) must equal end-begin+1.
func New(begin, end int, pools []Pool) (*Scheduler, error) {
	n := end - begin + 1
	if n <= 0 {
		return nil, fmt.Errorf("scheduler: empty worker range [%d, %d]", begin, end)
	}
	if len(pools) != n {
		return nil, fmt.Errorf("scheduler: got %d pools, need %d for range [%d, %d]", len(pools), n, begin, end)
	}
	s := &Scheduler{begin: begin, end: end, pools: pools, iterators: make([]*stealIterator, n)}
	for i := 0; i < n; i++ {
		s.iterators[i] = newStealIterator(pools, i)
	}
	return s, nil
}

func (s *Scheduler) localIndex(workerID int) (int, error) {
	if workerID < s.begin || workerID > s.end {
		return 0, fmt.Errorf("scheduler: worker %d outside range [%d, %d]", workerID, s.begin, s.end)
	}
	return workerID - s.begin, nil
}

// Give pushes g onto workerID's home pool.
func (s *Scheduler) Give(workerID int, g guid.GUID) error {
	i, err := s.localIndex(workerID)
	if err != nil {
		return err
	}
	s.pools[i].Push(g)
	return nil
}

// Take implements the pop-then-steal algorithm for workerID (spec.md §5):
// first pop the worker's own home pool; on a miss, walk the worker's steal
// iterator, visiting every other pool at most once, until one yields a
// task or the iterator is exhausted. Returns (NullGUID, false) if no task
// was found anywhere.
func (s *Scheduler) Take(workerID int, cost int) (guid.GUID, bool, error) {
	i, err := s.localIndex(workerID)
	if err != nil {
		return guid.NullGUID, false, err
	}

	if g, ok := s.pools[i].Pop(cost); ok {
		return g, true, nil
	}

	it := s.iterators[i]
	it.reset()
	for {
		victim, ok := it.next()
		if !ok {
			break
		}
		if g, ok := s.pools[victim].Steal(cost); ok {
			log.Debugf("scheduler: worker %d stole from pool %d", workerID+s.begin, victim+s.begin)
			return g, true, nil
		}
		if victim == i {
			panic("scheduler: steal iterator visited its own home pool")
		}
	}
	return guid.NullGUID, false, nil
}

// NumWorkers reports the number of workers this scheduler serves.
func (s *Scheduler) NumWorkers() int { return s.end - s.begin + 1 }
