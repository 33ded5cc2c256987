package registry

import (
	"container/heap"
	"sync"
	"time"
)

type wakeup struct {
	duelID string
	at     time.Time
	index  int
}

type wakeupHeap []*wakeup

func (h wakeupHeap) Len() int           { return len(h) }
func (h wakeupHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h wakeupHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *wakeupHeap) Push(x any) {
	w := x.(*wakeup)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *wakeupHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}

// DeadlineScheduler keeps one pending wakeup per duel in a min-heap and calls
// fire when it is due. Schedule never blocks.
type DeadlineScheduler struct {
	mu      sync.Mutex
	heap    wakeupHeap
	byDuel  map[string]*wakeup
	fire    func(duelID string)
	now     func() time.Time
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	started sync.Once
	stopped sync.Once
}

// NewDeadlineScheduler creates a scheduler; fire runs on its own goroutine per wakeup.
func NewDeadlineScheduler(fire func(duelID string)) *DeadlineScheduler {
	return &DeadlineScheduler{
		byDuel: make(map[string]*wakeup),
		fire:   fire,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Schedule replaces the duel's pending wakeup. A zero time removes it.
func (s *DeadlineScheduler) Schedule(duelID string, at time.Time) {
	s.mu.Lock()
	w, ok := s.byDuel[duelID]
	switch {
	case at.IsZero():
		if ok {
			heap.Remove(&s.heap, w.index)
			delete(s.byDuel, duelID)
		}
	case ok:
		if w.at.Equal(at) {
			s.mu.Unlock()
			return
		}
		w.at = at
		heap.Fix(&s.heap, w.index)
	default:
		w = &wakeup{duelID: duelID, at: at}
		heap.Push(&s.heap, w)
		s.byDuel[duelID] = w
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of scheduled wakeups.
func (s *DeadlineScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.heap)
}

// Start runs the timer loop.
func (s *DeadlineScheduler) Start() {
	s.started.Do(func() { go s.run() })
}

// Stop ends the timer loop. Pending wakeups are dropped.
func (s *DeadlineScheduler) Stop() {
	s.stopped.Do(func() { close(s.stop) })
	s.started.Do(func() { close(s.done) })
	<-s.done
}

func (s *DeadlineScheduler) run() {
	defer close(s.done)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		due, wait := s.popDue()
		for _, id := range due {
			go s.fire(id)
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		var timerC <-chan time.Time
		if wait > 0 {
			timer.Reset(wait)
			timerC = timer.C
		}
		select {
		case <-s.stop:
			return
		case <-s.wake:
		case <-timerC:
		}
	}
}

// popDue removes every wakeup at or before now and reports how long until the next one.
// A zero wait means nothing is scheduled.
func (s *DeadlineScheduler) popDue() ([]string, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var due []string
	for len(s.heap) > 0 && !s.heap[0].at.After(now) {
		w := heap.Pop(&s.heap).(*wakeup)
		delete(s.byDuel, w.duelID)
		due = append(due, w.duelID)
	}
	if len(s.heap) == 0 {
		return due, 0
	}
	return due, s.heap[0].at.Sub(now)
}
