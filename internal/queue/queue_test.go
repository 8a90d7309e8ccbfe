package queue

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMPSCFIFOPerSender(t *testing.T) {
	q := NewMPSC[int]()
	s := q.NewSender(3)

	for i := 0; i < 5; i++ {
		s.Push(i)
	}
	for i := 0; i < 5; i++ {
		require.Equal(t, i, q.Pop())
	}
}

func TestMPSCRoundRobinsAcrossSenders(t *testing.T) {
	q := NewMPSC[string]()
	a := q.NewSender(2)
	b := q.NewSender(2)

	a.Push("a1")
	b.Push("b1")
	a.Push("a2")
	b.Push("b2")

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		seen[q.Pop()] = true
	}
	require.Len(t, seen, 4)
}

func TestMPSCOverflowDeque(t *testing.T) {
	q := NewMPSC[int]()
	q.NewSender(2)
	q.PushOverflow(42)
	require.Equal(t, 42, q.Pop())
}

func TestMPSCBlocksUntilPush(t *testing.T) {
	q := NewMPSC[int]()
	s := q.NewSender(2)

	done := make(chan int, 1)
	go func() { done <- q.Pop() }()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("Pop returned before any push")
	default:
	}

	s.Push(7)
	require.Equal(t, 7, <-done)
}

func TestMPSCProducerBlocksWhenFull(t *testing.T) {
	q := NewMPSC[int]()
	s := q.NewSender(1) // capacity 2

	s.Push(1)
	s.Push(2)

	pushed := make(chan struct{})
	go func() {
		s.Push(3)
		close(pushed)
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-pushed:
		t.Fatal("push on a full ring should block")
	default:
	}

	require.Equal(t, 1, q.Pop())
	<-pushed
}

func TestMPSCConcurrentProducers(t *testing.T) {
	q := NewMPSC[int]()
	const perSender = 200
	const senders = 4

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		s := q.NewSender(4)
		wg.Add(1)
		go func(s *Sender[int], base int) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				s.Push(base*perSender + j)
			}
		}(s, i)
	}

	got := make([]int, 0, senders*perSender)
	for i := 0; i < senders*perSender; i++ {
		got = append(got, q.Pop())
	}
	wg.Wait()

	sort.Ints(got)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

// TestMPSCNoLostWakeup hammers Pop with a consumer that re-enters its wait
// loop right as producers push, the window a cond-variable predicate not
// guarded by the same lock as the wait would drop a wakeup in. It must
// complete well within the deadline on every run.
func TestMPSCNoLostWakeup(t *testing.T) {
	q := NewMPSC[int]()
	const perSender = 500
	const senders = 8

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		s := q.NewSender(1) // capacity 2: forces frequent empty<->non-empty transitions
		wg.Add(1)
		go func(s *Sender[int]) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				s.Push(j)
			}
		}(s)
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < senders*perSender; i++ {
			q.Pop()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Pop stalled: a push's wakeup signal was lost")
	}
	wg.Wait()
}

func TestSPMCRoundRobinDispatch(t *testing.T) {
	q := NewSPMC[int]()
	r1 := q.NewReceiver(2)
	r2 := q.NewReceiver(2)

	q.Dispatch(1)
	q.Dispatch(2)

	require.Equal(t, 1, r1.Pop())
	require.Equal(t, 2, r2.Pop())
}

func TestSPMCBlocksWhenAllFull(t *testing.T) {
	q := NewSPMC[int]()
	r := q.NewReceiver(1) // capacity 2

	q.Dispatch(1)
	q.Dispatch(2)

	dispatched := make(chan struct{})
	go func() {
		q.Dispatch(3)
		close(dispatched)
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-dispatched:
		t.Fatal("dispatch to a full receiver set should block")
	default:
	}

	require.Equal(t, 1, r.Pop())
	<-dispatched
}

func TestSPMCConcurrentWorkers(t *testing.T) {
	q := NewSPMC[int]()
	const workers = 4
	receivers := make([]*Receiver[int], workers)
	for i := range receivers {
		receivers[i] = q.NewReceiver(3)
	}

	const total = 400
	const stop = -1
	go func() {
		for i := 0; i < total; i++ {
			q.Dispatch(i)
		}
		for i := 0; i < workers; i++ {
			q.Dispatch(stop)
		}
	}()

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	for _, r := range receivers {
		wg.Add(1)
		go func(r *Receiver[int]) {
			defer wg.Done()
			for {
				v := r.Pop()
				if v == stop {
					return
				}
				mu.Lock()
				got = append(got, v)
				mu.Unlock()
			}
		}(r)
	}
	wg.Wait()

	require.Len(t, got, total)
	sort.Ints(got)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

// TestSPMCNoLostWakeup mirrors TestMPSCNoLostWakeup for the producer side:
// a single Dispatch caller racing many receivers popping out of small
// rings must never block past the deadline waiting on a dropped signal.
func TestSPMCNoLostWakeup(t *testing.T) {
	q := NewSPMC[int]()
	const workers = 8
	const perWorker = 500
	const total = workers * perWorker
	const stop = -1

	receivers := make([]*Receiver[int], workers)
	for i := range receivers {
		receivers[i] = q.NewReceiver(1) // capacity 2
	}

	go func() {
		for i := 0; i < total; i++ {
			q.Dispatch(i)
		}
		for range receivers {
			q.Dispatch(stop)
		}
	}()

	done := make(chan struct{})
	var wg sync.WaitGroup
	for _, r := range receivers {
		wg.Add(1)
		go func(r *Receiver[int]) {
			defer wg.Done()
			for r.Pop() != stop {
			}
		}(r)
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Dispatch/Pop stalled: a wakeup signal was lost")
	}
}
