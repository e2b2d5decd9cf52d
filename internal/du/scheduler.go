package du

import (
	"context"
	"fmt"
	"sync"
)

// Job is one unit of work admitted by a Scheduler.
type Job struct {
	// Crtcs is the set of CRTC indices the job touches.
	Crtcs uint32
	// Admit, if set, runs with the CRTCs in held reserved. It returns the
	// CRTCs the job needs; when they go beyond held the scheduler drops
	// held and waits for the union. An error drops held and fails Commit.
	Admit func(held uint32) (uint32, error)
	// Swap runs once the job is admitted, before Commit returns. After it
	// the new configuration is authoritative.
	Swap func()
	// Apply programs the hardware. It runs inline or in the background.
	Apply func()
	// Complete, if set, runs after the pending bits are cleared.
	Complete func()
}

// Scheduler serializes jobs touching overlapping CRTC sets. Jobs on
// disjoint sets run concurrently; overlapping jobs run in admission order.
type Scheduler struct {
	mu      sync.Mutex
	pending uint32
	changed chan struct{} // closed and replaced whenever pending shrinks
	closed  bool
	wg      sync.WaitGroup
}

// NewScheduler returns an idle scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{changed: make(chan struct{})}
}

// Pending returns the CRTCs with a job in flight.
func (s *Scheduler) Pending() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Commit blocks until no CRTC in job.Crtcs has a job in flight, marks them
// pending, admits and swaps. With async set Apply runs on a background
// goroutine and Commit returns immediately. If ctx is cancelled before
// admission, Commit returns ErrInterrupted and nothing is changed.
func (s *Scheduler) Commit(ctx context.Context, job Job, async bool) error {
	for {
		if err := s.acquire(ctx, job.Crtcs); err != nil {
			return err
		}
		if job.Admit == nil {
			break
		}
		need, err := job.Admit(job.Crtcs)
		if err == nil && need&^job.Crtcs == 0 {
			break
		}
		s.release(job.Crtcs)
		if err != nil {
			return err
		}
		job.Crtcs |= need
	}

	if job.Swap != nil {
		job.Swap()
	}

	if async {
		go s.run(job)
		return nil
	}
	s.run(job)
	return nil
}

// acquire waits until crtcs are idle and marks them pending.
func (s *Scheduler) acquire(ctx context.Context, crtcs uint32) error {
	s.mu.Lock()
	for !s.closed && s.pending&crtcs != 0 {
		ch := s.changed
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("commit wait: %w: %w", ErrInterrupted, ctx.Err())
		}
		s.mu.Lock()
	}
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.pending |= crtcs
	s.wg.Add(1)
	s.mu.Unlock()
	return nil
}

// release drops crtcs of a job that was not admitted.
func (s *Scheduler) release(crtcs uint32) {
	s.complete(crtcs)
	s.wg.Done()
}

func (s *Scheduler) run(job Job) {
	defer s.wg.Done()
	if job.Apply != nil {
		job.Apply()
	}
	s.complete(job.Crtcs)
	if job.Complete != nil {
		job.Complete()
	}
}

func (s *Scheduler) complete(crtcs uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending &^= crtcs
	close(s.changed)
	s.changed = make(chan struct{})
}

// Close rejects new jobs, wakes waiters and waits for jobs in flight.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.changed)
		s.changed = make(chan struct{})
	}
	s.mu.Unlock()
	s.wg.Wait()
}
