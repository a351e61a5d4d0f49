package services

import (
	"sync"
	"testing"
	"time"
)

func TestSchedulerForceRun(t *testing.T) {
	s := NewScheduler()

	ran := 0
	if err := s.ScheduleCron("nightly", "0 3 * * *", func() error {
		ran++
		return nil
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if err := s.ForceRun("nightly"); err != nil {
		t.Fatalf("force run: %v", err)
	}
	if ran != 1 {
		t.Fatalf("job ran %d times, want 1", ran)
	}

	if err := s.ForceRun("no-such-job"); err == nil {
		t.Fatal("force run of an unknown id should fail")
	}
}

func TestSchedulerRejectsOverlappingForceRun(t *testing.T) {
	s := NewScheduler()

	release := make(chan struct{})
	started := make(chan struct{})
	s.ScheduleInterval("slow", time.Hour, func() error {
		close(started)
		<-release
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.ForceRun("slow")
	}()

	<-started
	if err := s.ForceRun("slow"); err == nil {
		t.Fatal("second force run while running should fail")
	}
	close(release)
	wg.Wait()
}

func TestSchedulerJobIDs(t *testing.T) {
	s := NewScheduler()
	s.ScheduleCron("a", "0 3 * * *", func() error { return nil })
	s.ScheduleInterval("b", time.Hour, func() error { return nil })

	ids := s.JobIDs()
	if len(ids) != 2 {
		t.Fatalf("ids = %v, want 2 entries", ids)
	}
}

func TestSchedulerStoppedRefusesForceRun(t *testing.T) {
	s := NewScheduler()
	s.ScheduleCron("a", "0 3 * * *", func() error { return nil })
	s.Stop()

	if err := s.ForceRun("a"); err == nil {
		t.Fatal("force run after stop should fail")
	}
}
