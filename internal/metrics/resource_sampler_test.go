package metrics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestSamplerDisabledIsInert(t *testing.T) {
	s := NewResourceSampler(SamplerConfig{Enabled: false})
	if err := s.Register(prometheus.NewRegistry()); err != nil {
		t.Fatalf("register disabled: %v", err)
	}
	s.Start(context.Background(), func() map[string]int32 { return nil })
	s.Stop() // must not hang without a started loop
	if _, ok := s.Latest("x"); ok {
		t.Fatalf("disabled sampler returned data")
	}
}

func TestSamplerCollectsOwnProcess(t *testing.T) {
	s := NewResourceSampler(SamplerConfig{Enabled: true, Interval: 10 * time.Millisecond, History: 4})
	if err := s.Register(prometheus.NewRegistry()); err != nil {
		t.Fatalf("register: %v", err)
	}
	pid := int32(os.Getpid())
	s.collect(map[string]int32{"self": pid})

	sm, ok := s.Latest("self")
	if !ok {
		t.Fatalf("no sample collected for own pid")
	}
	if sm.PID != pid {
		t.Fatalf("sample pid = %d, want %d", sm.PID, pid)
	}
	if sm.MemoryRSS == 0 {
		t.Fatalf("expected nonzero RSS for a live process")
	}
}

func TestSamplerSweepsEndedSessions(t *testing.T) {
	s := NewResourceSampler(SamplerConfig{Enabled: true})
	pid := int32(os.Getpid())
	s.collect(map[string]int32{"gone": pid})
	if _, ok := s.Latest("gone"); !ok {
		t.Fatalf("sample missing before sweep")
	}
	s.collect(map[string]int32{})
	if _, ok := s.Latest("gone"); ok {
		t.Fatalf("ended session still has samples")
	}
}

func TestSamplerHistoryOrderAndBound(t *testing.T) {
	r := newSampleRing(3)
	for i := 1; i <= 5; i++ {
		r.add(Sample{PID: int32(i)})
	}
	out := r.ordered()
	if len(out) != 3 {
		t.Fatalf("ring length = %d, want 3", len(out))
	}
	if out[0].PID != 3 || out[2].PID != 5 {
		t.Fatalf("ring order wrong: %v", []int32{out[0].PID, out[1].PID, out[2].PID})
	}
	latest, ok := r.latest()
	if !ok || latest.PID != 5 {
		t.Fatalf("latest = %v ok=%v, want PID 5", latest.PID, ok)
	}
}

func TestSamplerStartStop(t *testing.T) {
	s := NewResourceSampler(SamplerConfig{Enabled: true, Interval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx, func() map[string]int32 {
		return map[string]int32{"self": int32(os.Getpid())}
	})
	time.Sleep(30 * time.Millisecond)
	s.Stop()
	if _, ok := s.Latest("self"); !ok {
		t.Fatalf("expected at least one periodic sample")
	}
}
