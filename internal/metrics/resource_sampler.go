package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Sample holds one resource snapshot of a live preview tool.
type Sample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// SamplerConfig configures periodic resource sampling of preview processes.
type SamplerConfig struct {
	Enabled  bool          `toml:"enabled" mapstructure:"enabled"`
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
	History  int           `toml:"history" mapstructure:"history"`
}

// ResourceSampler periodically samples CPU/memory of live preview tools and
// exports them as gauges. A bounded per-session ring keeps recent samples
// for the status API.
type ResourceSampler struct {
	enabled    bool
	interval   time.Duration
	maxHistory int

	mu      sync.RWMutex
	history map[string]*sampleRing // session key -> recent samples

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpu     *prometheus.GaugeVec
	mem     *prometheus.GaugeVec
	threads *prometheus.GaugeVec
	fds     *prometheus.GaugeVec
}

// NewResourceSampler creates a sampler; zero values fall back to a 5s
// interval and 100 retained samples per session.
func NewResourceSampler(cfg SamplerConfig) *ResourceSampler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	maxHistory := cfg.History
	if maxHistory <= 0 {
		maxHistory = 100
	}
	label := []string{"key"}
	return &ResourceSampler{
		enabled:    cfg.Enabled,
		interval:   interval,
		maxHistory: maxHistory,
		history:    make(map[string]*sampleRing),
		stopCh:     make(chan struct{}),
		cpu: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "previewd", Subsystem: "session", Name: "cpu_percent",
			Help: "CPU usage percentage of the preview tool.",
		}, label),
		mem: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "previewd", Subsystem: "session", Name: "memory_mb",
			Help: "Resident memory of the preview tool in MB.",
		}, label),
		threads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "previewd", Subsystem: "session", Name: "num_threads",
			Help: "Thread count of the preview tool.",
		}, label),
		fds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "previewd", Subsystem: "session", Name: "num_fds",
			Help: "Open file descriptors of the preview tool (Unix only).",
		}, label),
	}
}

// Register registers the sampler gauges with the provided registerer.
func (s *ResourceSampler) Register(r prometheus.Registerer) error {
	if !s.enabled {
		return nil
	}
	cs := []prometheus.Collector{s.cpu, s.mem, s.threads}
	if runtime.GOOS != "windows" {
		cs = append(cs, s.fds)
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start begins periodic collection. livePIDs returns the current session
// key -> pid mapping; keys absent from it are swept from the gauges.
func (s *ResourceSampler) Start(ctx context.Context, livePIDs func() map[string]int32) {
	if !s.enabled {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.collect(livePIDs())
			}
		}
	}()
}

// Stop halts collection and waits for the loop to drain.
func (s *ResourceSampler) Stop() {
	if !s.enabled {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Latest returns the most recent sample for a session.
func (s *ResourceSampler) Latest(key string) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ring, ok := s.history[key]
	if !ok {
		return Sample{}, false
	}
	return ring.latest()
}

// History returns the retained samples for a session, oldest first.
func (s *ResourceSampler) History(key string) ([]Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ring, ok := s.history[key]
	if !ok {
		return nil, false
	}
	out := ring.ordered()
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// Enabled reports whether sampling is on.
func (s *ResourceSampler) Enabled() bool { return s.enabled }

// AddSampleForTesting seeds the per-session history without collecting.
func (s *ResourceSampler) AddSampleForTesting(key string, sm Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ring, ok := s.history[key]
	if !ok {
		ring = newSampleRing(s.maxHistory)
		s.history[key] = ring
	}
	ring.add(sm)
}

func (s *ResourceSampler) collect(pids map[string]int32) {
	now := time.Now()
	collected := make(map[string]Sample, len(pids))
	for key, pid := range pids {
		if pid <= 0 {
			continue
		}
		sm, err := sampleProcess(pid, now)
		if err != nil {
			slog.Debug("resource sample failed", "key", key, "pid", pid, "error", err)
			continue
		}
		collected[key] = sm
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, sm := range collected {
		s.cpu.WithLabelValues(key).Set(sm.CPUPercent)
		s.mem.WithLabelValues(key).Set(sm.MemoryMB)
		s.threads.WithLabelValues(key).Set(float64(sm.NumThreads))
		if runtime.GOOS != "windows" && sm.NumFDs > 0 {
			s.fds.WithLabelValues(key).Set(float64(sm.NumFDs))
		}
		ring, ok := s.history[key]
		if !ok {
			ring = newSampleRing(s.maxHistory)
			s.history[key] = ring
		}
		ring.add(sm)
	}
	// sweep sessions that ended
	for key := range s.history {
		if _, live := pids[key]; live {
			continue
		}
		delete(s.history, key)
		s.cpu.DeleteLabelValues(key)
		s.mem.DeleteLabelValues(key)
		s.threads.DeleteLabelValues(key)
		if runtime.GOOS != "windows" {
			s.fds.DeleteLabelValues(key)
		}
	}
}

func sampleProcess(pid int32, ts time.Time) (Sample, error) {
	p, err := gopsproc.NewProcess(pid)
	if err != nil {
		return Sample{}, fmt.Errorf("process handle: %w", err)
	}
	sm := Sample{PID: pid, Timestamp: ts}
	if cpu, err := p.CPUPercent(); err == nil {
		sm.CPUPercent = cpu
	}
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return Sample{}, fmt.Errorf("memory info: %w", err)
	}
	sm.MemoryRSS = memInfo.RSS
	sm.MemoryMB = float64(memInfo.RSS) / 1024 / 1024
	if n, err := p.NumThreads(); err == nil {
		sm.NumThreads = n
	}
	if runtime.GOOS != "windows" {
		if n, err := p.NumFDs(); err == nil {
			sm.NumFDs = n
		}
	}
	return sm, nil
}

// sampleRing is a fixed-capacity ring of samples.
type sampleRing struct {
	buf   []Sample
	start int
	count int
}

func newSampleRing(capacity int) *sampleRing {
	return &sampleRing{buf: make([]Sample, capacity)}
}

func (r *sampleRing) add(s Sample) {
	if r.count < len(r.buf) {
		r.buf[r.count] = s
		r.count++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

func (r *sampleRing) latest() (Sample, bool) {
	if r.count == 0 {
		return Sample{}, false
	}
	if r.count < len(r.buf) {
		return r.buf[r.count-1], true
	}
	return r.buf[(r.start-1+len(r.buf))%len(r.buf)], true
}

func (r *sampleRing) ordered() []Sample {
	out := make([]Sample, r.count)
	if r.count < len(r.buf) {
		copy(out, r.buf[:r.count])
		return out
	}
	n := copy(out, r.buf[r.start:])
	copy(out[n:], r.buf[:r.start])
	return out
}
