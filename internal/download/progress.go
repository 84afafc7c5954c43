package download

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ytget/yt-queue/internal/model"
)

// ProgressTracker keeps the latest progress snapshot of every in-flight job
// and fans it out to subscribers without blocking the writer.
type ProgressTracker struct {
	mu      sync.Mutex
	jobs    map[string]*trackedJob
	nextGen uint64
	nextSub uint64
	now     func() time.Time
}

type trackedJob struct {
	gen     uint64 // 0 while only subscribers are waiting
	started time.Time
	snap    model.DownloadProgress
	subs    map[uint64]chan model.DownloadProgress
}

// NewProgressTracker creates an empty tracker
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{
		jobs: make(map[string]*trackedJob),
		now:  time.Now,
	}
}

// ProgressReporter is the single writer handle of one job run
type ProgressReporter struct {
	tracker *ProgressTracker
	id      string
	gen     uint64
}

// Begin starts tracking id and returns its writer. A previous reporter for
// the same id stops having any effect.
func (t *ProgressTracker) Begin(id string) *ProgressReporter {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextGen++
	now := t.now()
	job, ok := t.jobs[id]
	if !ok {
		job = &trackedJob{subs: make(map[uint64]chan model.DownloadProgress)}
		t.jobs[id] = job
	}
	job.gen = t.nextGen
	job.started = now
	job.snap = model.DownloadProgress{
		JobID:     id,
		Status:    model.StatusDownloading,
		UpdatedAt: now,
	}
	job.publish()

	return &ProgressReporter{tracker: t, id: id, gen: job.gen}
}

// Report merges an engine event into the snapshot
func (r *ProgressReporter) Report(ev model.ProgressEvent) {
	t := r.tracker
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[r.id]
	if !ok || job.gen != r.gen {
		return
	}

	now := t.now()
	s := &job.snap
	s.DownloadedBytes = ev.DownloadedBytes
	s.TotalBytes = ev.TotalBytes
	s.Speed = ev.Speed
	s.ETA = ev.ETA
	if ev.Filename != "" {
		s.Filename = ev.Filename
	}
	if f := s.Fraction(); f >= 0 && f*100 > s.Percent {
		s.Percent = f * 100
	}
	s.Elapsed = now.Sub(job.started)
	s.UpdatedAt = now
	job.publish()
}

// Finish publishes the final status and stops tracking the job
func (r *ProgressReporter) Finish(status model.DownloadStatus) {
	t := r.tracker
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[r.id]
	if !ok || job.gen != r.gen {
		return
	}

	now := t.now()
	job.snap.Status = status
	if status == model.StatusCompleted {
		job.snap.Percent = 100
	}
	job.snap.Elapsed = now.Sub(job.started)
	job.snap.UpdatedAt = now
	job.publish()

	for sid, ch := range job.subs {
		close(ch)
		delete(job.subs, sid)
	}
	delete(t.jobs, r.id)
}

// Snapshot returns the latest progress of an in-flight job
func (t *ProgressTracker) Snapshot(id string) (model.DownloadProgress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok || job.gen == 0 {
		return model.DownloadProgress{}, false
	}
	return job.snap, true
}

// Subscribe returns a channel receiving progress snapshots of id. Only the
// latest snapshot is buffered. The channel is closed when the job run ends
// or when the returned func is called.
func (t *ProgressTracker) Subscribe(id string) (<-chan model.DownloadProgress, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		job = &trackedJob{subs: make(map[uint64]chan model.DownloadProgress)}
		t.jobs[id] = job
	}

	t.nextSub++
	sid := t.nextSub
	ch := make(chan model.DownloadProgress, 1)
	job.subs[sid] = ch
	if job.gen != 0 {
		ch <- job.snap
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()

			job, ok := t.jobs[id]
			if !ok {
				return
			}
			if c, ok := job.subs[sid]; ok {
				close(c)
				delete(job.subs, sid)
			}
			if job.gen == 0 && len(job.subs) == 0 {
				delete(t.jobs, id)
			}
		})
	}
	return ch, unsubscribe
}

// publish replaces whatever a subscriber has not read yet with the current
// snapshot. Must be called with the tracker lock held.
func (j *trackedJob) publish() {
	for _, ch := range j.subs {
		select {
		case ch <- j.snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- j.snap:
			default:
			}
		}
	}
}

// progressThrottle decides which progress fractions are persisted
type progressThrottle struct {
	minDelta  float64
	last      float64
	sometimes *rate.Sometimes
}

func newProgressThrottle(minDelta float64, interval time.Duration, start float64) *progressThrottle {
	s := &rate.Sometimes{Interval: interval}
	// The first Do always runs; consume it so the interval starts now.
	s.Do(func() {})
	return &progressThrottle{minDelta: minDelta, last: start, sometimes: s}
}

// shouldWrite reports whether f must be persisted. Persisted progress never
// decreases.
func (p *progressThrottle) shouldWrite(f float64) bool {
	if f <= p.last {
		return false
	}

	write := f-p.last >= p.minDelta
	if !write {
		p.sometimes.Do(func() { write = true })
	}
	if write {
		p.last = f
	}
	return write
}
