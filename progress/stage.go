package progress

import (
	"fmt"
	"sync"
	"time"
)

type Status int

const (
	Pending Status = iota
	Running
	Succeeded
	Failed
)

var frames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// now is replaced in tests.
var now = time.Now

// Stage is one line of build progress: a spinner while running, then a
// mark and the elapsed time.
type Stage struct {
	mu       sync.Mutex
	name     string
	status   Status
	started  time.Time
	finished time.Time
}

func NewStage(name string) *Stage {
	return &Stage{name: name}
}

func (s *Stage) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = Running
	s.started = now()
}

func (s *Stage) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = Succeeded
	if err != nil {
		s.status = Failed
	}
	s.finished = now()
}

func (s *Stage) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Stage) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case Running:
		elapsed := now().Sub(s.started)
		frame := frames[int(elapsed/(100*time.Millisecond))%len(frames)]
		return fmt.Sprintf("%s %s", frame, s.name)
	case Succeeded:
		return fmt.Sprintf("✓ %s (%s)", s.name, s.finished.Sub(s.started).Round(time.Millisecond))
	case Failed:
		return fmt.Sprintf("✗ %s (%s)", s.name, s.finished.Sub(s.started).Round(time.Millisecond))
	default:
		return "  " + s.name
	}
}

// Tracker shows one Stage per pipeline stage on a Progress.
type Tracker struct {
	p      *Progress
	mu     sync.Mutex
	stages map[string]*Stage
}

func NewTracker(p *Progress) *Tracker {
	return &Tracker{p: p, stages: make(map[string]*Stage)}
}

func (t *Tracker) StageStarted(name string) {
	s := NewStage(name)
	s.Start()

	t.mu.Lock()
	t.stages[name] = s
	t.mu.Unlock()
	t.p.Add(s)
}

func (t *Tracker) StageFinished(name string, err error) {
	t.mu.Lock()
	s, ok := t.stages[name]
	t.mu.Unlock()
	if ok {
		s.Finish(err)
	}
}

// Close stops rendering, leaving the final stage lines on screen.
func (t *Tracker) Close() {
	t.p.Stop()
}
