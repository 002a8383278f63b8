package deps

import (
	"sync"

	"github.com/ValentinMastro/EncodeTalker/internal/events"
)

// BuildState describes an in-progress local dependency build.
type BuildState struct {
	Compiling bool
	Current   string
	Step      string
	Completed int
	Total     int
	LastError string
}

// BuildTracker records dependency build progress and publishes each
// transition on the event bus.
type BuildTracker struct {
	mu    sync.Mutex
	bus   *events.Bus
	state BuildState
}

// NewBuildTracker creates a tracker. A nil bus disables publishing.
func NewBuildTracker(bus *events.Bus) *BuildTracker {
	return &BuildTracker{bus: bus}
}

// State returns a copy of the current build state.
func (t *BuildTracker) State() BuildState {
	if t == nil {
		return BuildState{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Start begins a build of total items.
func (t *BuildTracker) Start(total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = BuildState{Compiling: true, Total: total}
	t.bus.Publish(events.DepsBuildStarted(total))
}

// SetCurrent records the item and step being worked on.
func (t *BuildTracker) SetCurrent(name, step string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Current = name
	t.state.Step = step
	t.bus.Publish(events.DepsBuildProgress(name, t.state.Completed+1, t.state.Total, step))
}

// CompleteItem marks the current item as built.
func (t *BuildTracker) CompleteItem() {
	t.mu.Lock()
	defer t.mu.Unlock()
	name := t.state.Current
	if t.state.Completed < t.state.Total {
		t.state.Completed++
	}
	t.state.Current = ""
	t.state.Step = ""
	t.bus.Publish(events.DepsBuildItemCompleted(name))
}

// Finish ends a successful build.
func (t *BuildTracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Compiling = false
	t.state.Current = ""
	t.state.Step = ""
	t.bus.Publish(events.DepsBuildCompleted())
}

// Fail ends the build with an error attributed to name.
func (t *BuildTracker) Fail(name string, err error) {
	message := "unknown error"
	if err != nil {
		message = err.Error()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Compiling = false
	t.state.LastError = message
	t.bus.Publish(events.DepsBuildFailed(name, message))
}
