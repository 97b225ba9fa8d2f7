package instrument

import "fmt"

// EventName identifies a runner lifecycle event.
type EventName string

const (
	EventSetup         EventName = "setup"           // Suite environment is ready
	EventTestStart     EventName = "test_start"      // Test body is about to run
	EventTestSkip      EventName = "test_skip"       // Test is skipped, body never runs
	EventTestTodo      EventName = "test_todo"       // Test is a placeholder, body never runs
	EventTestFnFailure EventName = "test_fn_failure" // Failure reported out of band by the runner
	EventTeardown      EventName = "teardown"        // Suite environment is going away
)

// Test is the test an event refers to. Fn is the runner supplied body; on
// test_start it is replaced by the instrumented body.
type Test struct {
	Name string
	Fn   any
}

// FailureKind classifies a failure reported through test_fn_failure.
type FailureKind int

const (
	FailureError FailureKind = iota
	FailureTimeout
)

func (k FailureKind) String() string {
	switch k {
	case FailureError:
		return "error"
	case FailureTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

// Failure describes a failure reported by the runner. The runner adapter,
// not the message text, decides the Kind.
type Failure struct {
	Kind    FailureKind
	Message string
}

// Event is one entry of the runner's event stream.
type Event struct {
	Name    EventName
	Test    *Test
	Failure *Failure
}

// State is where a test is in its lifecycle.
type State int

const (
	StatePending State = iota
	StateRunning
	StatePassed
	StateFailed
	StateSkipped
	StateTodo
	// StateTimedOut is Failed with a timeout layered on after the fact.
	StateTimedOut
)

var stateNames = map[State]string{
	StatePending:  "pending",
	StateRunning:  "running",
	StatePassed:   "passed",
	StateFailed:   "failed",
	StateSkipped:  "skipped",
	StateTodo:     "todo",
	StateTimedOut: "timed_out",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}
