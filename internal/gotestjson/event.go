// Package gotestjson records `go test -json` streams as test spans.
//
// Each package in the stream is one suite. Tests become spans when they
// start running and are finished with the timestamps of their terminal
// events; subtests are children of their parent test's span. A package's
// terminal event tears its suite down.
package gotestjson

import (
	"strings"
	"time"
)

// Action is the kind of a test2json event.
type Action string

const (
	ActionStart  Action = "start"
	ActionRun    Action = "run"
	ActionPause  Action = "pause"
	ActionCont   Action = "cont"
	ActionOutput Action = "output"
	ActionPass   Action = "pass"
	ActionFail   Action = "fail"
	ActionSkip   Action = "skip"
	ActionBench  Action = "bench"
)

// Event is one line of `go test -json` output.
type Event struct {
	Time    time.Time `json:"Time"`
	Action  Action    `json:"Action"`
	Package string    `json:"Package"`
	Test    string    `json:"Test,omitempty"`
	Elapsed float64   `json:"Elapsed,omitempty"`
	Output  string    `json:"Output,omitempty"`
}

// terminal reports whether the action ends a test or package.
func (a Action) terminal() bool {
	return a == ActionPass || a == ActionFail || a == ActionSkip
}

// timeoutMarker starts the line the testing package prints when -timeout
// expires.
const timeoutMarker = "panic: test timed out"

func isTimeout(output string) bool {
	return strings.HasPrefix(strings.TrimSpace(output), timeoutMarker)
}

// parentTest returns the name of the test that started name, or "" for top
// level tests.
func parentTest(name string) string {
	i := strings.LastIndex(name, "/")
	if i < 0 {
		return ""
	}
	return name[:i]
}
