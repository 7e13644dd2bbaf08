// Package agent drives the bounded consult → dispatch → append loop that
// turns a free-form request into sandboxed tool calls.
package agent

import (
	"context"
	"errors"

	"github.com/jkaninda/kazi/internal/tools"
)

// DefaultMaxIterations is the safety guard against runaway tool-use loops.
const DefaultMaxIterations = 20

// DefaultSystemPrompt tells the oracle what it can do.
const DefaultSystemPrompt = `You are a helpful AI coding agent.

When a user asks a question or makes a request, make a function call plan. You can perform the following operations:

- List files and directories
- Read file contents
- Execute Python files
- Write or overwrite files

All paths you provide should be relative to the working directory. You do not need to specify the working directory in your function calls as it is automatically injected for security reasons.`

// ErrOracle wraps every failure to consult the decision oracle.
var ErrOracle = errors.New("oracle consultation failed")

// State is the loop's state. Every state except Running is terminal.
type State int

const (
	Running State = iota
	Done
	Exhausted
	Failed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Done:
		return "done"
	case Exhausted:
		return "exhausted"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of one Run.
type Outcome struct {
	State         State
	FinalText     string // Set only when State is Done.
	Iterations    int    // Oracle consultations performed.
	TokensUsed    int
	CorrelationID string
	Conversation  []Turn
	Err           error // Set only when State is Failed.
}

// Oracle decides the next step given the conversation so far.
type Oracle interface {
	Consult(ctx context.Context, turns []Turn, defs []tools.Definition) (*Reply, error)
}

// Reply is the oracle's answer. No Calls means Text is the final answer;
// otherwise Text is commentary that accompanies the calls.
type Reply struct {
	Text   string
	Calls  []tools.Call
	Tokens int
}
