package agent

import "github.com/jkaninda/kazi/internal/tools"

// Role tags a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleTool  Role = "tool"
)

// Turn is one entry of the conversation.
type Turn struct {
	Role   Role          `json:"role"`
	Text   string        `json:"text,omitempty"`
	Calls  []tools.Call  `json:"calls,omitempty"`  // Agent turns only.
	Result *tools.Result `json:"result,omitempty"` // Tool turns only.
}

// Conversation is the append-only state of a single Run. It is owned by
// the loop; tools and the oracle only ever see copies.
type Conversation struct {
	turns []Turn
}

// NewConversation starts a conversation with a single user turn.
func NewConversation(prompt string) *Conversation {
	return &Conversation{turns: []Turn{{Role: RoleUser, Text: prompt}}}
}

// Append adds a turn at the end.
func (c *Conversation) Append(t Turn) {
	c.turns = append(c.turns, t)
}

// Turns returns a copy of the turns in order.
func (c *Conversation) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the number of turns.
func (c *Conversation) Len() int { return len(c.turns) }
