// Package memory keeps bounded per-conversation chat history for the answerer.
package memory

import (
	"encoding/json"
	"time"
	"unicode/utf8"

	"meetrag/internal/domain"
)

const (
	DefaultMaxHistory = 10
	DefaultMaxTokens  = 4000
	charsPerToken     = 4
)

// Turn is one stored message.
type Turn struct {
	Role      domain.Role `json:"role"`
	Content   string      `json:"content"`
	Name      string      `json:"name,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Limits bounds a Conversation. Zero fields take the defaults.
type Limits struct {
	MaxHistory int
	MaxTokens  int
}

func (l Limits) withDefaults() Limits {
	if l.MaxHistory <= 0 {
		l.MaxHistory = DefaultMaxHistory
	}
	if l.MaxTokens <= 0 {
		l.MaxTokens = DefaultMaxTokens
	}
	return l
}

// Conversation is an ordered log with at most one system turn, always first.
// It is not safe for concurrent use; Store serializes access per id.
type Conversation struct {
	turns  []Turn
	limits Limits
	now    func() time.Time
}

func NewConversation(limits Limits) *Conversation {
	return &Conversation{limits: limits.withDefaults(), now: time.Now}
}

func (c *Conversation) hasSystem() bool {
	return len(c.turns) > 0 && c.turns[0].Role == domain.RoleSystem
}

// System returns the system prompt, or "" when none is set.
func (c *Conversation) System() string {
	if c.hasSystem() {
		return c.turns[0].Content
	}
	return ""
}

// SetSystem installs or replaces the system prompt at position 0.
func (c *Conversation) SetSystem(content string) {
	t := Turn{Role: domain.RoleSystem, Content: content, Timestamp: c.now().UTC()}
	if c.hasSystem() {
		c.turns[0] = t
		return
	}
	c.turns = append([]Turn{t}, c.turns...)
}

func (c *Conversation) AddUser(content string) { c.add(domain.RoleUser, "", content) }

func (c *Conversation) AddAssistant(content string) { c.add(domain.RoleAssistant, "", content) }

// AddFunction records the result of a named function call.
func (c *Conversation) AddFunction(name, content string) { c.add(domain.RoleFunction, name, content) }

func (c *Conversation) add(role domain.Role, name, content string) {
	c.turns = append(c.turns, Turn{Role: role, Content: content, Name: name, Timestamp: c.now().UTC()})
	c.trim()
}

// trim drops the oldest non-system turns beyond MaxHistory.
func (c *Conversation) trim() {
	first := 0
	if c.hasSystem() {
		first = 1
	}
	if over := len(c.turns) - first - c.limits.MaxHistory; over > 0 {
		c.turns = append(c.turns[:first], c.turns[first+over:]...)
	}
}

// Turns returns a copy of every turn in order.
func (c *Conversation) Turns() []Turn {
	return append([]Turn(nil), c.turns...)
}

// Messages returns every turn, system first, as LLM messages.
func (c *Conversation) Messages() []domain.Message {
	return toMessages(c.turns)
}

// LastN returns up to n of the most recent non-system turns, oldest first.
func (c *Conversation) LastN(n int) []domain.Message {
	rest := c.turns
	if c.hasSystem() {
		rest = rest[1:]
	}
	if n < len(rest) {
		rest = rest[len(rest)-max(n, 0):]
	}
	return toMessages(rest)
}

// Len counts turns, including the system turn.
func (c *Conversation) Len() int { return len(c.turns) }

// Clear removes every turn, including the system prompt.
func (c *Conversation) Clear() { c.turns = nil }

// EstimatedTokens approximates the token count as characters / 4.
func (c *Conversation) EstimatedTokens() int {
	chars := 0
	for _, t := range c.turns {
		chars += utf8.RuneCountInString(t.Content)
	}
	return chars / charsPerToken
}

// OverBudget reports whether EstimatedTokens exceeds MaxTokens. It is
// advisory; nothing is dropped.
func (c *Conversation) OverBudget() bool {
	return c.EstimatedTokens() > c.limits.MaxTokens
}

func (c *Conversation) clone() *Conversation {
	cp := *c
	cp.turns = append([]Turn(nil), c.turns...)
	return &cp
}

// MarshalJSON encodes the turns as an ordered list.
func (c *Conversation) MarshalJSON() ([]byte, error) {
	turns := c.turns
	if turns == nil {
		turns = []Turn{}
	}
	return json.Marshal(turns)
}

// UnmarshalJSON restores turns. A system turn anywhere in the list is moved
// to the front, and history limits are reapplied.
func (c *Conversation) UnmarshalJSON(data []byte) error {
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return err
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.limits = c.limits.withDefaults()
	c.turns = nil
	var system *Turn
	for i := range turns {
		if turns[i].Role == domain.RoleSystem {
			system = &turns[i]
			continue
		}
		c.turns = append(c.turns, turns[i])
	}
	if system != nil {
		c.turns = append([]Turn{*system}, c.turns...)
	}
	c.trim()
	return nil
}

func toMessages(turns []Turn) []domain.Message {
	out := make([]domain.Message, len(turns))
	for i, t := range turns {
		out[i] = domain.Message{Role: t.Role, Content: t.Content, Name: t.Name}
	}
	return out
}
