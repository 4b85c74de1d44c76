// Package prompt turns a system prompt, a transcript and the newest user
// message into model input that fits the context window.
package prompt

import (
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/tripwise/planner/backend/internal/model/chat"
)

// Llama 3 instruct template markers.
const (
	BeginOfText = "<|begin_of_text|>"
	StartHeader = "<|start_header_id|>"
	EndHeader   = "<|end_header_id|>"
	EndOfTurn   = "<|eot_id|>"
)

// Prompt is the assembled model input.
type Prompt struct {
	// Text is the flat instruct-template rendering for completion backends.
	Text string
	// Turns carries the same content for chat-style backends.
	Turns []*schema.Message
	// Dropped counts transcript messages left out to fit the budget.
	Dropped int
	// Tokens is the estimated size of Text.
	Tokens int
	// Overflow is set when the system prompt and newest message alone exceed
	// the budget. The prompt is still returned.
	Overflow bool
}

// Assembler builds prompts. The zero Reserve leaves the whole window for
// input.
type Assembler struct {
	ContextWindow int
	Reserve       int
	Counter       Counter
}

// New returns an Assembler using the default token estimate.
func New(contextWindow, reserve int) Assembler {
	return Assembler{ContextWindow: contextWindow, Reserve: reserve, Counter: EstimateTokens}
}

// WithReserve returns a copy that keeps n tokens free for the reply.
func (a Assembler) WithReserve(n int) Assembler {
	a.Reserve = n
	return a
}

// Budget is the number of tokens available for input.
func (a Assembler) Budget() int {
	budget := a.ContextWindow - a.Reserve
	if budget < 0 {
		return 0
	}
	return budget
}

type turn struct {
	role    string
	content string
}

// Assemble renders the prompt. The system prompt and the newest message are
// always kept; transcript messages are dropped oldest first until the rest
// fits. Assemble does not mutate its inputs.
func (a Assembler) Assemble(system string, transcript []chat.Message, message string) Prompt {
	count := a.Counter
	if count == nil {
		count = EstimateTokens
	}
	cost := func(content string) int { return count(content) + TurnOverhead }

	// begin-of-text plus the open assistant header
	fixed := 1 + TurnOverhead
	if system != "" {
		fixed += cost(system)
	}
	fixed += cost(message)

	budget := a.Budget()
	p := Prompt{Tokens: fixed, Overflow: fixed > budget}

	kept := 0
	if !p.Overflow {
		remaining := budget - fixed
		for i := len(transcript) - 1; i >= 0; i-- {
			c := cost(transcript[i].Content)
			if c > remaining {
				break
			}
			remaining -= c
			p.Tokens += c
			kept++
		}
	}
	p.Dropped = len(transcript) - kept

	turns := make([]turn, 0, kept+2)
	if system != "" {
		turns = append(turns, turn{role: chat.RoleSystem, content: system})
	}
	for _, msg := range transcript[len(transcript)-kept:] {
		turns = append(turns, turn{role: msg.Role, content: msg.Content})
	}
	turns = append(turns, turn{role: chat.RoleUser, content: message})

	p.Text = render(turns)
	p.Turns = toSchema(turns)
	return p
}

func render(turns []turn) string {
	var b strings.Builder
	b.WriteString(BeginOfText)
	for _, t := range turns {
		writeHeader(&b, t.role)
		b.WriteString(strings.TrimSpace(t.content))
		b.WriteString(EndOfTurn)
	}
	writeHeader(&b, chat.RoleAssistant)
	return b.String()
}

func writeHeader(b *strings.Builder, role string) {
	b.WriteString(StartHeader)
	b.WriteString(role)
	b.WriteString(EndHeader)
	b.WriteString("\n\n")
}

func toSchema(turns []turn) []*schema.Message {
	out := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		switch t.role {
		case chat.RoleSystem:
			out = append(out, schema.SystemMessage(t.content))
		case chat.RoleAssistant:
			out = append(out, schema.AssistantMessage(t.content, nil))
		default:
			out = append(out, schema.UserMessage(t.content))
		}
	}
	return out
}
