package context

import (
	"strings"

	"github.com/beaconhq/beacon/internal/memory"
	"github.com/beaconhq/beacon/internal/rag"
	"github.com/beaconhq/beacon/internal/tokencount"
	"github.com/beaconhq/beacon/pkg/models"
)

// BuildInput carries everything the Context Builder needs for one turn.
type BuildInput struct {
	Identity         string
	RelevantMemories []string
	LearnedFacts     []string
	Knowledge        []rag.Selection
	History          []*models.Message
	CurrentMessage   string
	TokenBudget      int
	Counter          *tokencount.Counter
}

// Built is the Context Builder's output: a system context string and a
// pruned message window, ready for format_prompt.
type Built struct {
	SystemContext string
	Window        []*models.Message
}

// Build assembles system_context (portable identity + memories + learned
// facts) and prunes the message window to fit TokenBudget, walking from
// oldest to newest and including exactly one over-budget message before
// stopping — never a partial window with zero messages when at least one
// exists, and never silently dropping the newest message.
func Build(in BuildInput) Built {
	systemContext := buildSystemContext(in.Identity, in.RelevantMemories, in.LearnedFacts)
	window := pruneToWindow(in.History, in.TokenBudget, in.Counter)
	return Built{SystemContext: systemContext, Window: window}
}

func buildSystemContext(identity string, relevantMemories, learnedFacts []string) string {
	var sections []string
	if identity != "" {
		sections = append(sections, identity)
	}
	if mem := memory.FormatRelevantMemories(relevantMemories); mem != "" {
		sections = append(sections, mem)
	}
	if len(learnedFacts) > 0 {
		sections = append(sections, "<learned-facts>\n"+strings.Join(learnedFacts, "\n")+"\n</learned-facts>")
	}
	return strings.Join(sections, "\n\n")
}

// pruneToWindow walks messages oldest-to-newest, accumulating estimated
// token cost. It includes every message that fits, then includes exactly
// one message that pushes the running total over budget (so a single
// oversized message never gets dropped entirely), then stops.
func pruneToWindow(messages []*models.Message, tokenBudget int, counter *tokencount.Counter) []*models.Message {
	if len(messages) == 0 {
		return nil
	}

	window := make([]*models.Message, 0, len(messages))
	budget := tokenBudget
	for _, msg := range messages {
		cost := counter.Estimate(msg.Content)
		window = append(window, msg)
		budget -= cost
		if budget < 0 {
			break
		}
	}
	return window
}

// FormatPrompt concatenates the knowledge, user-context, conversation
// history, and current-message blocks into the final prompt text. Any
// section whose content is empty is omitted entirely rather than emitted
// as an empty tag pair, so FormatPrompt of all-empty input is the empty
// string (format_prompt's identity case).
func FormatPrompt(knowledge []rag.Selection, systemContext string, window []*models.Message, currentMessage string) string {
	var sections []string

	if len(knowledge) > 0 {
		var b strings.Builder
		b.WriteString("<knowledge>\n")
		for _, k := range knowledge {
			b.WriteString(k.Document.Content)
			b.WriteString("\n")
		}
		b.WriteString("</knowledge>")
		sections = append(sections, b.String())
	}

	if systemContext != "" {
		sections = append(sections, "<user-context>\n"+systemContext+"\n</user-context>")
	}

	if len(window) > 0 {
		var b strings.Builder
		b.WriteString("<conversation-history>\n")
		for _, msg := range window {
			b.WriteString(string(msg.Role))
			b.WriteString(": ")
			b.WriteString(msg.Content)
			b.WriteString("\n")
		}
		b.WriteString("</conversation-history>")
		sections = append(sections, b.String())
	}

	if currentMessage != "" {
		sections = append(sections, currentMessage)
	}

	return strings.Join(sections, "\n\n")
}
