package llm

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/fyrsmithlabs/coachd/internal/orchestrator"
	"github.com/fyrsmithlabs/coachd/internal/session"
)

const extractionProtocol = `After your reply, if the user has stated anything that answers the fields
below, append exactly one fenced block in this form:

` + "```json" + `
{"fields": {"<field name>": "<value in the user's own words>"}}
` + "```" + `

Include only fields the user has actually stated in this conversation. A value
may be a string or a list of strings. Omit the block when nothing new was said.
Never mention the block in your reply.`

// buildMessages renders a coaching request as a chat: the phase's system
// prompt, the prior turns, then the new user message.
func buildMessages(req *orchestrator.CoachRequest) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, 2+2*len(req.History))
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt(req)))

	for _, t := range req.History {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, t.UserMessage))
		if t.AssistantReply != "" {
			msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeAI, t.AssistantReply))
		}
	}

	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, req.Message))
	return msgs
}

func systemPrompt(req *orchestrator.CoachRequest) string {
	def := req.Definition
	var b strings.Builder

	b.WriteString(strings.TrimSpace(def.Instructions))
	fmt.Fprintf(&b, "\n\n# Current phase: %s", def.Phase.Label())
	if def.Title != "" {
		fmt.Fprintf(&b, " (%s)", def.Title)
	}
	b.WriteString("\n\n## Fields\n")

	var fields map[string]string
	if req.Output != nil {
		fields = req.Output.Fields
	}
	for _, f := range def.Fields {
		kind := "optional"
		if f.Required {
			kind = "required"
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", f.Name, kind, f.Description)
		if v := fields[f.Name]; v != "" {
			fmt.Fprintf(&b, "  Captured so far: %q\n", v)
		} else {
			b.WriteString("  Not yet captured.\n")
		}
	}

	if missing := missingRequired(def, fields); len(missing) > 0 {
		fmt.Fprintf(&b, "\nStill needed before moving on: %s.\n", strings.Join(missing, ", "))
	} else {
		b.WriteString("\nEvery required field is captured; help the user confirm or refine them.\n")
	}

	b.WriteString("\n## Extraction\n")
	b.WriteString(extractionProtocol)
	return b.String()
}

func missingRequired(def *orchestrator.Definition, fields map[string]string) []string {
	var names []string
	for _, f := range orchestrator.Missing(def, &session.PhaseOutput{Phase: def.Phase, Fields: fields}) {
		names = append(names, f.Name)
	}
	return names
}
