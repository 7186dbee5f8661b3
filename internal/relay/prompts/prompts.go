package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/tanpawarit/chative-relay/internal/relay/model"
)

//go:embed template/system_prompt.txt
var coreSystemPrompt string

const defaultAssistantName = "Relay"

// Builder turns a stored history into the message list sent to a provider.
type Builder struct {
	assistantName string
	instructions  string
}

func NewBuilder(config model.GatewayConfig) *Builder {
	name := strings.TrimSpace(config.AssistantName)
	if name == "" {
		name = defaultAssistantName
	}
	return &Builder{
		assistantName: name,
		instructions:  strings.TrimSpace(config.SystemPrompt),
	}
}

// RenderSystem renders the system framing message with the eino prompt
// template.
func (b *Builder) RenderSystem(ctx context.Context) (string, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(coreSystemPrompt),
	)
	vars := map[string]any{
		"AssistantName": b.assistantName,
		"Instructions":  b.instructions,
	}
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("system prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("system prompt render: empty result")
	}
	return msgs[0].Content, nil
}

// BuildMessages returns the system message followed by one message per
// turn, in history order.
func (b *Builder) BuildMessages(ctx context.Context, history []model.Turn) ([]*schema.Message, error) {
	system, err := b.RenderSystem(ctx)
	if err != nil {
		return nil, err
	}

	messages := make([]*schema.Message, 0, len(history)+1)
	messages = append(messages, schema.SystemMessage(system))
	for _, turn := range history {
		content := RenderTurn(turn)
		switch turn.Role {
		case model.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(content, nil))
		default:
			messages = append(messages, schema.UserMessage(content))
		}
	}
	return messages, nil
}

// RenderTurn flattens a turn and its attachments into one string.
func RenderTurn(turn model.Turn) string {
	if len(turn.Attachments) == 0 {
		return turn.Content
	}

	var sb strings.Builder
	sb.WriteString(turn.Content)
	for _, a := range turn.Attachments {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		RenderAttachment(&sb, a)
	}
	return sb.String()
}

// RenderAttachment writes a fenced block for textual attachments and a
// description plus data URI for everything else.
func RenderAttachment(sb *strings.Builder, a model.AttachmentRef) {
	if a.Kind.IsTextual() {
		fence := fenceFor(a.Payload)
		fmt.Fprintf(sb, "--- FILE: %s ---\n", a.Name)
		sb.WriteString(fence)
		sb.WriteString("\n")
		sb.WriteString(a.Payload)
		sb.WriteString("\n")
		sb.WriteString(fence)
		return
	}

	mimeType := a.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	fmt.Fprintf(sb, "The user has attached a file named '%s' (MIME type: %s).\n", a.Name, mimeType)
	sb.WriteString("File content (base64 data-URI):\n")
	sb.WriteString(a.Payload)
}

// fenceFor returns a backtick fence longer than any backtick run in s.
func fenceFor(s string) string {
	longest, run := 0, 0
	for _, r := range s {
		if r == '`' {
			run++
			if run > longest {
				longest = run
			}
			continue
		}
		run = 0
	}
	n := 3
	if longest >= n {
		n = longest + 1
	}
	return strings.Repeat("`", n)
}
