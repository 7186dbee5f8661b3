package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	errx "github.com/tanpawarit/chative-relay/internal/core/error"
	"github.com/tanpawarit/chative-relay/internal/relay/model"
	"github.com/tanpawarit/chative-relay/internal/relay/prompts"
	logx "github.com/tanpawarit/chative-relay/pkg/logger"
)

const (
	rovoProvider = "rovo"

	rovoAssistPath = "/gateway/api/assist/chat/v1/chat"
	rovoAgentPath  = "/api/v1/agents/rovo-dev/conversations"
	rovoAgentID    = "rovo-dev"

	// maxResponseSize bounds reads of provider responses.
	maxResponseSize = 8 << 20
)

// Rovo talks to the Atlassian Rovo Dev agent. Every request carries Basic
// auth built from the configured email and API key.
type Rovo struct {
	httpClient *http.Client
	endpoint   string
	assist     bool
	email      string
	apiKey     string
	builder    *prompts.Builder
}

func NewRovo(httpClient *http.Client, config model.GatewayConfig, builder *prompts.Builder) *Rovo {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	endpoint, assist := rovoEndpoint(config.BaseURL)
	return &Rovo{
		httpClient: httpClient,
		endpoint:   endpoint,
		assist:     assist,
		email:      config.Email,
		apiKey:     config.APIKey,
		builder:    builder,
	}
}

// rovoEndpoint picks the Assist gateway for *.atlassian.net sites and the
// remote agent API for everything else.
func rovoEndpoint(baseURL string) (endpoint string, assist bool) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	base = strings.TrimSuffix(base, "/rovodev")
	host := base
	if u, err := url.Parse(base); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	if host == "atlassian.net" || strings.HasSuffix(host, ".atlassian.net") {
		return base + rovoAssistPath, true
	}
	return base + rovoAgentPath, false
}

type rovoMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type rovoRecipient struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type rovoRequest struct {
	Recipients []rovoRecipient `json:"recipients,omitempty"`
	Messages   []rovoMessage   `json:"messages"`
}

func (r *Rovo) Send(ctx context.Context, history []model.Turn) (string, error) {
	msgs, err := r.builder.BuildMessages(ctx, history)
	if err != nil {
		return "", err
	}
	payload := rovoRequest{Messages: make([]rovoMessage, 0, len(msgs))}
	if r.assist {
		payload.Recipients = []rovoRecipient{{Type: "agent", ID: rovoAgentID}}
	}
	for _, m := range msgs {
		payload.Messages = append(payload.Messages, rovoMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal rovo request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build rovo request: %w", err)
	}
	req.SetBasicAuth(r.email, r.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	logx.Debug().Str("provider", rovoProvider).Str("url", r.endpoint).Int("messages", len(payload.Messages)).Msg("POST rovo")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", transportError(rovoProvider, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", transportError(rovoProvider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", statusError(rovoProvider, resp.StatusCode, resp.Header, string(data))
	}

	reply, err := parseRovoReply(data)
	if err != nil {
		var e *errx.Error
		if errors.As(err, &e) {
			return "", err
		}
		return "", malformed(rovoProvider, err)
	}
	return reply, nil
}

// parseRovoReply extracts the reply text from any of the response shapes
// the agent endpoints are known to return. A 2xx body holding an error
// envelope is classified by its status.
func parseRovoReply(data []byte) (string, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if raw, ok := top["error"]; ok && !isNull(raw) {
		return "", envelopeError(raw)
	}

	var (
		reply string
		found bool
	)
	for _, extract := range rovoShapes {
		if reply, found = extract(top); found {
			break
		}
	}

	if !found {
		return "", errors.New("no reply text in response")
	}
	if strings.TrimSpace(reply) == "" {
		return "", errors.New("empty reply text")
	}
	return reply, nil
}

// rovoShapes are tried in order; the first that yields text wins.
var rovoShapes = []func(map[string]json.RawMessage) (string, bool){
	// {"message": {"content": "..."}}
	func(top map[string]json.RawMessage) (string, bool) {
		if !has(top, "message") {
			return "", false
		}
		var m struct {
			Content *string `json:"content"`
		}
		if err := json.Unmarshal(top["message"], &m); err != nil || m.Content == nil {
			return "", false
		}
		return *m.Content, true
	},
	// {"choices": [{"message": {"content": "..."}} | {"text": "..."}]}
	func(top map[string]json.RawMessage) (string, bool) {
		if !has(top, "choices") {
			return "", false
		}
		var choices []struct {
			Message *struct {
				Content *string `json:"content"`
			} `json:"message"`
			Text *string `json:"text"`
		}
		if err := json.Unmarshal(top["choices"], &choices); err != nil || len(choices) == 0 {
			return "", false
		}
		c := choices[0]
		switch {
		case c.Message != nil && c.Message.Content != nil:
			return *c.Message.Content, true
		case c.Text != nil:
			return *c.Text, true
		}
		return "", false
	},
	func(top map[string]json.RawMessage) (string, bool) {
		if !has(top, "content") {
			return "", false
		}
		return contentText(top["content"])
	},
	func(top map[string]json.RawMessage) (string, bool) {
		if !has(top, "response") {
			return "", false
		}
		return scalarText(top["response"])
	},
	func(top map[string]json.RawMessage) (string, bool) {
		if !has(top, "text") {
			return "", false
		}
		return scalarText(top["text"])
	},
}

func has(m map[string]json.RawMessage, key string) bool {
	raw, ok := m[key]
	return ok && !isNull(raw)
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

func scalarText(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	switch v.(type) {
	case float64, bool:
		return strings.TrimSpace(string(raw)), true
	}
	return "", false
}

// contentText accepts a plain string, a list of ADF nodes or an ADF doc.
func contentText(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var nodes []adfNode
	if err := json.Unmarshal(raw, &nodes); err == nil {
		return adfText(nodes), true
	}
	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err == nil && (doc.Type != "" || len(doc.Content) > 0) {
		return adfText([]adfNode{doc}), true
	}
	return "", false
}

type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text"`
	Content []adfNode `json:"content"`
}

var adfBlockTypes = map[string]struct{}{
	"paragraph": {}, "heading": {}, "codeBlock": {}, "listItem": {}, "blockquote": {},
}

func adfText(nodes []adfNode) string {
	var sb strings.Builder
	writeADF(&sb, nodes)
	return strings.TrimRight(sb.String(), "\n")
}

func writeADF(sb *strings.Builder, nodes []adfNode) {
	for _, n := range nodes {
		switch n.Type {
		case "text":
			sb.WriteString(n.Text)
		case "hardBreak":
			sb.WriteString("\n")
		}
		if len(n.Content) > 0 {
			writeADF(sb, n.Content)
		}
		if _, block := adfBlockTypes[n.Type]; block {
			sb.WriteString("\n")
		}
	}
}

// envelopeError maps {"error": ...} bodies. The status may be an integer
// code or a numeric string; anything else is treated as malformed.
func envelopeError(raw json.RawMessage) error {
	var env struct {
		Status  json.RawMessage `json:"status"`
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return malformed(rovoProvider, fmt.Errorf("error envelope: %s", truncate(string(raw), 256)))
	}
	status := envelopeStatus(env.Status)
	if status == 0 {
		status = envelopeStatus(env.Code)
	}
	if status < 400 {
		return malformed(rovoProvider, fmt.Errorf("error envelope: %s", env.Message))
	}
	return statusError(rovoProvider, status, nil, env.Message)
}

func envelopeStatus(raw json.RawMessage) int {
	if isNull(raw) {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		var parsed int
		if _, err := fmt.Sscanf(s, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return 0
}
