package model

import (
	"strconv"
	"time"
)

// UserID is the opaque key for all per-user state.
type UserID string

// UserIDFromInt formats a platform-assigned integer id.
func UserIDFromInt(id int64) UserID {
	return UserID(strconv.FormatInt(id, 10))
}

func (u UserID) String() string {
	return string(u)
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// AttachmentKind is the closed set of classes the codec can produce.
type AttachmentKind string

const (
	KindText       AttachmentKind = "text"
	KindStructured AttachmentKind = "structured"
	KindImage      AttachmentKind = "image"
	KindBinary     AttachmentKind = "binary"
)

// IsTextual reports whether the payload is the decoded file content rather
// than a data URI.
func (k AttachmentKind) IsTextual() bool {
	return k == KindText || k == KindStructured
}

// AttachmentRef is a file normalised for embedding in a turn. Payload is
// always valid UTF-8: raw text for textual kinds, a base64 data URI otherwise.
type AttachmentRef struct {
	Name      string         `json:"name"`
	Kind      AttachmentKind `json:"kind"`
	MimeType  string         `json:"mime_type,omitempty"`
	Payload   string         `json:"payload"`
	SizeBytes int            `json:"size_bytes"`
}

// Turn is one message in a conversation. Turns are immutable once appended.
type Turn struct {
	Role        Role            `json:"role"`
	Content     string          `json:"content"`
	Attachments []AttachmentRef `json:"attachments,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// UserTurn builds a user turn stamped with the current time.
func UserTurn(content string, attachments ...AttachmentRef) Turn {
	return Turn{Role: RoleUser, Content: content, Attachments: attachments, CreatedAt: time.Now()}
}

// AssistantTurn builds an assistant turn stamped with the current time.
func AssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content, CreatedAt: time.Now()}
}

// Clone returns a copy that shares no slice with t.
func (t Turn) Clone() Turn {
	if t.Attachments != nil {
		t.Attachments = append([]AttachmentRef(nil), t.Attachments...)
	}
	return t
}

// CloneTurns deep-copies a history so callers never observe later mutations.
func CloneTurns(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = t.Clone()
	}
	return out
}

// OutboundChunk is one ordered fragment of a reply.
type OutboundChunk struct {
	Index   int
	Text    string
	IsFinal bool
}
