package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Content encoding values for a MessagePart.
const (
	EncodingPlain  = "plain"
	EncodingBase64 = "base64"
)

// ContentTypeText is the default MIME type for message parts.
const ContentTypeText = "text/plain"

// RoleUser is the default message role.
const RoleUser = "user"

var roleRe = regexp.MustCompile(`^(user|agent(/[a-zA-Z0-9_\-]+)?)$`)

// MessagePart is one unit of message content. Exactly one of Content or
// ContentURL must be set. Content is a pointer so that an explicit empty
// string survives the round trip through JSON.
type MessagePart struct {
	Name            string  `json:"name,omitempty"`
	ContentType     string  `json:"content_type"`
	Content         *string `json:"content,omitempty"`
	ContentEncoding string  `json:"content_encoding,omitempty"`
	ContentURL      string  `json:"content_url,omitempty"`
}

// TextPart builds a plain text/plain part.
func TextPart(content string) MessagePart {
	return MessagePart{
		ContentType:     ContentTypeText,
		Content:         &content,
		ContentEncoding: EncodingPlain,
	}
}

// Normalize applies the default content type and encoding in place.
func (p *MessagePart) Normalize() {
	if p.ContentType == "" {
		p.ContentType = ContentTypeText
	}
	if p.ContentEncoding == "" {
		p.ContentEncoding = EncodingPlain
	}
}

// Validate enforces the content XOR content_url invariant and the
// encoding enum.
func (p *MessagePart) Validate() error {
	if p.Content == nil && p.ContentURL == "" {
		return fmt.Errorf("message part: either content or content_url must be provided")
	}
	if p.Content != nil && p.ContentURL != "" {
		return fmt.Errorf("message part: only one of content or content_url can be provided")
	}
	switch p.ContentEncoding {
	case "", EncodingPlain, EncodingBase64:
	default:
		return fmt.Errorf("message part: unknown content_encoding %q", p.ContentEncoding)
	}
	return nil
}

// Text returns the inline content, or "" when the part carries a URL.
func (p *MessagePart) Text() string {
	if p.Content == nil {
		return ""
	}
	return *p.Content
}

// joinable reports whether two adjacent parts may be fused by Compress.
func joinable(a, b *MessagePart) bool {
	return a.Name == "" && b.Name == "" &&
		a.ContentType == ContentTypeText && b.ContentType == ContentTypeText &&
		(a.ContentEncoding == EncodingPlain || a.ContentEncoding == "") &&
		(b.ContentEncoding == EncodingPlain || b.ContentEncoding == "") &&
		a.ContentURL == "" && b.ContentURL == ""
}

// Artifact is a named MessagePart.
type Artifact MessagePart

// Validate requires a name on top of the MessagePart invariants.
func (a *Artifact) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("artifact: name is required")
	}
	p := MessagePart(*a)
	return p.Validate()
}

// Message is an ordered sequence of parts with an author role.
type Message struct {
	Role        string        `json:"role,omitempty"`
	Parts       []MessagePart `json:"parts"`
	CreatedAt   *time.Time    `json:"created_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// NewMessage builds a user message from the given parts.
func NewMessage(parts ...MessagePart) Message {
	now := time.Now().UTC()
	return Message{Role: RoleUser, Parts: parts, CreatedAt: &now, CompletedAt: &now}
}

// AgentRole returns the role stamped on messages emitted by the named agent.
func AgentRole(agentName string) string {
	return "agent/" + agentName
}

// Validate checks the role pattern and every part.
func (m *Message) Validate() error {
	if m.Role != "" && !roleRe.MatchString(m.Role) {
		return fmt.Errorf("message: invalid role %q", m.Role)
	}
	for i := range m.Parts {
		if err := m.Parts[i].Validate(); err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
	}
	return nil
}

// Normalize applies defaults to the role and every part in place.
func (m *Message) Normalize() {
	if m.Role == "" {
		m.Role = RoleUser
	}
	for i := range m.Parts {
		m.Parts[i].Normalize()
	}
}

// Concat appends the parts of other to m. Roles must match. Timestamps
// merge to the earliest created_at and the latest completed_at; a nil on
// either side clears the merged value.
func (m Message) Concat(other Message) (Message, error) {
	if m.Role != other.Role {
		return Message{}, fmt.Errorf("message roles must match for concatenation: %q vs %q", m.Role, other.Role)
	}
	out := Message{
		Role:  m.Role,
		Parts: append(append([]MessagePart{}, m.Parts...), other.Parts...),
	}
	if m.CreatedAt != nil && other.CreatedAt != nil {
		t := *m.CreatedAt
		if other.CreatedAt.Before(t) {
			t = *other.CreatedAt
		}
		out.CreatedAt = &t
	}
	if m.CompletedAt != nil && other.CompletedAt != nil {
		t := *m.CompletedAt
		if other.CompletedAt.After(t) {
			t = *other.CompletedAt
		}
		out.CompletedAt = &t
	}
	return out, nil
}

// Compress fuses adjacent unnamed plain text/plain parts into single
// parts. Idempotent; the concatenated content is preserved.
func (m Message) Compress() Message {
	out := Message{Role: m.Role, CreatedAt: m.CreatedAt, CompletedAt: m.CompletedAt}
	for _, part := range m.Parts {
		if n := len(out.Parts); n > 0 && joinable(&out.Parts[n-1], &part) {
			out.Parts[n-1] = TextPart(out.Parts[n-1].Text() + part.Text())
			continue
		}
		out.Parts = append(out.Parts, part)
	}
	return out
}

// String concatenates the inline content of every text/plain part.
func (m Message) String() string {
	var b strings.Builder
	for _, part := range m.Parts {
		if part.Content != nil && part.ContentType == ContentTypeText {
			b.WriteString(*part.Content)
		}
	}
	return b.String()
}
