package canon

import "encoding/json"

// ContentBlock is the sum type carried by UnifiedMessage.Content. It
// follows the same marker-interface idiom as the teacher's
// claude/models.SessionMessageI: a private method pins implementers, and
// a var-block of assertions below documents the closed set.
type ContentBlock interface {
	BlockType() string
	isContentBlock()
}

var (
	_ ContentBlock = (*TextBlock)(nil)
	_ ContentBlock = (*ToolUseBlock)(nil)
	_ ContentBlock = (*ToolResultBlock)(nil)
	_ ContentBlock = (*CodeBlock)(nil)
	_ ContentBlock = (*ImageBlock)(nil)
	_ ContentBlock = (*ThinkingBlock)(nil)
	_ ContentBlock = (*RefusalBlock)(nil)
)

// TextBlock carries plain assistant/user text.
type TextBlock struct {
	Text string `json:"text"`
}

func (TextBlock) BlockType() string { return "text" }
func (TextBlock) isContentBlock()   {}

// ToolUseBlock records a tool invocation requested by the backend.
type ToolUseBlock struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

func (ToolUseBlock) BlockType() string { return "tool_use" }
func (ToolUseBlock) isContentBlock()   {}

// ToolResultBlock carries the result of a prior ToolUseBlock.
type ToolResultBlock struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

func (ToolResultBlock) BlockType() string { return "tool_result" }
func (ToolResultBlock) isContentBlock()   {}

// CodeBlock carries a fenced code excerpt (e.g. a diff preview).
type CodeBlock struct {
	Language string `json:"language,omitempty"`
	Code     string `json:"code"`
}

func (CodeBlock) BlockType() string { return "code" }
func (CodeBlock) isContentBlock()   {}

// ImageBlock carries an inline image.
type ImageBlock struct {
	Base64    string `json:"base64"`
	MediaType string `json:"media_type"`
}

func (ImageBlock) BlockType() string { return "image" }
func (ImageBlock) isContentBlock()   {}

// ThinkingBlock carries a model's extended-thinking trace.
type ThinkingBlock struct {
	Thinking string `json:"thinking"`
}

func (ThinkingBlock) BlockType() string { return "thinking" }
func (ThinkingBlock) isContentBlock()   {}

// RefusalBlock marks content the backend declined to produce.
type RefusalBlock struct {
	Reason string `json:"reason,omitempty"`
}

func (RefusalBlock) BlockType() string { return "refusal" }
func (RefusalBlock) isContentBlock()   {}

// MarshalContentBlock serializes a ContentBlock with its type
// discriminant folded in, matching the tagged-union wire shape every
// adapter's native protocol already uses for content parts.
func MarshalContentBlock(b ContentBlock) ([]byte, error) {
	inner, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(inner, &fields); err != nil {
		return nil, err
	}
	fields["type"] = b.BlockType()
	return json.Marshal(fields)
}

// UnmarshalContentBlock parses a tagged content block back into its
// concrete Go type. Unknown block types are rejected rather than dropped
// silently — unlike whole-message translation, an unrecognized content
// block shape inside an otherwise-valid envelope is a translator bug.
func UnmarshalContentBlock(data []byte) (ContentBlock, error) {
	var disc struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &disc); err != nil {
		return nil, err
	}
	switch disc.Type {
	case "text":
		var b TextBlock
		return b, json.Unmarshal(data, &b)
	case "tool_use":
		var b ToolUseBlock
		return b, json.Unmarshal(data, &b)
	case "tool_result":
		var b ToolResultBlock
		return b, json.Unmarshal(data, &b)
	case "code":
		var b CodeBlock
		return b, json.Unmarshal(data, &b)
	case "image":
		var b ImageBlock
		return b, json.Unmarshal(data, &b)
	case "thinking":
		var b ThinkingBlock
		return b, json.Unmarshal(data, &b)
	case "refusal":
		var b RefusalBlock
		return b, json.Unmarshal(data, &b)
	default:
		return nil, &UnknownBlockTypeError{Type: disc.Type}
	}
}

// UnknownBlockTypeError is returned by UnmarshalContentBlock for a type
// discriminant outside the closed set.
type UnknownBlockTypeError struct {
	Type string
}

func (e *UnknownBlockTypeError) Error() string {
	return "canon: unknown content block type " + e.Type
}
