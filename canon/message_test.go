package canon

import (
	"encoding/json"
	"testing"
)

func TestNewNormalizesNilSlices(t *testing.T) {
	m := New(TypeUserMessage, RoleUser, nil, nil)
	if m.Content == nil {
		t.Fatal("expected non-nil content slice")
	}
	if m.Metadata == nil {
		t.Fatal("expected non-nil metadata map")
	}
	if m.ID == "" {
		t.Fatal("expected id to be assigned")
	}
	if m.Timestamp == 0 {
		t.Fatal("expected timestamp to be assigned")
	}
}

func TestValidateRejectsUnknownTypeAndRole(t *testing.T) {
	m := New(TypeUserMessage, RoleUser, nil, nil)
	if err := m.Validate(); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}

	bad := *m
	bad.Type = MessageType("not_a_type")
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for unknown type")
	}

	bad2 := *m
	bad2.Role = Role("not_a_role")
	if err := bad2.Validate(); err == nil {
		t.Fatal("expected error for unknown role")
	}

	bad3 := *m
	bad3.Content = nil
	if err := bad3.Validate(); err == nil {
		t.Fatal("expected error for nil content")
	}
}

func TestWithParentCopies(t *testing.T) {
	m := New(TypeAssistant, RoleAssistant, []ContentBlock{TextBlock{Text: "hi"}}, nil)
	child := m.WithParent(m.ID)
	if child.ParentID == nil || *child.ParentID != m.ID {
		t.Fatalf("expected parent id %q, got %v", m.ID, child.ParentID)
	}
	if m.ParentID != nil {
		t.Fatal("expected original message to remain unmodified")
	}
}

func TestMessageJSONRoundTrip(t *testing.T) {
	m := New(TypeAssistant, RoleAssistant, []ContentBlock{
		TextBlock{Text: "hello"},
		ToolUseBlock{ID: "tu1", Name: "bash", Input: map[string]any{"cmd": "ls"}},
	}, map[string]any{"sessionId": "abc"})

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out UnifiedMessage
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if out.ID != m.ID || out.Type != m.Type || out.Role != m.Role {
		t.Fatalf("envelope fields mismatch: got %+v", out)
	}
	if len(out.Content) != 2 {
		t.Fatalf("expected 2 content blocks, got %d", len(out.Content))
	}
	text, ok := out.Content[0].(TextBlock)
	if !ok || text.Text != "hello" {
		t.Fatalf("expected text block 'hello', got %+v", out.Content[0])
	}
	toolUse, ok := out.Content[1].(ToolUseBlock)
	if !ok || toolUse.Name != "bash" {
		t.Fatalf("expected tool_use block 'bash', got %+v", out.Content[1])
	}
}

func TestMessageUnmarshalRejectsUnknownBlockType(t *testing.T) {
	raw := `{"id":"1","timestamp":1,"type":"assistant","role":"assistant","content":[{"type":"mystery"}],"metadata":{}}`
	var out UnifiedMessage
	err := json.Unmarshal([]byte(raw), &out)
	if err == nil {
		t.Fatal("expected error for unknown content block type")
	}
	if _, ok := err.(*UnknownBlockTypeError); !ok {
		t.Fatalf("expected *UnknownBlockTypeError, got %T: %v", err, err)
	}
}
