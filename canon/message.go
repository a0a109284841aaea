// Package canon defines the canonical message envelope shared by every
// backend adapter and consumer in the broker. Messages in motion are
// always one UnifiedMessage; translators convert to and from it at the
// adapter boundary.
package canon

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType is the closed enumeration of envelope kinds.
type MessageType string

const (
	TypeSessionInit         MessageType = "session_init"
	TypeStatusChange        MessageType = "status_change"
	TypeAssistant           MessageType = "assistant"
	TypeResult              MessageType = "result"
	TypeStreamEvent         MessageType = "stream_event"
	TypePermissionRequest   MessageType = "permission_request"
	TypePermissionResponse  MessageType = "permission_response"
	TypeControlResponse     MessageType = "control_response"
	TypeToolProgress        MessageType = "tool_progress"
	TypeToolUseSummary      MessageType = "tool_use_summary"
	TypeAuthStatus          MessageType = "auth_status"
	TypeUserMessage         MessageType = "user_message"
	TypeInterrupt           MessageType = "interrupt"
	TypeConfigurationChange MessageType = "configuration_change"
	TypeSessionLifecycle    MessageType = "session_lifecycle"
	TypeTeamMessage         MessageType = "team_message"
	TypeTeamTaskUpdate      MessageType = "team_task_update"
	TypeTeamStateChange     MessageType = "team_state_change"
	TypeUnknown             MessageType = "unknown"
)

var validTypes = map[MessageType]bool{
	TypeSessionInit: true, TypeStatusChange: true, TypeAssistant: true,
	TypeResult: true, TypeStreamEvent: true, TypePermissionRequest: true,
	TypePermissionResponse: true, TypeControlResponse: true,
	TypeToolProgress: true, TypeToolUseSummary: true, TypeAuthStatus: true,
	TypeUserMessage: true, TypeInterrupt: true, TypeConfigurationChange: true,
	TypeSessionLifecycle: true, TypeTeamMessage: true,
	TypeTeamTaskUpdate: true, TypeTeamStateChange: true, TypeUnknown: true,
}

// Role is the closed enumeration of envelope roles.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

var validRoles = map[Role]bool{
	RoleUser: true, RoleAssistant: true, RoleSystem: true, RoleTool: true,
}

// CanonicalErrorCode is the closed enumeration set by translators into
// result.metadata.error_code.
type CanonicalErrorCode string

const (
	ErrProviderAuth    CanonicalErrorCode = "provider_auth"
	ErrAPIError        CanonicalErrorCode = "api_error"
	ErrContextOverflow CanonicalErrorCode = "context_overflow"
	ErrOutputLength    CanonicalErrorCode = "output_length"
	ErrAborted         CanonicalErrorCode = "aborted"
	ErrRateLimit       CanonicalErrorCode = "rate_limit"
	ErrMaxTurns        CanonicalErrorCode = "max_turns"
	ErrMaxBudget       CanonicalErrorCode = "max_budget"
	ErrExecutionError  CanonicalErrorCode = "execution_error"
	ErrUnknown         CanonicalErrorCode = "unknown"
)

// UnifiedMessage is the single canonical envelope. Immutable after
// construction by convention — callers must not mutate a message handed
// to more than one consumer without copying it first.
type UnifiedMessage struct {
	ID        string         `json:"id"`
	Timestamp int64          `json:"timestamp"`
	Type      MessageType    `json:"type"`
	Role      Role           `json:"role"`
	Content   []ContentBlock `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	ParentID  *string        `json:"parentId,omitempty"`
}

// New constructs a UnifiedMessage, assigning id and timestamp.
// Content may be nil; it is normalized to an empty slice. Metadata may be
// nil; it is normalized to an empty map.
func New(msgType MessageType, role Role, content []ContentBlock, metadata map[string]any) *UnifiedMessage {
	if content == nil {
		content = []ContentBlock{}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &UnifiedMessage{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UnixMilli(),
		Type:      msgType,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
	}
}

// Validate rejects malformed envelopes: unknown type/role, or a nil
// Content slice (construction via New always produces a non-nil slice;
// Validate exists to catch envelopes built by hand, e.g. in tests or by
// a translator that skipped New).
func (m *UnifiedMessage) Validate() error {
	if m == nil {
		return fmt.Errorf("canon: nil message")
	}
	if !validTypes[m.Type] {
		return fmt.Errorf("canon: unknown message type %q", m.Type)
	}
	if !validRoles[m.Role] {
		return fmt.Errorf("canon: unknown role %q", m.Role)
	}
	if m.Content == nil {
		return fmt.Errorf("canon: content must be a non-nil array")
	}
	if m.Metadata == nil {
		return fmt.Errorf("canon: metadata must be a non-nil object")
	}
	return nil
}

// WithParent returns a shallow copy of m with ParentID set.
func (m *UnifiedMessage) WithParent(parentID string) *UnifiedMessage {
	cp := *m
	cp.ParentID = &parentID
	return &cp
}
