package canon

import "encoding/json"

// wireMessage mirrors UnifiedMessage but with Content as raw JSON so the
// tagged content-block union can be marshaled/unmarshaled explicitly.
type wireMessage struct {
	ID        string            `json:"id"`
	Timestamp int64             `json:"timestamp"`
	Type      MessageType       `json:"type"`
	Role      Role              `json:"role"`
	Content   []json.RawMessage `json:"content"`
	Metadata  map[string]any    `json:"metadata"`
	ParentID  *string           `json:"parentId,omitempty"`
}

// MarshalJSON folds each content block's type discriminant into its own
// object, since ContentBlock is a Go interface with no native tagged
// encoding.
func (m UnifiedMessage) MarshalJSON() ([]byte, error) {
	raws := make([]json.RawMessage, len(m.Content))
	for i, b := range m.Content {
		data, err := MarshalContentBlock(b)
		if err != nil {
			return nil, err
		}
		raws[i] = data
	}
	return json.Marshal(wireMessage{
		ID:        m.ID,
		Timestamp: m.Timestamp,
		Type:      m.Type,
		Role:      m.Role,
		Content:   raws,
		Metadata:  m.Metadata,
		ParentID:  m.ParentID,
	})
}

// UnmarshalJSON reconstructs the tagged content-block union.
func (m *UnifiedMessage) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	blocks := make([]ContentBlock, 0, len(w.Content))
	for _, raw := range w.Content {
		b, err := UnmarshalContentBlock(raw)
		if err != nil {
			return err
		}
		blocks = append(blocks, b)
	}
	m.ID = w.ID
	m.Timestamp = w.Timestamp
	m.Type = w.Type
	m.Role = w.Role
	m.Content = blocks
	m.Metadata = w.Metadata
	m.ParentID = w.ParentID
	return nil
}
