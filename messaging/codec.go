package messaging

import (
	"encoding/json"
	"time"
)

// wireMessage 跨进程传输的线格式
type wireMessage struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"ts"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// Encode 编码为 JSON 线格式；零时间戳以当前时间代替
func Encode(m IMessage) ([]byte, error) {
	payload, err := json.Marshal(m.GetPayload())
	if err != nil {
		return nil, err
	}
	ts := m.GetTimestamp()
	if ts.IsZero() {
		ts = time.Now()
	}
	return json.Marshal(wireMessage{
		ID:        m.GetID(),
		Type:      m.GetType(),
		Timestamp: ts.UnixNano(),
		Payload:   payload,
		Metadata:  m.GetMetadata(),
	})
}

// Decode 解码线格式；载荷解码为通用值，使用方经 DecodePayload 取出具体类型
func Decode(data []byte) (*Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	var payload any
	if len(w.Payload) > 0 {
		if err := json.Unmarshal(w.Payload, &payload); err != nil {
			return nil, err
		}
	}
	if w.Metadata == nil {
		w.Metadata = make(map[string]any)
	}
	return &Message{
		ID:        w.ID,
		Type:      w.Type,
		Timestamp: time.Unix(0, w.Timestamp),
		Payload:   payload,
		Metadata:  w.Metadata,
	}, nil
}
