package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Payload stores a decoded message payload in a JSONB column. Byte
// payloads are stored as base64 strings, the way encoding/json writes them.
type Payload struct {
	Value any
}

// Value implements the driver.Valuer interface
func (p Payload) Value() (driver.Value, error) {
	b, err := json.Marshal(p.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return b, nil
}

// Scan implements the sql.Scanner interface
func (p *Payload) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		p.Value = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported payload column type %T", value)
	}
	return json.Unmarshal(raw, &p.Value)
}

func (p Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Value)
}

// JournalEntry is a consumed message recorded by the bridge
type JournalEntry struct {
	ID        int64      `json:"id"`
	UUID      string     `json:"uuid"`
	CreatedAt time.Time  `json:"created_at"`
	AckedAt   *time.Time `json:"acked_at,omitempty"`
	Provider  string     `json:"provider"`
	QueueName string     `json:"queue_name"`
	Handle    string     `json:"handle,omitempty"`
	Payload   Payload    `json:"payload"`
}
