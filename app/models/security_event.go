package models

import (
	"encoding/json"
	"time"
)

// SecurityEvent is an append-only audit record emitted by the risk scorer.
// Rows are never mutated.
type SecurityEvent struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	IPAddress   string    `gorm:"type:varchar(45);not null;index" json:"ip_address"`
	UserID      uint      `gorm:"index" json:"user_id,omitempty"`
	RiskScore   float64   `gorm:"type:decimal(4,3);not null" json:"risk_score"`
	SignalsJSON string    `gorm:"type:text;not null" json:"signals_json"`
	UserAgent   string    `gorm:"type:varchar(255);not null;default:''" json:"user_agent"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// Signals decodes the stored signal list.
func (e *SecurityEvent) Signals() []string {
	var signals []string
	if err := json.Unmarshal([]byte(e.SignalsJSON), &signals); err != nil {
		return nil
	}
	return signals
}

// EncodeSignals serializes a signal list for storage.
func EncodeSignals(signals []string) string {
	if len(signals) == 0 {
		return "[]"
	}
	b, err := json.Marshal(signals)
	if err != nil {
		return "[]"
	}
	return string(b)
}
