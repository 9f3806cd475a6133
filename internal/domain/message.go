package domain

import "time"

// 消息方向
const (
	DirectionInbound  = "INBOUND"
	DirectionOutbound = "OUTBOUND"
)

// 消息类型
const (
	MessageTypeEmail      = "EMAIL"
	MessageTypeWebMessage = "WEBMESSAGE"
	MessageTypeExchange   = "MESSAGE_EXCHANGE"
)

// Message 案件消息。ID 为外部消息 ID（去重键）
type Message struct {
	ID             string          `json:"id"`
	ErrandID       int64           `json:"errand_id"`
	ErrandNumber   string          `json:"errand_number"`
	MunicipalityID string          `json:"municipality_id"`
	Namespace      string          `json:"namespace"`
	Direction      string          `json:"direction"`
	MessageType    string          `json:"message_type"`
	FamilyID       string          `json:"family_id,omitempty"`
	ExternalCaseID string          `json:"external_case_id,omitempty"`
	Subject        string          `json:"subject,omitempty"`
	Body           string          `json:"body,omitempty"`
	Sent           string          `json:"sent"` // 保留来源原始格式
	FirstName      string          `json:"first_name,omitempty"`
	LastName       string          `json:"last_name,omitempty"`
	Email          string          `json:"email,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	Username       string          `json:"username,omitempty"`
	Recipients     []string        `json:"recipients,omitempty"`
	Headers        []MessageHeader `json:"headers,omitempty"`
	Viewed         bool            `json:"viewed"`
	Created        time.Time       `json:"created"`
}

// MessageHeader 邮件头（名称 -> 多值）
type MessageHeader struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Attachment 消息附件。必须在所属 Message 保存之后创建
type Attachment struct {
	ID             string    `json:"id"`
	MessageID      string    `json:"message_id"`
	ErrandNumber   string    `json:"errand_number"`
	MunicipalityID string    `json:"municipality_id"`
	Namespace      string    `json:"namespace"`
	Name           string    `json:"name"`
	MimeType       string    `json:"mime_type"`
	Content        []byte    `json:"-"`
	Created        time.Time `json:"created"`
}
