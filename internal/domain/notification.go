package domain

import "time"

// DefaultNotificationExpiry 未指定过期时间时的默认有效期
const DefaultNotificationExpiry = 30 * 24 * time.Hour

// UnknownFullName 通讯录查询失败时的占位名称
const UnknownFullName = "unknown"

// 通知类型
const (
	NotificationTypeUpdate = "UPDATE"
	NotificationTypeCreate = "CREATE"

	NotificationSubTypeMessage    = "MESSAGE"
	NotificationSubTypeSuspension = "SUSPENSION"
	NotificationSubTypeErrand     = "ERRAND"
)

// Notification 通知
type Notification struct {
	ID                string    `json:"id"`
	MunicipalityID    string    `json:"municipality_id"`
	Namespace         string    `json:"namespace"`
	OwnerID           string    `json:"owner_id,omitempty"` // 空表示无接收人
	OwnerFullName     string    `json:"owner_full_name,omitempty"`
	CreatedBy         string    `json:"created_by"`
	CreatedByFullName string    `json:"created_by_full_name"`
	Type              string    `json:"type"`
	SubType           string    `json:"sub_type,omitempty"`
	Description       string    `json:"description"`
	Content           string    `json:"content,omitempty"`
	Acknowledged      bool      `json:"acknowledged"`
	Expires           time.Time `json:"expires"`
	Created           time.Time `json:"created"`
	Modified          time.Time `json:"modified"`
	ErrandID          int64     `json:"errand_id"`
	ErrandNumber      string    `json:"errand_number,omitempty"`
}

// NotificationDraft 创建通知的输入
type NotificationDraft struct {
	OwnerID     string
	Type        string
	SubType     string
	Description string
	Content     string
	Expires     *time.Time
}
