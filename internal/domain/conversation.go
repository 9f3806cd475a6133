package domain

import "time"

// ConversationSyncState 外部会话同步游标（每个 municipality + namespace 一行）
type ConversationSyncState struct {
	MunicipalityID             string    `json:"municipality_id"`
	Namespace                  string    `json:"namespace"`
	Active                     bool      `json:"active"`
	LatestSyncedSequenceNumber int64     `json:"latest_synced_sequence_number"`
	Updated                    time.Time `json:"updated"`
}

// Conversation 外部会话在本地的投影，通过 relation 关联到案件
type Conversation struct {
	ID                         string    `json:"id"`
	MessageExchangeID          string    `json:"message_exchange_id"` // 外部会话 ID
	ErrandID                   int64     `json:"errand_id"`
	ErrandNumber               string    `json:"errand_number"`
	MunicipalityID             string    `json:"municipality_id"`
	Namespace                  string    `json:"namespace"`
	Topic                      string    `json:"topic,omitempty"`
	Type                       string    `json:"type,omitempty"`
	RelationIDs                []string  `json:"relation_ids"` // 已处理的外部 relation
	LatestSyncedSequenceNumber int64     `json:"latest_synced_sequence_number"`
	Created                    time.Time `json:"created"`
	Updated                    time.Time `json:"updated"`
}

// HasRelation 判断 relation 是否已被处理
func (c *Conversation) HasRelation(relationID string) bool {
	for _, id := range c.RelationIDs {
		if id == relationID {
			return true
		}
	}
	return false
}
