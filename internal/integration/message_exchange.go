package integration

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const serviceMessageExchange = "message-exchange"

// KeyValues 外部引用 / 元数据
type KeyValues struct {
	Key    string   `json:"key"`
	Values []string `json:"values"`
}

// Identifier 参与者标识
type Identifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// ExchangeConversation 外部会话
type ExchangeConversation struct {
	ID                   string       `json:"id"`
	Topic                string       `json:"topic"`
	Namespace            string       `json:"namespace"`
	MunicipalityID       string       `json:"municipalityId"`
	LatestSequenceNumber int64        `json:"latestSequenceNumber"`
	Participants         []Identifier `json:"participants"`
	ExternalReferences   []KeyValues  `json:"externalReferences"`
	Metadata             []KeyValues  `json:"metadata"`
}

// ReferenceValues 返回指定 key 的全部外部引用值
func (c ExchangeConversation) ReferenceValues(key string) []string {
	var out []string
	for _, ref := range c.ExternalReferences {
		if ref.Key == key {
			out = append(out, ref.Values...)
		}
	}
	return out
}

// MetadataValue 返回指定 key 的第一个元数据值
func (c ExchangeConversation) MetadataValue(key string) string {
	for _, m := range c.Metadata {
		if m.Key == key && len(m.Values) > 0 {
			return m.Values[0]
		}
	}
	return ""
}

// ConversationPage 会话分页结果
type ConversationPage struct {
	Content    []ExchangeConversation `json:"content"`
	Number     int                    `json:"number"`
	TotalPages int                    `json:"totalPages"`
	Last       bool                   `json:"last"`
}

// ExchangeMessage 会话内消息
type ExchangeMessage struct {
	ID                 string               `json:"id"`
	SequenceNumber     int64                `json:"sequenceNumber"`
	InReplyToMessageID string               `json:"inReplyToMessageId"`
	Created            time.Time            `json:"created"`
	CreatedBy          Identifier           `json:"createdBy"`
	Content            string               `json:"content"`
	Attachments        []ExchangeAttachment `json:"attachments"`
}

// ExchangeAttachment 会话消息附件元数据
type ExchangeAttachment struct {
	ID       string `json:"id"`
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	FileSize int64  `json:"fileSize"`
}

// MessagePage 消息分页结果
type MessagePage struct {
	Content    []ExchangeMessage `json:"content"`
	Number     int               `json:"number"`
	TotalPages int               `json:"totalPages"`
	Last       bool              `json:"last"`
}

// MessageExchangeClient 消息交换服务客户端
type MessageExchangeClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewMessageExchangeClient 创建消息交换服务客户端
func NewMessageExchangeClient(baseURL string, opts Options, logger *zap.Logger) *MessageExchangeClient {
	return &MessageExchangeClient{
		httpClient: newRestyClient(baseURL, opts),
		logger:     logger,
	}
}

// ListConversations 分页查询序号大于 afterSequence 的会话
func (c *MessageExchangeClient) ListConversations(ctx context.Context, municipalityID, namespace string, afterSequence int64, page, size int) (*ConversationPage, error) {
	var result ConversationPage
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"municipalityId": municipalityID,
			"namespace":      namespace,
		}).
		SetQueryParams(map[string]string{
			"filter": fmt.Sprintf("messages.sequenceNumber.id > %d", afterSequence),
			"page":   strconv.Itoa(page),
			"size":   strconv.Itoa(size),
			"sort":   "latestSequenceNumber,asc",
		}).
		SetResult(&result).
		Get("/{municipalityId}/{namespace}/conversations")
	if err := checkResponse(serviceMessageExchange, "listConversations", resp, err); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetMessages 分页查询会话内消息
func (c *MessageExchangeClient) GetMessages(ctx context.Context, municipalityID, namespace, conversationID string, page, size int) (*MessagePage, error) {
	var result MessagePage
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"municipalityId": municipalityID,
			"namespace":      namespace,
			"conversationId": conversationID,
		}).
		SetQueryParams(map[string]string{
			"page": strconv.Itoa(page),
			"size": strconv.Itoa(size),
			"sort": "sequenceNumber,asc",
		}).
		SetResult(&result).
		Get("/{municipalityId}/{namespace}/conversations/{conversationId}/messages")
	if err := checkResponse(serviceMessageExchange, "getMessages", resp, err); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetAttachment 下载会话消息附件
func (c *MessageExchangeClient) GetAttachment(ctx context.Context, municipalityID, namespace, conversationID, messageID, attachmentID string) ([]byte, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Accept", "application/octet-stream").
		SetPathParams(map[string]string{
			"municipalityId": municipalityID,
			"namespace":      namespace,
			"conversationId": conversationID,
			"messageId":      messageID,
			"attachmentId":   attachmentID,
		}).
		Get("/{municipalityId}/{namespace}/conversations/{conversationId}/messages/{messageId}/attachments/{attachmentId}")
	if err := checkResponse(serviceMessageExchange, "getAttachment", resp, err); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}
