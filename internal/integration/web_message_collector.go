package integration

import (
	"context"
	"strconv"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const serviceWebMessageCollector = "web-message-collector"

// WebMessage Web 渠道收集到的消息
type WebMessage struct {
	ID             int                    `json:"id"`
	MessageID      string                 `json:"messageId"`
	Direction      string                 `json:"direction"` // INBOUND / OUTBOUND
	ExternalCaseID string                 `json:"externalCaseId"`
	FamilyID       string                 `json:"familyId"`
	Instance       string                 `json:"instance"`
	Message        string                 `json:"message"`
	Sent           string                 `json:"sent"` // 原样保存
	FirstName      string                 `json:"firstName"`
	LastName       string                 `json:"lastName"`
	Email          string                 `json:"email"`
	UserID         string                 `json:"userId"`
	Username       string                 `json:"username"`
	Attachments    []WebMessageAttachment `json:"attachments"`
}

// WebMessageAttachment 附件元数据（内容需单独下载）
type WebMessageAttachment struct {
	AttachmentID int    `json:"attachmentId"`
	Name         string `json:"name"`
	Extension    string `json:"extension"`
	MimeType     string `json:"mimeType"`
}

// WebMessageCollectorClient Web 消息收集服务客户端
type WebMessageCollectorClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewWebMessageCollectorClient 创建 Web 消息收集服务客户端
func NewWebMessageCollectorClient(baseURL string, opts Options, logger *zap.Logger) *WebMessageCollectorClient {
	return &WebMessageCollectorClient{
		httpClient: newRestyClient(baseURL, opts),
		logger:     logger,
	}
}

// ListMessages 列出某个 family 的待处理消息
func (c *WebMessageCollectorClient) ListMessages(ctx context.Context, municipalityID, familyID, instance string) ([]WebMessage, error) {
	var messages []WebMessage
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"municipalityId": municipalityID,
			"familyId":       familyID,
			"instance":       instance,
		}).
		SetResult(&messages).
		Get("/{municipalityId}/messages/{familyId}/{instance}")
	if err := checkResponse(serviceWebMessageCollector, "listMessages", resp, err); err != nil {
		return nil, err
	}

	c.logger.Debug("Fetched web messages",
		zap.String("municipality_id", municipalityID),
		zap.String("family_id", familyID),
		zap.String("instance", instance),
		zap.Int("count", len(messages)),
	)
	return messages, nil
}

// GetAttachment 下载附件内容
func (c *WebMessageCollectorClient) GetAttachment(ctx context.Context, municipalityID string, attachmentID int) ([]byte, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Accept", "application/octet-stream").
		SetPathParams(map[string]string{
			"municipalityId": municipalityID,
			"attachmentId":   strconv.Itoa(attachmentID),
		}).
		Get("/{municipalityId}/messages/attachments/{attachmentId}/file")
	if err := checkResponse(serviceWebMessageCollector, "getAttachment", resp, err); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// DeleteMessages 批量删除已处理的消息
func (c *WebMessageCollectorClient) DeleteMessages(ctx context.Context, municipalityID string, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParam("municipalityId", municipalityID).
		SetHeader("Content-Type", "application/json").
		SetBody(ids).
		Delete("/{municipalityId}/messages")
	return checkResponse(serviceWebMessageCollector, "deleteMessages", resp, err)
}
