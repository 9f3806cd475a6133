package integration

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const serviceEmailReader = "email-reader"

// Email 邮箱中待处理的邮件
type Email struct {
	ID          string              `json:"id"`
	Subject     string              `json:"subject"`
	Sender      string              `json:"sender"`
	Recipients  []string            `json:"recipients"`
	ReceivedAt  time.Time           `json:"receivedAt"`
	Message     string              `json:"message"`
	Headers     map[string][]string `json:"headers"`
	Attachments []EmailAttachment   `json:"attachments"`
}

// EmailAttachment 邮件附件（内容为 base64）
type EmailAttachment struct {
	Name        string `json:"name"`
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
}

// EmailReaderClient 邮箱服务客户端
type EmailReaderClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewEmailReaderClient 创建邮箱服务客户端
func NewEmailReaderClient(baseURL string, opts Options, logger *zap.Logger) *EmailReaderClient {
	return &EmailReaderClient{
		httpClient: newRestyClient(baseURL, opts),
		logger:     logger,
	}
}

// ListMessages 列出某个分区的待处理邮件
func (c *EmailReaderClient) ListMessages(ctx context.Context, municipalityID, namespace string) ([]Email, error) {
	var emails []Email
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"municipalityId": municipalityID,
			"namespace":      namespace,
		}).
		SetResult(&emails).
		Get("/{municipalityId}/email/{namespace}")
	if err := checkResponse(serviceEmailReader, "listMessages", resp, err); err != nil {
		return nil, err
	}

	c.logger.Debug("Fetched emails",
		zap.String("municipality_id", municipalityID),
		zap.String("namespace", namespace),
		zap.Int("count", len(emails)),
	)
	return emails, nil
}

// DeleteMessage 删除已处理的邮件
func (c *EmailReaderClient) DeleteMessage(ctx context.Context, municipalityID, id string) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"municipalityId": municipalityID,
			"id":             id,
		}).
		Delete("/{municipalityId}/email/{id}")
	return checkResponse(serviceEmailReader, "deleteMessage", resp, err)
}
