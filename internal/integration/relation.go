package integration

import (
	"context"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const serviceRelation = "relation"

// ResourceIdentifier 关系两端的资源
type ResourceIdentifier struct {
	ResourceID string `json:"resourceId"`
	Type       string `json:"type"`
	Service    string `json:"service"`
	Namespace  string `json:"namespace"`
}

// Relation 两个资源之间的关系
type Relation struct {
	ID     string             `json:"id"`
	Type   string             `json:"type"`
	Source ResourceIdentifier `json:"source"`
	Target ResourceIdentifier `json:"target"`
}

// RelationClient 关系服务客户端
type RelationClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewRelationClient 创建关系服务客户端
func NewRelationClient(baseURL string, opts Options, logger *zap.Logger) *RelationClient {
	return &RelationClient{
		httpClient: newRestyClient(baseURL, opts),
		logger:     logger,
	}
}

// GetRelation 查询关系
func (c *RelationClient) GetRelation(ctx context.Context, municipalityID, relationID string) (*Relation, error) {
	var relation Relation
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"municipalityId": municipalityID,
			"id":             relationID,
		}).
		SetResult(&relation).
		Get("/{municipalityId}/relations/{id}")
	if err := checkResponse(serviceRelation, "getRelation", resp, err); err != nil {
		return nil, err
	}
	return &relation, nil
}
