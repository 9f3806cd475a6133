package integration

import (
	"context"
	"errors"

	"casedata-engine/internal/domain"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const serviceEmployee = "employee"

// EmployeeClient 员工通讯录客户端
type EmployeeClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewEmployeeClient 创建员工通讯录客户端
func NewEmployeeClient(baseURL string, opts Options, logger *zap.Logger) *EmployeeClient {
	return &EmployeeClient{
		httpClient: newRestyClient(baseURL, opts),
		logger:     logger,
	}
}

// GetEmployeeByLoginName 按登录名查询员工；不存在时返回 nil, nil
func (c *EmployeeClient) GetEmployeeByLoginName(ctx context.Context, municipalityID, loginName string) (*domain.Employee, error) {
	var employee domain.Employee
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"municipalityId": municipalityID,
			"loginName":      loginName,
		}).
		SetResult(&employee).
		Get("/{municipalityId}/portalpersondata/PERSONAL/{loginName}")
	if err := checkResponse(serviceEmployee, "getEmployeeByLoginName", resp, err); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.IsNotFound() {
			return nil, nil
		}
		return nil, err
	}
	if employee.LoginName == "" {
		employee.LoginName = loginName
	}
	return &employee, nil
}
