package integration

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Options 外部服务客户端参数
type Options struct {
	Timeout    time.Duration
	RetryCount int
}

// StatusError 外部服务返回非 2xx
type StatusError struct {
	Service    string
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s failed: status %d: %s", e.Service, e.Operation, e.StatusCode, e.Body)
}

// IsNotFound 是否为 404
func (e *StatusError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

func newRestyClient(baseURL string, opts Options) *resty.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json")
}

// checkResponse 统一处理传输错误和非 2xx 响应
func checkResponse(service, operation string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", service, operation, err)
	}
	if resp.IsError() {
		return &StatusError{
			Service:    service,
			Operation:  operation,
			StatusCode: resp.StatusCode(),
			Body:       string(resp.Body()),
		}
	}
	return nil
}
