package domain

import "strings"

// UnknownActor 无法确定执行身份时使用
const UnknownActor = "UNKNOWN"

// Identity 当前执行身份（显式传递，不依赖请求上下文）
type Identity struct {
	UserID   string // 外部账号（AD 账号），后台任务为空
	ClientID string // 调用方客户端标识
}

// Actor 审计字段使用的执行者名称
func (i Identity) Actor() string {
	if v := strings.TrimSpace(i.UserID); v != "" {
		return v
	}
	if v := strings.TrimSpace(i.ClientID); v != "" {
		return v
	}
	return UnknownActor
}

// IsUser 是否为具体用户（而非后台任务）
func (i Identity) IsUser(accountID string) bool {
	u := strings.TrimSpace(i.UserID)
	return u != "" && strings.EqualFold(u, strings.TrimSpace(accountID))
}

// Employee 通讯录员工
type Employee struct {
	LoginName string `json:"loginName"`
	FullName  string `json:"fullname"`
	Email     string `json:"email,omitempty"`
}
