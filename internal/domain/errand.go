package domain

import (
	"strings"
	"time"
)

// Stakeholder 角色标签
const (
	RoleAdministrator = "ADMINISTRATOR"
	RoleReporter      = "REPORTER"
	RoleApplicant     = "APPLICANT"
)

// Errand 案件（聚合根）
type Errand struct {
	ID              int64      `json:"id"`
	ErrandNumber    string     `json:"errand_number"` // ABBR-YEAR-NNNNNN，分配后不可变
	ExternalCaseID  string     `json:"external_case_id,omitempty"`
	Version         int        `json:"version"` // 乐观锁版本号
	CaseType        string     `json:"case_type"`
	Namespace       string     `json:"namespace"`
	MunicipalityID  string     `json:"municipality_id"`
	Description     string     `json:"description,omitempty"`
	SuspendedFrom   *time.Time `json:"suspended_from,omitempty"`
	SuspendedTo     *time.Time `json:"suspended_to,omitempty"`
	Created         time.Time  `json:"created"`
	CreatedBy       string     `json:"created_by"`
	CreatedByClient string     `json:"created_by_client"`
	Updated         time.Time  `json:"updated"`
	UpdatedBy       string     `json:"updated_by"`
	UpdatedByClient string     `json:"updated_by_client"`

	Stakeholders []Stakeholder `json:"stakeholders,omitempty"`
	Notes        []Note        `json:"notes,omitempty"`
	Decisions    []Decision    `json:"decisions,omitempty"`
	Facilities   []Facility    `json:"facilities,omitempty"`
	Appeals      []Appeal      `json:"appeals,omitempty"`
}

// Stakeholder 案件相关人
type Stakeholder struct {
	ID        int64    `json:"id"`
	ErrandID  int64    `json:"errand_id"`
	FirstName string   `json:"first_name,omitempty"`
	LastName  string   `json:"last_name,omitempty"`
	AdAccount string   `json:"ad_account,omitempty"` // 外部账号，用于确定通知接收人
	Roles     []string `json:"roles"`
}

// HasRole 判断是否具有指定角色
func (s Stakeholder) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Note 备注
type Note struct {
	ID       int64  `json:"id"`
	ErrandID int64  `json:"errand_id"`
	Title    string `json:"title,omitempty"`
	Text     string `json:"text"`
}

// Decision 决定
type Decision struct {
	ID           int64  `json:"id"`
	ErrandID     int64  `json:"errand_id"`
	DecisionType string `json:"decision_type"`
	Outcome      string `json:"outcome,omitempty"`
}

// Facility 设施
type Facility struct {
	ID           int64  `json:"id"`
	ErrandID     int64  `json:"errand_id"`
	FacilityType string `json:"facility_type"`
	Description  string `json:"description,omitempty"`
}

// Appeal 申诉
type Appeal struct {
	ID          int64  `json:"id"`
	ErrandID    int64  `json:"errand_id"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
}

// FindStakeholderByRole 返回第一个具有指定角色且外部账号非空的相关人
func (e *Errand) FindStakeholderByRole(role string) *Stakeholder {
	if e == nil {
		return nil
	}
	for i := range e.Stakeholders {
		s := &e.Stakeholders[i]
		if s.HasRole(role) && strings.TrimSpace(s.AdAccount) != "" {
			return s
		}
	}
	return nil
}

// AdministratorAccount 管理员的外部账号（无管理员时为空）
func (e *Errand) AdministratorAccount() string {
	if s := e.FindStakeholderByRole(RoleAdministrator); s != nil {
		return s.AdAccount
	}
	return ""
}

// Touch 刷新审计字段
func (e *Errand) Touch(identity Identity, now time.Time) {
	e.Updated = now
	e.UpdatedBy = identity.Actor()
	e.UpdatedByClient = identity.ClientID
}

// ClearSuspension 清除暂停时间窗口
func (e *Errand) ClearSuspension() {
	e.SuspendedFrom = nil
	e.SuspendedTo = nil
}

// Clone 深拷贝（集合字段复制，时间指针复制）
func (e *Errand) Clone() *Errand {
	if e == nil {
		return nil
	}
	c := *e
	c.SuspendedFrom = cloneTime(e.SuspendedFrom)
	c.SuspendedTo = cloneTime(e.SuspendedTo)
	c.Stakeholders = make([]Stakeholder, len(e.Stakeholders))
	for i, s := range e.Stakeholders {
		s.Roles = append([]string(nil), s.Roles...)
		c.Stakeholders[i] = s
	}
	c.Notes = append([]Note(nil), e.Notes...)
	c.Decisions = append([]Decision(nil), e.Decisions...)
	c.Facilities = append([]Facility(nil), e.Facilities...)
	c.Appeals = append([]Appeal(nil), e.Appeals...)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
