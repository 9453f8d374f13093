package model

import "time"

// ApplicationStatus 申请状态，允许任意方向切换。
type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationAccepted ApplicationStatus = "accepted"
	ApplicationRejected ApplicationStatus = "rejected"
)

// Valid 判断状态是否合法。
func (s ApplicationStatus) Valid() bool {
	switch s {
	case ApplicationPending, ApplicationAccepted, ApplicationRejected:
		return true
	}
	return false
}

// Application 志愿者对某个机会的申请。
//
// (VolunteerID, OpportunityID) 上有唯一索引，重复申请由数据库约束拦截。
type Application struct {
	ID uint `gorm:"primaryKey" json:"id"`

	VolunteerID   uint        `gorm:"not null;uniqueIndex:idx_application_pair,priority:1" json:"volunteer_id"`
	Volunteer     User        `gorm:"foreignKey:VolunteerID;constraint:OnDelete:CASCADE" json:"-"`
	OpportunityID uint        `gorm:"not null;uniqueIndex:idx_application_pair,priority:2;index" json:"opportunity_id"`
	Opportunity   Opportunity `gorm:"foreignKey:OpportunityID;constraint:OnDelete:CASCADE" json:"-"`

	Status    ApplicationStatus `gorm:"type:varchar(16);not null;default:pending;check:status IN ('pending','accepted','rejected')" json:"status"`
	Message   string            `gorm:"type:text" json:"message"`
	AppliedAt time.Time         `gorm:"autoCreateTime" json:"applied_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
