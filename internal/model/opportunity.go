package model

import (
	"time"

	"gorm.io/datatypes"
)

// OpportunityType 志愿机会的工作方式。
type OpportunityType string

const (
	TypeOnsite OpportunityType = "onsite"
	TypeRemote OpportunityType = "remote"
	TypeHybrid OpportunityType = "hybrid"
)

// Valid 判断类型是否合法。
func (t OpportunityType) Valid() bool {
	switch t {
	case TypeOnsite, TypeRemote, TypeHybrid:
		return true
	}
	return false
}

// OpportunityStatus 志愿机会的审核状态。
//
// 管理员可以在任意两个状态之间切换，没有终态。
type OpportunityStatus string

const (
	OpportunityPending  OpportunityStatus = "pending"
	OpportunityApproved OpportunityStatus = "approved"
	OpportunityRejected OpportunityStatus = "rejected"
)

// Valid 判断状态是否合法。
func (s OpportunityStatus) Valid() bool {
	switch s {
	case OpportunityPending, OpportunityApproved, OpportunityRejected:
		return true
	}
	return false
}

// Opportunity 表示组织发布的志愿机会。
//
// ApplicationCount 是 applications 表的缓存计数，每次申请创建/删除后在同一事务内重算。
type Opportunity struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrganizationID uint `gorm:"not null;index" json:"organization_id"`
	Organization   User `gorm:"foreignKey:OrganizationID;constraint:OnDelete:CASCADE" json:"-"`

	Title                 string                      `gorm:"type:varchar(191);not null" json:"title"`
	Description           string                      `gorm:"type:text;not null" json:"description"`
	Requirements          datatypes.JSONSlice[string] `json:"requirements"`
	Location              string                      `gorm:"type:varchar(191)" json:"location"`
	Type                  OpportunityType             `gorm:"type:varchar(16);not null;check:type IN ('onsite','remote','hybrid')" json:"type"`
	AccessibilityFeatures datatypes.JSONSlice[string] `json:"accessibility_features"`
	Skills                datatypes.JSONSlice[string] `json:"skills"`
	Status                OpportunityStatus           `gorm:"type:varchar(16);not null;default:pending;index;check:status IN ('pending','approved','rejected')" json:"status"`
	ApplicationCount      int                         `gorm:"column:applications;not null;default:0" json:"applications"`
}
