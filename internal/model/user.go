package model

import (
	"time"

	"gorm.io/datatypes"
)

// Role 账号角色，注册后不可变更。
type Role string

const (
	RoleVolunteer    Role = "volunteer"
	RoleOrganization Role = "organization"
	RoleAdmin        Role = "admin"
)

// Valid 判断角色是否为已知取值。
func (r Role) Valid() bool {
	switch r {
	case RoleVolunteer, RoleOrganization, RoleAdmin:
		return true
	}
	return false
}

// ModerationStatus 组织审核状态。
//
// 数据库中仍以 verified / rejected 两列保存，但引擎只通过该三态写入，
// 从而不会出现 verified && rejected 同时为真的情况。
type ModerationStatus string

const (
	ModerationPending  ModerationStatus = "pending"
	ModerationVerified ModerationStatus = "verified"
	ModerationRejected ModerationStatus = "rejected"
)

// Valid 判断审核状态是否为已知取值。
func (m ModerationStatus) Valid() bool {
	switch m {
	case ModerationPending, ModerationVerified, ModerationRejected:
		return true
	}
	return false
}

// Flags 返回该状态对应的 (verified, rejected) 列值。
func (m ModerationStatus) Flags() (verified bool, rejected bool) {
	switch m {
	case ModerationVerified:
		return true, false
	case ModerationRejected:
		return false, true
	default:
		return false, false
	}
}

// ModerationOf 由两个标志位推导审核状态，二者同时为真时 ok 为 false。
func ModerationOf(verified, rejected bool) (status ModerationStatus, ok bool) {
	switch {
	case verified && rejected:
		return "", false
	case verified:
		return ModerationVerified, true
	case rejected:
		return ModerationRejected, true
	default:
		return ModerationPending, true
	}
}

// User 表示平台账号（志愿者 / 组织 / 管理员）。
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"type:varchar(191);uniqueIndex;not null" json:"email"` // 小写存储
	Password  string    `gorm:"not null" json:"-"`                                   // bcrypt 哈希
	Name      string    `gorm:"type:varchar(191)" json:"name"`
	Role      Role      `gorm:"type:varchar(16);not null;index;check:role IN ('volunteer','organization','admin')" json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 志愿者属性
	Skills             datatypes.JSONSlice[string] `json:"skills,omitempty"`
	Availability       string                      `json:"availability,omitempty"`
	DisabilityStatus   *string                     `json:"disability_status,omitempty"`
	AccessibilityNeeds datatypes.JSONSlice[string] `json:"accessibility_needs,omitempty"`

	// 组织属性
	OrgName     string `gorm:"type:varchar(191)" json:"org_name,omitempty"`
	ContactInfo string `json:"contact_info,omitempty"`
	Description string `gorm:"type:text" json:"description,omitempty"`
	Verified    bool   `gorm:"default:false;check:NOT (verified AND rejected)" json:"verified"`
	Rejected    bool   `gorm:"default:false" json:"rejected"`
}

// Moderation 返回组织当前审核状态。
func (u *User) Moderation() ModerationStatus {
	status, ok := ModerationOf(u.Verified, u.Rejected)
	if !ok {
		// 两列同时为真只可能来自外部写入，按拒绝处理
		return ModerationRejected
	}
	return status
}

// IsOrganization 判断是否为组织账号。
func (u *User) IsOrganization() bool { return u.Role == RoleOrganization }
