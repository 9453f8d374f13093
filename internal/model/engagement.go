package model

import "time"

// MaxCommentLength 评论最大字符数。
const MaxCommentLength = 500

// Like 用户对机会的点赞，存在即表示已点赞。
type Like struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	OpportunityID uint        `gorm:"not null;uniqueIndex:idx_like_pair,priority:1" json:"opportunity_id"`
	Opportunity   Opportunity `gorm:"foreignKey:OpportunityID;constraint:OnDelete:CASCADE" json:"-"`
	UserID        uint        `gorm:"not null;uniqueIndex:idx_like_pair,priority:2;index" json:"user_id"`
	User          User        `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Comment 志愿者在机会下的留言，只追加不修改。
type Comment struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	OpportunityID uint        `gorm:"not null;index" json:"opportunity_id"`
	Opportunity   Opportunity `gorm:"foreignKey:OpportunityID;constraint:OnDelete:CASCADE" json:"-"`
	VolunteerID   uint        `gorm:"not null;index" json:"volunteer_id"`
	Volunteer     User        `gorm:"foreignKey:VolunteerID;constraint:OnDelete:CASCADE" json:"-"`
	Content       string      `gorm:"type:varchar(500);not null" json:"content"`
	CreatedAt     time.Time   `gorm:"index" json:"created_at"`
}

// All 返回需要自动迁移的全部模型（按依赖顺序）。
func All() []any {
	return []any{&User{}, &Opportunity{}, &Application{}, &Like{}, &Comment{}}
}
