package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"volunteerhub/internal/model"
	"volunteerhub/internal/pkg/metrics"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LikeState 点赞状态与实时点赞数。
type LikeState struct {
	Liked bool  `json:"liked"`
	Likes int64 `json:"likes"`
}

// visibleOpportunity 确认机会存在且调用者可见，不可见时与不存在一样返回 ErrNotFound。
func visibleOpportunity(tx *gorm.DB, actor Actor, id uint) error {
	var opp model.Opportunity
	if err := tx.Select("id", "organization_id", "status").First(&opp, id).Error; err != nil {
		return lookupErr(err, "opportunity", id)
	}
	if !actor.canSee(&opp) {
		return fmt.Errorf("%w: opportunity %d", ErrNotFound, id)
	}
	return nil
}

func countLikes(tx *gorm.DB, opportunityID uint) (int64, error) {
	var n int64
	if err := tx.Model(&model.Like{}).Where("opportunity_id = ?", opportunityID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count likes: %w", err)
	}
	return n, nil
}

// ToggleLike 切换点赞：已点赞则取消，否则点赞。返回新的状态与点赞数。
func (e *Engine) ToggleLike(ctx context.Context, actor Actor, opportunityID uint) (LikeState, error) {
	if err := actor.requireAuth(); err != nil {
		return LikeState{}, err
	}

	var state LikeState
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := visibleOpportunity(tx, actor, opportunityID); err != nil {
			return err
		}
		var like model.Like
		err := tx.Where("opportunity_id = ? AND user_id = ?", opportunityID, actor.UserID).First(&like).Error
		switch {
		case err == nil:
			if err := tx.Delete(&like).Error; err != nil {
				return fmt.Errorf("delete like: %w", err)
			}
			state.Liked = false
		case errors.Is(err, gorm.ErrRecordNotFound):
			like = model.Like{OpportunityID: opportunityID, UserID: actor.UserID}
			if err := tx.Omit(clause.Associations).Create(&like).Error; err != nil {
				return writeErr(err, "create like", "like already recorded")
			}
			state.Liked = true
		default:
			return fmt.Errorf("load like: %w", err)
		}
		n, err := countLikes(tx, opportunityID)
		state.Likes = n
		return err
	})
	if err != nil {
		return LikeState{}, err
	}

	result := "unliked"
	if state.Liked {
		result = "liked"
	}
	metrics.LikesToggledTotal.WithLabelValues(result).Inc()
	return state, nil
}

// LikeStatus 返回点赞数以及调用者是否已点赞，匿名调用者 Liked 恒为 false。
func (e *Engine) LikeStatus(ctx context.Context, actor Actor, opportunityID uint) (LikeState, error) {
	db := e.db.WithContext(ctx)
	if err := visibleOpportunity(db, actor, opportunityID); err != nil {
		return LikeState{}, err
	}
	n, err := countLikes(db, opportunityID)
	if err != nil {
		return LikeState{}, err
	}
	state := LikeState{Likes: n}
	if actor.Authenticated() {
		var mine int64
		if err := db.Model(&model.Like{}).
			Where("opportunity_id = ? AND user_id = ?", opportunityID, actor.UserID).
			Count(&mine).Error; err != nil {
			return LikeState{}, fmt.Errorf("load like: %w", err)
		}
		state.Liked = mine > 0
	}
	return state, nil
}

// AddComment 志愿者发表评论，内容去掉首尾空白后不能为空，且不超过 500 个字符。
func (e *Engine) AddComment(ctx context.Context, actor Actor, opportunityID uint, content string) (*model.Comment, error) {
	if err := actor.requireAuth(); err != nil {
		return nil, err
	}
	if actor.Role != model.RoleVolunteer {
		return nil, forbidden("only volunteers can comment")
	}
	if utf8.RuneCountInString(content) > model.MaxCommentLength {
		return nil, badRequest("comment exceeds %d characters", model.MaxCommentLength)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, badRequest("comment content is required")
	}

	db := e.db.WithContext(ctx)
	if err := visibleOpportunity(db, actor, opportunityID); err != nil {
		return nil, err
	}
	comment := model.Comment{
		OpportunityID: opportunityID,
		VolunteerID:   actor.UserID,
		Content:       content,
	}
	if err := db.Omit(clause.Associations).Create(&comment).Error; err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}
	return &comment, nil
}

// ListComments 按时间倒序返回评论，允许匿名读取。机会对调用者不可见时返回 ErrNotFound。
func (e *Engine) ListComments(ctx context.Context, actor Actor, opportunityID uint, page Page) ([]model.Comment, error) {
	db := e.db.WithContext(ctx)
	if err := visibleOpportunity(db, actor, opportunityID); err != nil {
		return nil, err
	}
	comments := []model.Comment{}
	q := db.Where("opportunity_id = ?", opportunityID).Order("created_at DESC").Order("id DESC")
	if err := page.apply(q).Find(&comments).Error; err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}
