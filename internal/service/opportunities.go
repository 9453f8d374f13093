package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"volunteerhub/internal/model"
	"volunteerhub/internal/pkg/metrics"
	"volunteerhub/internal/pkg/notify"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OpportunityInput 创建机会的字段。
type OpportunityInput struct {
	Title                 string                `json:"title" validate:"notblank,max=191"`
	Description           string                `json:"description" validate:"notblank,max=10000"`
	Requirements          []string              `json:"requirements" validate:"omitempty,max=50,dive,notblank,max=500"`
	Location              string                `json:"location" validate:"max=191"`
	Type                  model.OpportunityType `json:"type" validate:"required"`
	AccessibilityFeatures []string              `json:"accessibility_features" validate:"omitempty,max=50,dive,notblank,max=100"`
	Skills                []string              `json:"skills" validate:"omitempty,max=50,dive,notblank,max=100"`
}

// OpportunityPatch 修改机会的字段，nil 表示不修改。状态只能通过 TransitionOpportunity 修改。
type OpportunityPatch struct {
	Title                 *string                `json:"title" validate:"omitempty,notblank,max=191"`
	Description           *string                `json:"description" validate:"omitempty,notblank,max=10000"`
	Requirements          *[]string              `json:"requirements" validate:"omitempty,max=50,dive,notblank,max=500"`
	Location              *string                `json:"location" validate:"omitempty,max=191"`
	Type                  *model.OpportunityType `json:"type"`
	AccessibilityFeatures *[]string              `json:"accessibility_features" validate:"omitempty,max=50,dive,notblank,max=100"`
	Skills                *[]string              `json:"skills" validate:"omitempty,max=50,dive,notblank,max=100"`
}

// OpportunityView 机会详情，附带实时点赞数。
type OpportunityView struct {
	model.Opportunity
	Likes int64 `json:"likes"`
}

// OpportunityFilter 机会列表的过滤条件。
type OpportunityFilter struct {
	Status               model.OpportunityStatus
	OrganizationID       uint
	Type                 model.OpportunityType
	Skill                string
	AccessibilityFeature string
	Query                string
	Page                 Page
}

// canManage 判断调用者能否修改该机会（所有者或管理员）。
func (a Actor) canManage(opp *model.Opportunity) bool {
	return a.IsAdmin() || (a.Role == model.RoleOrganization && a.UserID == opp.OrganizationID)
}

// canSee 判断调用者能否看到该机会：已通过的公开，其余仅所有者与管理员可见。
func (a Actor) canSee(opp *model.Opportunity) bool {
	return opp.Status == model.OpportunityApproved || (a.Authenticated() && a.canManage(opp))
}

// CreateOpportunity 组织发布新机会，初始状态为 pending、申请数为 0。
//
// 被拒绝或尚未通过审核的组织返回 ErrForbidden。
func (e *Engine) CreateOpportunity(ctx context.Context, actor Actor, in OpportunityInput) (*model.Opportunity, error) {
	if err := actor.requireAuth(); err != nil {
		return nil, err
	}
	if actor.Role != model.RoleOrganization {
		return nil, forbidden("only organizations can create opportunities")
	}
	if err := e.check(in); err != nil {
		return nil, err
	}
	if !in.Type.Valid() {
		return nil, badRequest("unknown opportunity type %q", in.Type)
	}

	var org model.User
	if err := e.db.WithContext(ctx).Where("id = ? AND role = ?", actor.UserID, model.RoleOrganization).First(&org).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, unauthorized("account no longer exists")
		}
		return nil, fmt.Errorf("load organization: %w", err)
	}
	switch org.Moderation() {
	case model.ModerationRejected:
		return nil, forbidden("organization has been rejected")
	case model.ModerationPending:
		return nil, forbidden("organization is not verified yet")
	}

	opp := model.Opportunity{
		OrganizationID:        org.ID,
		Title:                 strings.TrimSpace(in.Title),
		Description:           strings.TrimSpace(in.Description),
		Requirements:          stringList(in.Requirements),
		Location:              strings.TrimSpace(in.Location),
		Type:                  in.Type,
		AccessibilityFeatures: stringSet(in.AccessibilityFeatures),
		Skills:                stringSet(in.Skills),
		Status:                model.OpportunityPending,
		ApplicationCount:      0,
	}
	if err := e.db.WithContext(ctx).Omit(clause.Associations).Create(&opp).Error; err != nil {
		return nil, fmt.Errorf("create opportunity: %w", err)
	}
	e.logger.Info("opportunity created",
		slog.Uint64("opportunity_id", uint64(opp.ID)),
		slog.Uint64("org_id", uint64(org.ID)))
	return &opp, nil
}

// TransitionOpportunity 管理员设置机会状态。任意状态之间都可以切换。
func (e *Engine) TransitionOpportunity(ctx context.Context, actor Actor, id uint, target model.OpportunityStatus) (*model.Opportunity, error) {
	if err := actor.requireAdmin(); err != nil {
		return nil, err
	}
	if !target.Valid() {
		return nil, badRequest("unknown opportunity status %q", target)
	}

	var opp model.Opportunity
	var owner model.User
	var previous model.OpportunityStatus
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&opp, id).Error; err != nil {
			return lookupErr(err, "opportunity", id)
		}
		previous = opp.Status
		if previous != target {
			if err := tx.Model(&opp).Update("status", target).Error; err != nil {
				return fmt.Errorf("update opportunity status: %w", err)
			}
			opp.Status = target
		}
		if err := tx.First(&owner, opp.OrganizationID).Error; err != nil {
			return lookupErr(err, "organization", opp.OrganizationID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if previous != target {
		metrics.OpportunityTransitionsTotal.WithLabelValues(string(target)).Inc()
		e.logger.Info("opportunity transitioned",
			slog.Uint64("opportunity_id", uint64(opp.ID)),
			slog.String("from", string(previous)),
			slog.String("to", string(target)))
		if target != model.OpportunityPending {
			e.notify(notify.OpportunityReviewed(&owner, &opp))
		}
	}
	return &opp, nil
}

// UpdateOpportunity 所有者或管理员修改机会字段，不影响状态与申请数。
func (e *Engine) UpdateOpportunity(ctx context.Context, actor Actor, id uint, patch OpportunityPatch) (*model.Opportunity, error) {
	if err := actor.requireAuth(); err != nil {
		return nil, err
	}
	if err := e.check(patch); err != nil {
		return nil, err
	}
	if patch.Type != nil && !patch.Type.Valid() {
		return nil, badRequest("unknown opportunity type %q", *patch.Type)
	}

	var opp model.Opportunity
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&opp, id).Error; err != nil {
			return lookupErr(err, "opportunity", id)
		}
		if !actor.canManage(&opp) {
			return forbidden("only the owning organization or an admin can edit this opportunity")
		}

		updates := map[string]any{}
		if patch.Title != nil {
			updates["title"] = strings.TrimSpace(*patch.Title)
		}
		if patch.Description != nil {
			updates["description"] = strings.TrimSpace(*patch.Description)
		}
		if patch.Requirements != nil {
			updates["requirements"] = stringList(*patch.Requirements)
		}
		if patch.Location != nil {
			updates["location"] = strings.TrimSpace(*patch.Location)
		}
		if patch.Type != nil {
			updates["type"] = *patch.Type
		}
		if patch.AccessibilityFeatures != nil {
			updates["accessibility_features"] = stringSet(*patch.AccessibilityFeatures)
		}
		if patch.Skills != nil {
			updates["skills"] = stringSet(*patch.Skills)
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&opp).Updates(updates).Error; err != nil {
			return fmt.Errorf("update opportunity: %w", err)
		}
		return tx.First(&opp, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &opp, nil
}

// DeleteOpportunity 所有者或管理员删除机会，同一事务内删除其申请、点赞与评论。
func (e *Engine) DeleteOpportunity(ctx context.Context, actor Actor, id uint) error {
	if err := actor.requireAuth(); err != nil {
		return err
	}
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var opp model.Opportunity
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&opp, id).Error; err != nil {
			return lookupErr(err, "opportunity", id)
		}
		if !actor.canManage(&opp) {
			return forbidden("only the owning organization or an admin can delete this opportunity")
		}
		return deleteOpportunityTree(tx, []uint{id})
	})
	if err != nil {
		return err
	}
	e.logger.Info("opportunity deleted", slog.Uint64("opportunity_id", uint64(id)), slog.Uint64("by", uint64(actor.UserID)))
	return nil
}

// deleteOpportunityTree 先删子表再删机会本身，必须在事务内调用。
func deleteOpportunityTree(tx *gorm.DB, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	if err := tx.Where("opportunity_id IN ?", ids).Delete(&model.Application{}).Error; err != nil {
		return fmt.Errorf("delete applications: %w", err)
	}
	if err := tx.Where("opportunity_id IN ?", ids).Delete(&model.Like{}).Error; err != nil {
		return fmt.Errorf("delete likes: %w", err)
	}
	if err := tx.Where("opportunity_id IN ?", ids).Delete(&model.Comment{}).Error; err != nil {
		return fmt.Errorf("delete comments: %w", err)
	}
	if err := tx.Where("id IN ?", ids).Delete(&model.Opportunity{}).Error; err != nil {
		return fmt.Errorf("delete opportunities: %w", err)
	}
	return nil
}

// GetOpportunity 返回机会详情。未通过的机会对所有者与管理员以外的调用者表现为不存在。
func (e *Engine) GetOpportunity(ctx context.Context, actor Actor, id uint) (*OpportunityView, error) {
	db := e.db.WithContext(ctx)
	var opp model.Opportunity
	if err := db.First(&opp, id).Error; err != nil {
		return nil, lookupErr(err, "opportunity", id)
	}
	if !actor.canSee(&opp) {
		return nil, fmt.Errorf("%w: opportunity %d", ErrNotFound, id)
	}
	var likes int64
	if err := db.Model(&model.Like{}).Where("opportunity_id = ?", id).Count(&likes).Error; err != nil {
		return nil, fmt.Errorf("count likes: %w", err)
	}
	return &OpportunityView{Opportunity: opp, Likes: likes}, nil
}

// ListOpportunities 按条件列出机会，按创建时间倒序。
//
// 管理员可见全部；组织可见已通过的与自己发布的；其他调用者只能看到已通过的。
// 技能与无障碍设施条件在内存中匹配（不区分大小写）。
func (e *Engine) ListOpportunities(ctx context.Context, actor Actor, filter OpportunityFilter) ([]model.Opportunity, error) {
	q := e.db.WithContext(ctx).Model(&model.Opportunity{})

	switch {
	case actor.IsAdmin():
	case actor.Authenticated() && actor.Role == model.RoleOrganization:
		q = q.Where("status = ? OR organization_id = ?", model.OpportunityApproved, actor.UserID)
	default:
		q = q.Where("status = ?", model.OpportunityApproved)
	}

	if filter.Status != "" {
		if !filter.Status.Valid() {
			return nil, badRequest("unknown opportunity status %q", filter.Status)
		}
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		if !filter.Type.Valid() {
			return nil, badRequest("unknown opportunity type %q", filter.Type)
		}
		q = q.Where("type = ?", filter.Type)
	}
	if filter.OrganizationID != 0 {
		q = q.Where("organization_id = ?", filter.OrganizationID)
	}
	if text := strings.TrimSpace(filter.Query); text != "" {
		like := "%" + strings.ToLower(text) + "%"
		q = q.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ?", like, like)
	}
	q = q.Order("created_at DESC").Order("id DESC")

	skill := strings.TrimSpace(filter.Skill)
	feature := strings.TrimSpace(filter.AccessibilityFeature)
	page := filter.Page.normalize()

	opps := []model.Opportunity{}
	if skill == "" && feature == "" {
		if err := page.apply(q).Find(&opps).Error; err != nil {
			return nil, fmt.Errorf("list opportunities: %w", err)
		}
		return opps, nil
	}

	var all []model.Opportunity
	if err := q.Find(&all).Error; err != nil {
		return nil, fmt.Errorf("list opportunities: %w", err)
	}
	for _, opp := range all {
		if skill != "" && !containsFold(opp.Skills, skill) {
			continue
		}
		if feature != "" && !containsFold(opp.AccessibilityFeatures, feature) {
			continue
		}
		opps = append(opps, opp)
	}
	if page.Offset >= len(opps) {
		return []model.Opportunity{}, nil
	}
	opps = opps[page.Offset:]
	if len(opps) > page.Limit {
		opps = opps[:page.Limit]
	}
	return opps, nil
}

// recomputeApplicationCount 用实时 COUNT 覆盖机会上的申请数缓存，必须在触发变更的事务内调用。
//
// 计数放在 UPDATE 的子查询里执行，读取的是最新提交的数据而不是事务开始时的快照。
func recomputeApplicationCount(tx *gorm.DB, opportunityID uint) (int64, error) {
	live := gorm.Expr("(SELECT COUNT(*) FROM applications WHERE applications.opportunity_id = ?)", opportunityID)
	if err := tx.Model(&model.Opportunity{}).Where("id = ?", opportunityID).UpdateColumn("applications", live).Error; err != nil {
		return 0, fmt.Errorf("update application count: %w", err)
	}
	var counts []int64
	if err := tx.Model(&model.Opportunity{}).Where("id = ?", opportunityID).Pluck("applications", &counts).Error; err != nil {
		return 0, fmt.Errorf("read application count: %w", err)
	}
	if len(counts) == 0 {
		return 0, fmt.Errorf("%w: opportunity %d", ErrNotFound, opportunityID)
	}
	return counts[0], nil
}

// lockOpportunities 按 id 升序对机会行加写锁，与 Apply 的加锁顺序一致。
func lockOpportunities(tx *gorm.DB, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	var locked []uint
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Model(&model.Opportunity{}).
		Where("id IN ?", ids).
		Order("id ASC").
		Pluck("id", &locked).Error; err != nil {
		return fmt.Errorf("lock opportunities: %w", err)
	}
	return nil
}

const reconcileSQL = `UPDATE opportunities
SET applications = (SELECT COUNT(*) FROM applications WHERE applications.opportunity_id = opportunities.id)
WHERE applications <> (SELECT COUNT(*) FROM applications WHERE applications.opportunity_id = opportunities.id)`

// ReconcileApplicationCounts 全表校正申请数缓存，返回被修正的机会数。
//
// 每次申请变更都会在事务内重算，这里只兜底外部直接写库造成的偏差。
func (e *Engine) ReconcileApplicationCounts(ctx context.Context) (int64, error) {
	res := e.db.WithContext(ctx).Exec(reconcileSQL)
	if res.Error != nil {
		return 0, fmt.Errorf("reconcile application counts: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		metrics.CounterDriftCorrectedTotal.Add(float64(res.RowsAffected))
		e.logger.Warn("application counters corrected", slog.Int64("rows", res.RowsAffected))
	}
	return res.RowsAffected, nil
}
