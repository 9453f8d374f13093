package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"volunteerhub/internal/model"
	"volunteerhub/internal/pkg/metrics"
	"volunteerhub/internal/pkg/notify"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxApplicationMessageLength 申请附言的最大字符数。
const MaxApplicationMessageLength = 2000

// ApplicationFilter 申请列表的过滤条件，零值字段不参与过滤。
type ApplicationFilter struct {
	VolunteerID    uint
	OpportunityID  uint
	OrganizationID uint
	Status         model.ApplicationStatus
	Page           Page
}

// Apply 志愿者申请机会。
//
// 机会行在事务内加锁；重复申请由唯一约束兜底并转为 ErrConflict；
// 插入后在同一事务内用实时 COUNT 重算申请数。
func (e *Engine) Apply(ctx context.Context, actor Actor, opportunityID uint, message string) (*model.Application, error) {
	if !actor.Authenticated() || actor.Role != model.RoleVolunteer {
		return nil, unauthorized("only volunteers can apply")
	}
	if utf8.RuneCountInString(message) > MaxApplicationMessageLength {
		return nil, badRequest("message exceeds %d characters", MaxApplicationMessageLength)
	}

	var (
		app       model.Application
		opp       model.Opportunity
		volunteer model.User
		org       model.User
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&opp, opportunityID).Error; err != nil {
			return lookupErr(err, "opportunity", opportunityID)
		}
		if opp.Status != model.OpportunityApproved {
			return forbidden("opportunity %d is not open for applications", opportunityID)
		}
		if err := tx.Where("id = ? AND role = ?", actor.UserID, model.RoleVolunteer).First(&volunteer).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return unauthorized("account no longer exists")
			}
			return fmt.Errorf("load volunteer: %w", err)
		}

		var existing int64
		if err := tx.Model(&model.Application{}).
			Where("volunteer_id = ? AND opportunity_id = ?", actor.UserID, opportunityID).
			Count(&existing).Error; err != nil {
			return fmt.Errorf("check application: %w", err)
		}
		if existing > 0 {
			return conflict("already applied to opportunity %d", opportunityID)
		}

		app = model.Application{
			VolunteerID:   actor.UserID,
			OpportunityID: opportunityID,
			Status:        model.ApplicationPending,
			Message:       message,
		}
		if err := tx.Omit(clause.Associations).Create(&app).Error; err != nil {
			return writeErr(err, "create application", fmt.Sprintf("already applied to opportunity %d", opportunityID))
		}

		count, err := recomputeApplicationCount(tx, opportunityID)
		if err != nil {
			return err
		}
		opp.ApplicationCount = int(count)

		if err := tx.First(&org, opp.OrganizationID).Error; err != nil {
			return lookupErr(err, "organization", opp.OrganizationID)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			metrics.ApplicationConflictsTotal.Inc()
		}
		return nil, err
	}

	metrics.ApplicationsTotal.WithLabelValues("created").Inc()
	e.logger.Info("application created",
		slog.Uint64("application_id", uint64(app.ID)),
		slog.Uint64("opportunity_id", uint64(opportunityID)),
		slog.Int("applications", opp.ApplicationCount))
	e.notify(notify.ApplicationReceived(&org, &volunteer, &opp, message))
	return &app, nil
}

// SetApplicationStatus 机会所属组织或管理员设置申请状态，允许任意方向切换。
//
// 状态实际变为 accepted / rejected 时通知志愿者，重复设置同一状态不通知。
func (e *Engine) SetApplicationStatus(ctx context.Context, actor Actor, id uint, status model.ApplicationStatus) (*model.Application, error) {
	if err := actor.requireAuth(); err != nil {
		return nil, err
	}
	if actor.Role != model.RoleOrganization && actor.Role != model.RoleAdmin {
		return nil, forbidden("only the owning organization or an admin can review applications")
	}
	if !status.Valid() {
		return nil, badRequest("unknown application status %q", status)
	}

	var (
		app       model.Application
		opp       model.Opportunity
		volunteer model.User
		changed   bool
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&app, id).Error; err != nil {
			return lookupErr(err, "application", id)
		}
		if err := tx.First(&opp, app.OpportunityID).Error; err != nil {
			return lookupErr(err, "opportunity", app.OpportunityID)
		}
		if !actor.canManage(&opp) {
			return forbidden("application %d belongs to another organization", id)
		}
		if app.Status != status {
			if err := tx.Model(&app).Update("status", status).Error; err != nil {
				return fmt.Errorf("update application status: %w", err)
			}
			app.Status = status
			changed = true
		}
		if err := tx.First(&volunteer, app.VolunteerID).Error; err != nil {
			return lookupErr(err, "volunteer", app.VolunteerID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !changed {
		return &app, nil
	}
	metrics.ApplicationsTotal.WithLabelValues("status").Inc()
	if status == model.ApplicationAccepted || status == model.ApplicationRejected {
		e.notify(notify.ApplicationDecided(&app, &volunteer, &opp))
	}
	return &app, nil
}

// DeleteApplication 管理员删除申请，并在同一事务内重算申请数。
func (e *Engine) DeleteApplication(ctx context.Context, actor Actor, id uint) error {
	if err := actor.requireAdmin(); err != nil {
		return err
	}
	var remaining int64
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var app model.Application
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&app, id).Error; err != nil {
			return lookupErr(err, "application", id)
		}
		var opp model.Opportunity
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&opp, app.OpportunityID).Error; err != nil {
			return lookupErr(err, "opportunity", app.OpportunityID)
		}
		if err := tx.Delete(&model.Application{}, id).Error; err != nil {
			return fmt.Errorf("delete application: %w", err)
		}
		n, err := recomputeApplicationCount(tx, app.OpportunityID)
		remaining = n
		return err
	})
	if err != nil {
		return err
	}
	metrics.ApplicationsTotal.WithLabelValues("deleted").Inc()
	e.logger.Info("application deleted",
		slog.Uint64("application_id", uint64(id)),
		slog.Int64("applications", remaining))
	return nil
}

// GetApplication 返回申请详情：申请人本人、机会所属组织与管理员可见。
func (e *Engine) GetApplication(ctx context.Context, actor Actor, id uint) (*model.Application, error) {
	if err := actor.requireAuth(); err != nil {
		return nil, err
	}
	db := e.db.WithContext(ctx)
	var app model.Application
	if err := db.First(&app, id).Error; err != nil {
		return nil, lookupErr(err, "application", id)
	}
	if actor.IsAdmin() || (actor.Role == model.RoleVolunteer && app.VolunteerID == actor.UserID) {
		return &app, nil
	}
	if actor.Role == model.RoleOrganization {
		var opp model.Opportunity
		if err := db.First(&opp, app.OpportunityID).Error; err != nil {
			return nil, lookupErr(err, "opportunity", app.OpportunityID)
		}
		if opp.OrganizationID == actor.UserID {
			return &app, nil
		}
	}
	return nil, forbidden("cannot view application %d", id)
}

// ListApplications 按角色限定范围列出申请：志愿者只看自己的，组织只看自己机会下的，管理员看全部。
func (e *Engine) ListApplications(ctx context.Context, actor Actor, filter ApplicationFilter) ([]model.Application, error) {
	if err := actor.requireAuth(); err != nil {
		return nil, err
	}
	switch actor.Role {
	case model.RoleAdmin:
	case model.RoleVolunteer:
		if filter.VolunteerID != 0 && filter.VolunteerID != actor.UserID {
			return nil, forbidden("volunteers can only list their own applications")
		}
		filter.VolunteerID = actor.UserID
	case model.RoleOrganization:
		if filter.OrganizationID != 0 && filter.OrganizationID != actor.UserID {
			return nil, forbidden("organizations can only list applications to their own opportunities")
		}
		filter.OrganizationID = actor.UserID
	default:
		return nil, forbidden("role %q cannot list applications", actor.Role)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, badRequest("unknown application status %q", filter.Status)
	}

	q := e.db.WithContext(ctx).Model(&model.Application{}).Select("applications.*")
	if filter.OrganizationID != 0 {
		q = q.Joins("JOIN opportunities ON opportunities.id = applications.opportunity_id").
			Where("opportunities.organization_id = ?", filter.OrganizationID)
	}
	if filter.VolunteerID != 0 {
		q = q.Where("applications.volunteer_id = ?", filter.VolunteerID)
	}
	if filter.OpportunityID != 0 {
		q = q.Where("applications.opportunity_id = ?", filter.OpportunityID)
	}
	if filter.Status != "" {
		q = q.Where("applications.status = ?", filter.Status)
	}

	apps := []model.Application{}
	if err := filter.Page.apply(q.Order("applications.applied_at DESC").Order("applications.id DESC")).Find(&apps).Error; err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	return apps, nil
}
