package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"volunteerhub/internal/model"
	"volunteerhub/internal/pkg/notify"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// RegisterInput 公开注册的请求体。
type RegisterInput struct {
	Role     model.Role `json:"role" validate:"required"`
	Email    string     `json:"email" validate:"required,email,max=191"`
	Password string     `json:"password" validate:"required,min=6,max=72"`
	Name     string     `json:"name" validate:"max=191"`

	// 志愿者属性
	Skills             []string `json:"skills" validate:"omitempty,max=50,dive,notblank,max=100"`
	Availability       string   `json:"availability" validate:"max=191"`
	DisabilityStatus   *string  `json:"disability_status" validate:"omitempty,max=191"`
	AccessibilityNeeds []string `json:"accessibility_needs" validate:"omitempty,max=50,dive,notblank,max=100"`

	// 组织属性
	OrgName     string `json:"org_name" validate:"max=191"`
	ContactInfo string `json:"contact_info" validate:"max=191"`
	Description string `json:"description" validate:"max=5000"`
}

// ProfilePatch 自助修改资料，nil 字段保持不变。角色、邮箱与审核状态不可修改。
type ProfilePatch struct {
	Name *string `json:"name" validate:"omitempty,max=191"`

	Skills             *[]string `json:"skills" validate:"omitempty,max=50,dive,notblank,max=100"`
	Availability       *string   `json:"availability" validate:"omitempty,max=191"`
	DisabilityStatus   *string   `json:"disability_status" validate:"omitempty,max=191"`
	AccessibilityNeeds *[]string `json:"accessibility_needs" validate:"omitempty,max=50,dive,notblank,max=100"`

	OrgName     *string `json:"org_name" validate:"omitempty,notblank,max=191"`
	ContactInfo *string `json:"contact_info" validate:"omitempty,max=191"`
	Description *string `json:"description" validate:"omitempty,max=5000"`
}

func (p ProfilePatch) hasVolunteerFields() bool {
	return p.Skills != nil || p.Availability != nil || p.DisabilityStatus != nil || p.AccessibilityNeeds != nil
}

func (p ProfilePatch) hasOrganizationFields() bool {
	return p.OrgName != nil || p.ContactInfo != nil || p.Description != nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register 公开注册志愿者或组织账号。
//
// role 为 admin 时无论其余字段如何都返回 ErrForbidden；邮箱已存在返回 ErrConflict。
// 组织账号以待审核状态创建。
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	if in.Role == model.RoleAdmin {
		return nil, forbidden("admin accounts cannot be registered publicly")
	}
	in.Email = normalizeEmail(in.Email)
	if err := e.check(in); err != nil {
		return nil, err
	}
	if !in.Role.Valid() {
		return nil, badRequest("unknown role %q", in.Role)
	}

	user := model.User{
		Email: in.Email,
		Name:  strings.TrimSpace(in.Name),
		Role:  in.Role,
	}
	switch in.Role {
	case model.RoleVolunteer:
		user.Skills = stringSet(in.Skills)
		user.Availability = strings.TrimSpace(in.Availability)
		user.DisabilityStatus = in.DisabilityStatus
		user.AccessibilityNeeds = stringSet(in.AccessibilityNeeds)
	case model.RoleOrganization:
		user.OrgName = strings.TrimSpace(in.OrgName)
		if user.OrgName == "" {
			return nil, badRequest("org_name is required for organizations")
		}
		user.ContactInfo = strings.TrimSpace(in.ContactInfo)
		user.Description = strings.TrimSpace(in.Description)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user.Password = string(hash)

	if err := e.createUser(ctx, &user); err != nil {
		return nil, err
	}
	e.logger.Info("user registered",
		slog.Uint64("user_id", uint64(user.ID)),
		slog.String("role", string(user.Role)))
	return &user, nil
}

func (e *Engine) createUser(ctx context.Context, user *model.User) error {
	db := e.db.WithContext(ctx)
	var n int64
	if err := db.Model(&model.User{}).Where("email = ?", user.Email).Count(&n).Error; err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if n > 0 {
		return conflict("email already registered")
	}
	if err := db.Create(user).Error; err != nil {
		return writeErr(err, "create user", "email already registered")
	}
	return nil
}

// Authenticate 校验邮箱与密码。任何失败都返回 ErrUnauthorized，不区分原因。
func (e *Engine) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, unauthorized("invalid credentials")
	}
	var user model.User
	if err := e.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, unauthorized("invalid credentials")
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, unauthorized("invalid credentials")
	}
	return &user, nil
}

// BootstrapAdmin 创建管理员账号，是创建管理员的唯一途径。
//
// 同邮箱的管理员已存在时直接返回（created=false）；邮箱属于非管理员账号时返回 ErrConflict。
func (e *Engine) BootstrapAdmin(ctx context.Context, email, password, name string) (user *model.User, created bool, err error) {
	email = normalizeEmail(email)
	in := struct {
		Email    string `json:"email" validate:"required,email,max=191"`
		Password string `json:"password" validate:"required,min=6,max=72"`
	}{Email: email, Password: password}
	if err := e.check(in); err != nil {
		return nil, false, err
	}

	var existing model.User
	err = e.db.WithContext(ctx).Where("email = ?", email).First(&existing).Error
	switch {
	case err == nil:
		if existing.Role != model.RoleAdmin {
			return nil, false, conflict("email belongs to a %s account", existing.Role)
		}
		return &existing, false, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, false, fmt.Errorf("load user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, false, fmt.Errorf("hash password: %w", err)
	}
	admin := model.User{
		Email:    email,
		Password: string(hash),
		Name:     strings.TrimSpace(name),
		Role:     model.RoleAdmin,
	}
	if err := e.createUser(ctx, &admin); err != nil {
		return nil, false, err
	}
	e.logger.Info("admin bootstrapped", slog.Uint64("user_id", uint64(admin.ID)))
	return &admin, true, nil
}

// SetOrganizationFlags 以两个布尔标志的形式设置审核状态，二者同时为真返回 ErrBadRequest。
func (e *Engine) SetOrganizationFlags(ctx context.Context, actor Actor, orgID uint, verified, rejected bool) (*model.User, error) {
	status, ok := model.ModerationOf(verified, rejected)
	if !ok {
		return nil, badRequest("verified and rejected cannot both be true")
	}
	return e.SetOrganizationModeration(ctx, actor, orgID, status)
}

// SetOrganizationModeration 设置组织审核状态（pending / verified / rejected），幂等。
//
// 仅管理员可调用；目标不存在或不是组织返回 ErrNotFound。
func (e *Engine) SetOrganizationModeration(ctx context.Context, actor Actor, orgID uint, status model.ModerationStatus) (*model.User, error) {
	if err := actor.requireAdmin(); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, badRequest("unknown moderation status %q", status)
	}

	var org model.User
	var previous model.ModerationStatus
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND role = ?", orgID, model.RoleOrganization).First(&org).Error; err != nil {
			return lookupErr(err, "organization", orgID)
		}
		previous = org.Moderation()
		verified, rejected := status.Flags()
		if err := tx.Model(&org).Updates(map[string]any{
			"verified": verified,
			"rejected": rejected,
		}).Error; err != nil {
			return fmt.Errorf("update moderation: %w", err)
		}
		org.Verified, org.Rejected = verified, rejected
		return nil
	})
	if err != nil {
		return nil, err
	}

	if previous != status {
		e.logger.Info("organization moderated",
			slog.Uint64("org_id", uint64(org.ID)),
			slog.String("from", string(previous)),
			slog.String("to", string(status)))
		if status != model.ModerationPending {
			e.notify(notify.OrganizationModerated(&org, status))
		}
	}
	return &org, nil
}

// DeleteAccount 删除账号并在同一事务内级联删除其名下的机会、申请、点赞与评论。
//
// 仅管理员可调用，且不能删除管理员账号。
func (e *Engine) DeleteAccount(ctx context.Context, actor Actor, id uint) error {
	if err := actor.requireAdmin(); err != nil {
		return err
	}

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target model.User
		if err := tx.First(&target, id).Error; err != nil {
			return lookupErr(err, "user", id)
		}
		if target.Role == model.RoleAdmin {
			return forbidden("admin accounts cannot be deleted")
		}

		var ownedIDs []uint
		if err := tx.Model(&model.Opportunity{}).Where("organization_id = ?", id).Pluck("id", &ownedIDs).Error; err != nil {
			return fmt.Errorf("load owned opportunities: %w", err)
		}
		if err := deleteOpportunityTree(tx, ownedIDs); err != nil {
			return err
		}

		var touched []uint
		if err := tx.Model(&model.Application{}).Where("volunteer_id = ?", id).Distinct().Pluck("opportunity_id", &touched).Error; err != nil {
			return fmt.Errorf("load own applications: %w", err)
		}
		if err := lockOpportunities(tx, touched); err != nil {
			return err
		}
		if err := tx.Where("volunteer_id = ?", id).Delete(&model.Application{}).Error; err != nil {
			return fmt.Errorf("delete own applications: %w", err)
		}
		for _, oppID := range touched {
			if _, err := recomputeApplicationCount(tx, oppID); err != nil {
				return err
			}
		}
		if err := tx.Where("user_id = ?", id).Delete(&model.Like{}).Error; err != nil {
			return fmt.Errorf("delete own likes: %w", err)
		}
		if err := tx.Where("volunteer_id = ?", id).Delete(&model.Comment{}).Error; err != nil {
			return fmt.Errorf("delete own comments: %w", err)
		}
		if err := tx.Delete(&model.User{}, id).Error; err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.Info("account deleted", slog.Uint64("user_id", uint64(id)), slog.Uint64("by", uint64(actor.UserID)))
	return nil
}

// GetAccount 返回账号详情，仅本人或管理员可见。
func (e *Engine) GetAccount(ctx context.Context, actor Actor, id uint) (*model.User, error) {
	if err := actor.requireAuth(); err != nil {
		return nil, err
	}
	if actor.UserID != id && !actor.IsAdmin() {
		return nil, forbidden("cannot view another account")
	}
	var user model.User
	if err := e.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, lookupErr(err, "user", id)
	}
	return &user, nil
}

// UpdateProfile 修改调用者自己的资料。提交与角色不符的属性返回 ErrBadRequest。
func (e *Engine) UpdateProfile(ctx context.Context, actor Actor, patch ProfilePatch) (*model.User, error) {
	if err := actor.requireAuth(); err != nil {
		return nil, err
	}
	if err := e.check(patch); err != nil {
		return nil, err
	}

	var user model.User
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, actor.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return unauthorized("account no longer exists")
			}
			return fmt.Errorf("load user: %w", err)
		}
		if patch.hasVolunteerFields() && user.Role != model.RoleVolunteer {
			return badRequest("volunteer attributes are only valid for volunteers")
		}
		if patch.hasOrganizationFields() && user.Role != model.RoleOrganization {
			return badRequest("organization attributes are only valid for organizations")
		}

		updates := map[string]any{}
		if patch.Name != nil {
			updates["name"] = strings.TrimSpace(*patch.Name)
		}
		if patch.Skills != nil {
			updates["skills"] = stringSet(*patch.Skills)
		}
		if patch.Availability != nil {
			updates["availability"] = strings.TrimSpace(*patch.Availability)
		}
		if patch.DisabilityStatus != nil {
			updates["disability_status"] = strings.TrimSpace(*patch.DisabilityStatus)
		}
		if patch.AccessibilityNeeds != nil {
			updates["accessibility_needs"] = stringSet(*patch.AccessibilityNeeds)
		}
		if patch.OrgName != nil {
			updates["org_name"] = strings.TrimSpace(*patch.OrgName)
		}
		if patch.ContactInfo != nil {
			updates["contact_info"] = strings.TrimSpace(*patch.ContactInfo)
		}
		if patch.Description != nil {
			updates["description"] = strings.TrimSpace(*patch.Description)
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&user).Updates(updates).Error; err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		return tx.First(&user, actor.UserID).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UserFilter 管理员查询账号的过滤条件。
type UserFilter struct {
	Role model.Role
	Page Page
}

// ListUsers 管理员列出账号。
func (e *Engine) ListUsers(ctx context.Context, actor Actor, filter UserFilter) ([]model.User, error) {
	if err := actor.requireAdmin(); err != nil {
		return nil, err
	}
	q := e.db.WithContext(ctx).Model(&model.User{})
	if filter.Role != "" {
		if !filter.Role.Valid() {
			return nil, badRequest("unknown role %q", filter.Role)
		}
		q = q.Where("role = ?", filter.Role)
	}
	users := []model.User{}
	if err := filter.Page.apply(q.Order("id ASC")).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// ListOrganizations 管理员按审核状态列出组织，status 为空时返回全部。
func (e *Engine) ListOrganizations(ctx context.Context, actor Actor, status model.ModerationStatus, page Page) ([]model.User, error) {
	if err := actor.requireAdmin(); err != nil {
		return nil, err
	}
	q := e.db.WithContext(ctx).Model(&model.User{}).Where("role = ?", model.RoleOrganization)
	if status != "" {
		if !status.Valid() {
			return nil, badRequest("unknown moderation status %q", status)
		}
		verified, rejected := status.Flags()
		q = q.Where("verified = ? AND rejected = ?", verified, rejected)
	}
	orgs := []model.User{}
	if err := page.apply(q.Order("id ASC")).Find(&orgs).Error; err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	return orgs, nil
}
