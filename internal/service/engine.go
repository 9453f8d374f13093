package service

import (
	"log/slog"
	"strings"

	"volunteerhub/internal/model"
	"volunteerhub/internal/pkg/notify"
	"volunteerhub/internal/pkg/validate"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Notifier 接收需要异步投递的通知，实现方不得阻塞调用方。
type Notifier interface {
	Notify(msg notify.Message)
}

// Actor 由凭证解析出的调用者身份。零值表示匿名。
type Actor struct {
	UserID uint
	Email  string
	Role   model.Role
}

// Anonymous 返回匿名调用者。
func Anonymous() Actor { return Actor{} }

// Authenticated 是否携带了有效凭证。
func (a Actor) Authenticated() bool { return a.UserID != 0 }

// IsAdmin 是否为管理员。
func (a Actor) IsAdmin() bool { return a.Authenticated() && a.Role == model.RoleAdmin }

func (a Actor) requireAuth() error {
	if !a.Authenticated() {
		return unauthorized("credential required")
	}
	return nil
}

func (a Actor) requireAdmin() error {
	if err := a.requireAuth(); err != nil {
		return err
	}
	if a.Role != model.RoleAdmin {
		return forbidden("admin role required")
	}
	return nil
}

// Engine 审核与授权引擎：所有状态变更都经由这里完成。
//
// Engine 本身无状态，可被多个请求并发使用；一致性依赖数据库事务与唯一约束。
type Engine struct {
	db       *gorm.DB
	notifier Notifier
	logger   *slog.Logger
	checker  *validator.Validate
}

// NewEngine 创建引擎。notifier 为 nil 时不发送任何通知。
func NewEngine(db *gorm.DB, notifier Notifier, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		db:       db,
		notifier: notifier,
		logger:   logger,
		checker:  validate.New(),
	}
}

// DB 返回底层连接，供健康检查使用。
func (e *Engine) DB() *gorm.DB { return e.db }

// notify 在事务提交之后调用，失败不会影响主流程。
func (e *Engine) notify(msg notify.Message) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(msg)
}

func (e *Engine) check(v any) error {
	if err := e.checker.Struct(v); err != nil {
		return invalid(err)
	}
	return nil
}

// stringSet 去掉空白项并去重，保持首次出现的顺序。
func stringSet(in []string) datatypes.JSONSlice[string] {
	out := make(datatypes.JSONSlice[string], 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}

// stringList 去掉空白项，保留顺序与重复项。
func stringList(in []string) datatypes.JSONSlice[string] {
	out := make(datatypes.JSONSlice[string], 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsFold(list []string, want string) bool {
	for _, s := range list {
		if strings.EqualFold(strings.TrimSpace(s), want) {
			return true
		}
	}
	return false
}

// Page 分页参数。
type Page struct {
	Limit  int
	Offset int
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageSize
	}
	if p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

func (p Page) apply(db *gorm.DB) *gorm.DB {
	p = p.normalize()
	return db.Limit(p.Limit).Offset(p.Offset)
}
