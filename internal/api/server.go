package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"volunteerhub/internal/api/auth"
	"volunteerhub/internal/api/middleware"
	"volunteerhub/internal/api/scheduler"
	"volunteerhub/internal/config"
	"volunteerhub/internal/model"
	"volunteerhub/internal/pkg/database"
	"volunteerhub/internal/pkg/dedup"
	"volunteerhub/internal/pkg/metrics"
	"volunteerhub/internal/pkg/notify"
	"volunteerhub/internal/pkg/queue"
	"volunteerhub/internal/pkg/ratelimit"
	"volunteerhub/internal/pkg/validate"
	"volunteerhub/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Engine 是 HTTP 层依赖的引擎能力，由 service.Engine 实现。
type Engine interface {
	auth.Accounts

	GetAccount(ctx context.Context, actor service.Actor, id uint) (*model.User, error)
	UpdateProfile(ctx context.Context, actor service.Actor, patch service.ProfilePatch) (*model.User, error)
	ListUsers(ctx context.Context, actor service.Actor, filter service.UserFilter) ([]model.User, error)
	ListOrganizations(ctx context.Context, actor service.Actor, status model.ModerationStatus, page service.Page) ([]model.User, error)
	SetOrganizationModeration(ctx context.Context, actor service.Actor, orgID uint, status model.ModerationStatus) (*model.User, error)
	SetOrganizationFlags(ctx context.Context, actor service.Actor, orgID uint, verified, rejected bool) (*model.User, error)
	DeleteAccount(ctx context.Context, actor service.Actor, id uint) error

	CreateOpportunity(ctx context.Context, actor service.Actor, in service.OpportunityInput) (*model.Opportunity, error)
	TransitionOpportunity(ctx context.Context, actor service.Actor, id uint, target model.OpportunityStatus) (*model.Opportunity, error)
	UpdateOpportunity(ctx context.Context, actor service.Actor, id uint, patch service.OpportunityPatch) (*model.Opportunity, error)
	DeleteOpportunity(ctx context.Context, actor service.Actor, id uint) error
	GetOpportunity(ctx context.Context, actor service.Actor, id uint) (*service.OpportunityView, error)
	ListOpportunities(ctx context.Context, actor service.Actor, filter service.OpportunityFilter) ([]model.Opportunity, error)

	Apply(ctx context.Context, actor service.Actor, opportunityID uint, message string) (*model.Application, error)
	SetApplicationStatus(ctx context.Context, actor service.Actor, id uint, status model.ApplicationStatus) (*model.Application, error)
	DeleteApplication(ctx context.Context, actor service.Actor, id uint) error
	GetApplication(ctx context.Context, actor service.Actor, id uint) (*model.Application, error)
	ListApplications(ctx context.Context, actor service.Actor, filter service.ApplicationFilter) ([]model.Application, error)

	ToggleLike(ctx context.Context, actor service.Actor, opportunityID uint) (service.LikeState, error)
	LikeStatus(ctx context.Context, actor service.Actor, opportunityID uint) (service.LikeState, error)
	AddComment(ctx context.Context, actor service.Actor, opportunityID uint, content string) (*model.Comment, error)
	ListComments(ctx context.Context, actor service.Actor, opportunityID uint, page service.Page) ([]model.Comment, error)
}

// Deps 组装 Server 所需的依赖，便于测试时替换。
type Deps struct {
	Engine  Engine
	Tokens  *auth.Tokens
	Limiter middleware.Limiter
	DB      *gorm.DB
	Redis   *redis.Client
	Queue   *queue.Queue
	Sched   *scheduler.Scheduler
}

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端、通知队列、对账调度器以及 Gin 路由引擎。
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *gorm.DB
	rdb     *redis.Client
	router  *gin.Engine
	engine  Engine
	auth    *auth.Handler
	tokens  *auth.Tokens
	limiter middleware.Limiter
	queue   *queue.Queue
	sched   *scheduler.Scheduler
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接数据库并执行自动迁移
// 2. 连接 Redis
// 3. 启动通知 worker 池
// 4. 组装引擎、限流器与 Gin 路由引擎
//
// 参数:
//
//	ctx: 上下文
//	cfg: 配置对象
//	logger: 日志记录器
//
// 返回值:
//
//	*Server: 初始化完成的服务器实例
//	error: 初始化失败返回错误
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		_ = database.Close(db)
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = database.Close(db)
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	q := queue.New(logger, cfg.App.NotifyWorkers, cfg.App.NotifyQueueCapacity, cfg.App.NotifyTimeout)
	q.Start(ctx)

	mailer := notify.NewEmailNotifier(&cfg.Email, logger)
	if !mailer.Configured() {
		logger.Warn("smtp not configured, notifications will be skipped")
	}
	dispatcher := notify.NewDispatcher(mailer, q, dedup.NewDeduplicator(rdb, "notify", cfg.App.NotifyDedupWindow), logger)
	engine := service.NewEngine(db, dispatcher, logger)

	// 初始化 Prometheus 指标
	metrics.InitMetrics(q.Workers())

	return New(cfg, logger, Deps{
		Engine:  engine,
		Tokens:  auth.NewTokens(cfg.Security.JWTSecret, cfg.Security.TokenTTL),
		Limiter: ratelimit.NewLimiter(rdb, logger, "http", cfg.App.RateLimit, cfg.App.RateBurst),
		DB:      db,
		Redis:   rdb,
		Queue:   q,
		Sched:   scheduler.New(engine, logger, cfg.App.ReconcileInterval),
	})
}

// New 用已构建好的依赖创建服务器并注册路由。
func New(cfg *config.Config, logger *slog.Logger, deps Deps) (*Server, error) {
	if deps.Engine == nil || deps.Tokens == nil {
		return nil, errors.New("engine and tokens are required")
	}
	if err := configureBinding(); err != nil {
		return nil, err
	}

	if cfg.App.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		db:      deps.DB,
		rdb:     deps.Redis,
		router:  r,
		engine:  deps.Engine,
		auth:    auth.NewHandler(deps.Engine, deps.Tokens, logger),
		tokens:  deps.Tokens,
		limiter: deps.Limiter,
		queue:   deps.Queue,
		sched:   deps.Sched,
	}
	s.registerRoutes()
	return s, nil
}

// configureBinding 让请求体拒绝未知字段，并注册 notblank 规则。
func configureBinding() error {
	binding.EnableDecoderDisallowUnknownFields = true
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return validate.Register(v)
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// StartBackground 启动对账调度。
func (s *Server) StartBackground() error {
	if s.sched == nil {
		return nil
	}
	return s.sched.Start()
}

// Shutdown 停止调度并在超时前投递完剩余通知。
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.sched != nil {
		if err := s.sched.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.queue != nil {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := s.queue.Drain(timeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if err := database.Close(s.db); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	limited := middleware.RateLimit(s.limiter, s.logger)
	s.router.POST("/register", limited, s.auth.Register)
	s.router.POST("/login", limited, s.auth.Login)

	public := s.router.Group("/")
	public.Use(middleware.OptionalAuth(s.tokens))
	public.GET("/opportunities", s.handleListOpportunities)
	public.GET("/opportunities/:id", s.handleGetOpportunity)
	public.GET("/opportunities/:id/comments", s.handleListComments)
	public.GET("/opportunities/:id/likes", s.handleLikeStatus)

	authed := s.router.Group("/")
	authed.Use(middleware.AuthMiddleware(s.tokens))
	authed.GET("/me", s.handleGetMe)
	authed.PATCH("/me", limited, s.handleUpdateMe)

	authed.POST("/opportunities", limited, s.handleCreateOpportunity)
	authed.PATCH("/opportunities/:id", limited, s.handleUpdateOpportunity)
	authed.DELETE("/opportunities/:id", limited, s.handleDeleteOpportunity)
	authed.PATCH("/opportunities/:id/status", limited, s.handleTransitionOpportunity)
	authed.POST("/opportunities/:id/like", limited, s.handleToggleLike)
	authed.POST("/opportunities/:id/comments", limited, s.handleAddComment)

	authed.POST("/applications", limited, s.handleApply)
	authed.GET("/applications", s.handleListApplications)
	authed.GET("/applications/:id", s.handleGetApplication)
	authed.PATCH("/applications/:id/status", limited, s.handleSetApplicationStatus)
	authed.DELETE("/applications/:id", limited, s.handleDeleteApplication)

	admin := authed.Group("/admin")
	admin.GET("/users", s.handleListUsers)
	admin.DELETE("/users/:id", limited, s.handleDeleteUser)
	admin.GET("/organizations", s.handleListOrganizations)
	admin.PATCH("/organizations/:id", limited, s.handleModerateOrganization)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "component": "database"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "component": "redis"})
		return
	}

	resp := gin.H{"status": "ok"}
	if s.queue != nil {
		resp["notify_queue"] = gin.H{"pending": s.queue.Len(), "capacity": s.queue.Cap()}
	}
	c.JSON(http.StatusOK, resp)
}
