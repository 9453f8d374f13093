package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"volunteerhub/internal/api/apierr"
	"volunteerhub/internal/model"
	"volunteerhub/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken 凭证无法解析、签名不符或已过期。
var ErrInvalidToken = errors.New("invalid token")

type customClaims struct {
	jwt.RegisteredClaims
	Role  string `json:"role"`
	Email string `json:"email"`
}

// Tokens 负责签发与校验 HS256 凭证。
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens 创建凭证服务，ttl <= 0 时为 24 小时。
func NewTokens(secret string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue 为用户签发凭证，载荷包含 sub / role / email。
func (t *Tokens) Issue(user *model.User) (string, error) {
	now := t.now()
	claims := customClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(user.ID), 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role:  string(user.Role),
		Email: user.Email,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify 校验凭证并解析出调用者身份。
func (t *Tokens) Verify(tokenStr string) (service.Actor, error) {
	claims := &customClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(tok *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !token.Valid {
		return service.Actor{}, ErrInvalidToken
	}

	uid, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || uid == 0 {
		return service.Actor{}, ErrInvalidToken
	}
	role := model.Role(strings.ToLower(strings.TrimSpace(claims.Role)))
	if !role.Valid() {
		return service.Actor{}, ErrInvalidToken
	}
	return service.Actor{UserID: uint(uid), Email: claims.Email, Role: role}, nil
}

// Accounts 是注册与登录依赖的引擎能力。
type Accounts interface {
	Register(ctx context.Context, in service.RegisterInput) (*model.User, error)
	Authenticate(ctx context.Context, email, password string) (*model.User, error)
}

// Handler 提供注册与登录接口。
type Handler struct {
	accounts Accounts
	tokens   *Tokens
	logger   *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(accounts Accounts, tokens *Tokens, logger *slog.Logger) *Handler {
	return &Handler{
		accounts: accounts,
		tokens:   tokens,
		logger:   logger,
	}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// Register 创建志愿者或组织账号，成功后直接返回凭证。
//
// role 为 admin 的请求在严格解析之前就返回 403，请求体其余部分是否合法不影响结果。
func (h *Handler) Register(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		apierr.Abort(c, service.KindBadRequest, "read request body failed")
		return
	}
	if requestedRole(raw) == model.RoleAdmin {
		apierr.Abort(c, service.KindForbidden, "admin accounts cannot be registered publicly")
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))

	var req service.RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BindFailed(c, err)
		return
	}

	user, err := h.accounts.Register(c.Request.Context(), req)
	if err != nil {
		apierr.Write(c, h.logger, err)
		return
	}

	token, err := h.tokens.Issue(user)
	if err != nil {
		apierr.Write(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, tokenResponse{Token: token, User: user})
}

// requestedRole 宽松地读取请求体中的 role，解析失败时返回空值。
func requestedRole(raw []byte) model.Role {
	var peek struct {
		Role any `json:"role"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		return ""
	}
	role, _ := peek.Role.(string)
	return model.Role(role)
}

// Login 校验用户并返回 JWT。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BindFailed(c, err)
		return
	}

	user, err := h.accounts.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		apierr.Write(c, h.logger, err)
		return
	}

	token, err := h.tokens.Issue(user)
	if err != nil {
		apierr.Write(c, h.logger, err)
		return
	}

	if h.logger != nil {
		h.logger.Info("user logged in", slog.Uint64("user_id", uint64(user.ID)), slog.String("role", string(user.Role)))
	}
	c.JSON(http.StatusOK, tokenResponse{Token: token, User: user})
}
