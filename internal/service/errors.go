package service

import (
	"errors"
	"fmt"

	"volunteerhub/internal/pkg/database"
	"volunteerhub/internal/pkg/validate"

	"gorm.io/gorm"
)

// 引擎对外暴露的错误类别，调用方通过 errors.Is 或 KindOf 判断。
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrBadRequest   = errors.New("bad request")
)

// Kind 稳定的错误类别字符串。
type Kind string

const (
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindBadRequest   Kind = "bad_request"
	KindInternal     Kind = "internal"
)

// KindOf 返回错误所属类别，未知错误归为 internal。
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrBadRequest):
		return KindBadRequest
	default:
		return KindInternal
	}
}

func forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

func conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func unauthorized(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, fmt.Sprintf(format, args...))
}

func invalid(err error) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, validate.Describe(err))
}

// lookupErr 把 gorm 的未找到错误转为 ErrNotFound，其余错误附带上下文返回。
func lookupErr(err error, entity string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %d", ErrNotFound, entity, id)
	}
	return fmt.Errorf("load %s: %w", entity, err)
}

// writeErr 把唯一约束冲突转为 ErrConflict。
func writeErr(err error, op string, conflictMsg string) error {
	if database.IsDuplicateKey(err) {
		return fmt.Errorf("%w: %s", ErrConflict, conflictMsg)
	}
	return fmt.Errorf("%s: %w", op, err)
}
