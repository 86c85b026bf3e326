package firefighter

import (
	"errors"
	"fmt"
)

// 错误分类，调用方通过 errors.Is 判断
var (
	ErrValidation    = errors.New("validation error")
	ErrConflict      = errors.New("conflict")
	ErrNotFound      = errors.New("not found")
	ErrPermission    = errors.New("permission denied")
	ErrInvalidState  = errors.New("invalid state")
	ErrLimitExceeded = errors.New("limit exceeded")
	ErrProvisioning  = errors.New("provisioning failed")
)

// Kind 错误分类编码
type Kind string

const (
	KindValidation    Kind = "validation_error"
	KindConflict      Kind = "conflict"
	KindNotFound      Kind = "not_found"
	KindPermission    Kind = "permission_denied"
	KindInvalidState  Kind = "invalid_state"
	KindLimitExceeded Kind = "limit_exceeded"
	KindProvisioning  Kind = "provisioning_failed"
	KindInternal      Kind = "internal_error"
)

// KindOf 将错误映射为稳定的分类编码
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrPermission):
		return KindPermission
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrLimitExceeded):
		return KindLimitExceeded
	case errors.Is(err, ErrProvisioning):
		return KindProvisioning
	default:
		return KindInternal
	}
}

// Validationf 构造校验错误
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Conflictf 构造冲突错误
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// NotFoundf 构造不存在错误
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Permissionf 构造权限错误
func Permissionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPermission, fmt.Sprintf(format, args...))
}

// InvalidStatef 构造状态错误
func InvalidStatef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// LimitExceededf 构造超限错误
func LimitExceededf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrLimitExceeded, fmt.Sprintf(format, args...))
}
