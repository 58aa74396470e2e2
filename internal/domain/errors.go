package domain

import (
	"errors"
	"fmt"
)

// 错误分类。具体错误都包装其中之一，调用方通过 errors.Is 判断类别。
var (
	ErrConflict    = errors.New("already exists")
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("validation failed")
	ErrTransientIO = errors.New("storage unavailable")
	ErrForbidden   = errors.New("forbidden")
	ErrDecode      = errors.New("message could not be decoded")
)

// 具体错误
var (
	ErrAddressExists    = fmt.Errorf("address %w", ErrConflict)
	ErrMailboxNotFound  = fmt.Errorf("mailbox %w", ErrNotFound)
	ErrMessageNotFound  = fmt.Errorf("message %w", ErrNotFound)
	ErrInvalidTTL       = fmt.Errorf("%w: ttl must be a positive integer", ErrValidation)
	ErrInvalidAddress   = fmt.Errorf("%w: malformed address", ErrValidation)
	ErrInvalidMessageID = fmt.Errorf("%w: malformed message id", ErrValidation)
)
