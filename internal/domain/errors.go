package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("concurrent modification conflict")
	ErrInvalidInput = errors.New("invalid input")
)

// ConflictError 乐观锁冲突（版本不匹配或唯一约束冲突）
type ConflictError struct {
	Entity          string
	ID              string
	ExpectedVersion int
	Reason          string
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("%s %s: concurrent modification conflict", e.Entity, e.ID)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// NotFoundError 实体不存在
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
