package retry

import (
	"context"
	"errors"
	"fmt"

	"casedata-engine/internal/domain"
)

// DefaultMaxAttempts 未配置时的最大尝试次数
const DefaultMaxAttempts = 3

// ErrAttemptsExhausted 所有尝试均发生版本冲突
var ErrAttemptsExhausted = errors.New("optimistic retry attempts exhausted")

// exhaustedError 同时满足 errors.Is(err, ErrAttemptsExhausted) 和 errors.Is(err, domain.ErrConflict)
type exhaustedError struct {
	attempts int
	last     error
}

func (e *exhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrAttemptsExhausted.Error(), e.attempts, e.last)
}

func (e *exhaustedError) Is(target error) bool {
	return target == ErrAttemptsExhausted
}

func (e *exhaustedError) Unwrap() error {
	return e.last
}

// SaveWithRetry 加载最新状态 -> mutate -> save；遇到冲突时重新加载并重试，最多 maxAttempts 次。
// 非冲突错误立即返回，不重试。
func SaveWithRetry[T any](
	ctx context.Context,
	load func(ctx context.Context) (T, error),
	mutate func(T) error,
	save func(ctx context.Context, v T) error,
	maxAttempts int,
) (T, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var zero T
	var lastConflict error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := load(ctx)
		if err != nil {
			return zero, fmt.Errorf("failed to load: %w", err)
		}
		if err := mutate(v); err != nil {
			return zero, err
		}

		err = save(ctx, v)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return zero, err
		}
		lastConflict = err
	}

	return zero, &exhaustedError{attempts: maxAttempts, last: lastConflict}
}
