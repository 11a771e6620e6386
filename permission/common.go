package permission

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

func requireUser(ctx context.Context) (*Claims, error) {
	c := ClaimsFromContext(ctx)
	if c == nil {
		return nil, ErrUnauthenticated
	}
	return c, nil
}

func requireAdminReturning[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	c, err := requireUser(ctx)
	if err != nil {
		return zero, err
	}
	if c.Role != RoleAdmin {
		return zero, fmt.Errorf("%w: admin only", ErrPermissionDenied)
	}
	return fn()
}

func requireClubManagerReturning[T any](ctx context.Context, clubID uuid.UUID, fn func() (T, error)) (T, error) {
	var zero T
	c, err := requireUser(ctx)
	if err != nil {
		return zero, err
	}
	if !c.ManagesClub(clubID) {
		return zero, fmt.Errorf("%w: not a manager of club %v", ErrPermissionDenied, clubID)
	}
	return fn()
}

func requireAdmin(ctx context.Context, fn func() error) error {
	_, err := requireAdminReturning(ctx, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
