package auth

import (
	"context"
	"fmt"

	"ecommerce-admin/internal/apperr"
)

// Identity is the caller behind an order-admin request. Staff tokens carry a
// role; customer tokens minted after an OTP login also carry the verified phone.
type Identity struct {
	UserID string
	Role   string
	Phone  string
}

type identityKey struct{}

var errNoIdentity = fmt.Errorf("%w: no identity on request", apperr.ErrUnauthorized)

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller set by RequireAccessToken. The error wraps
// apperr.ErrUnauthorized so handlers can pass it straight to the error writer.
func IdentityFrom(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || id.UserID == "" {
		return Identity{}, errNoIdentity
	}
	return id, nil
}

func UserID(ctx context.Context) (string, error) {
	id, err := IdentityFrom(ctx)
	return id.UserID, err
}

func Role(ctx context.Context) (string, error) {
	id, err := IdentityFrom(ctx)
	if err != nil {
		return "", err
	}
	if id.Role == "" {
		return "", fmt.Errorf("%w: role missing for %s", apperr.ErrUnauthorized, id.UserID)
	}
	return id.Role, nil
}
