package otp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecommerce-admin/internal/apperr"
	"ecommerce-admin/internal/auth"
	"ecommerce-admin/internal/config"
)

type captureSender struct {
	mu    sync.Mutex
	codes map[string]string
}

func (s *captureSender) Send(ctx context.Context, channel, code string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codes == nil {
		s.codes = map[string]string{}
	}
	s.codes[channel] = code
	return nil
}

func (s *captureSender) code(channel string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[channel]
}

type fixture struct {
	mr     *miniredis.Miniredis
	svc    *Service
	sender *captureSender
	tokens *auth.Manager
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	tokens, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	require.NoError(t, err)

	sender := &captureSender{}
	return fixture{mr: mr, svc: NewService(NewRedisStore(rdb), sender, tokens, cfg), sender: sender, tokens: tokens}
}

const phone = "+911234567890"

func TestLoginIssuesCustomerTokens(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	sent, err := f.svc.Send(ctx, SendRequest{Channel: "+91 12345-67890", Purpose: PurposeLogin})
	require.NoError(t, err)
	assert.Equal(t, 300, sent.ExpiresIn)

	code := f.sender.code(phone)
	require.Len(t, code, 6)

	res, err := f.svc.Verify(ctx, VerifyRequest{Channel: phone, Purpose: PurposeLogin, Code: code})
	require.NoError(t, err)
	assert.True(t, res.Verified)
	require.NotNil(t, res.Tokens)

	claims, err := f.tokens.Verify(res.Tokens.AccessToken, auth.TokenTypeAccess, time.Now())
	require.NoError(t, err)
	assert.Equal(t, RoleCustomer, claims.Role)
	assert.Equal(t, phone, claims.Phone)
	assert.Equal(t, customerID(phone), claims.UserID)
}

func TestCodeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	_, err := f.svc.Send(ctx, SendRequest{Channel: phone, Purpose: PurposeVerify})
	require.NoError(t, err)
	code := f.sender.code(phone)

	res, err := f.svc.Verify(ctx, VerifyRequest{Channel: phone, Purpose: PurposeVerify, Code: code})
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Nil(t, res.Tokens)

	_, err = f.svc.Verify(ctx, VerifyRequest{Channel: phone, Purpose: PurposeVerify, Code: code})
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestCodeExpires(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{TTL: time.Minute})

	_, err := f.svc.Send(ctx, SendRequest{Channel: phone, Purpose: PurposeLogin})
	require.NoError(t, err)
	f.mr.FastForward(time.Minute + time.Second)

	_, err = f.svc.Verify(ctx, VerifyRequest{Channel: phone, Purpose: PurposeLogin, Code: f.sender.code(phone)})
	assert.ErrorIs(t, err, ErrInvalidCode)
	assert.Equal(t, "unauthorized", apperr.Kind(err))
}

func TestWrongCodesLockTheCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{MaxAttempts: 3})

	_, err := f.svc.Send(ctx, SendRequest{Channel: phone, Purpose: PurposeLogin})
	require.NoError(t, err)
	good := f.sender.code(phone)
	bad := "x" + good[1:]

	for i := 0; i < 2; i++ {
		_, err = f.svc.Verify(ctx, VerifyRequest{Channel: phone, Purpose: PurposeLogin, Code: bad})
		assert.ErrorIs(t, err, ErrInvalidCode)
	}
	_, err = f.svc.Verify(ctx, VerifyRequest{Channel: phone, Purpose: PurposeLogin, Code: bad})
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	// the right code no longer works either
	_, err = f.svc.Verify(ctx, VerifyRequest{Channel: phone, Purpose: PurposeLogin, Code: good})
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestSendLimitPerWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{SendLimit: 2, SendWindow: time.Minute})

	for i := 0; i < 2; i++ {
		_, err := f.svc.Send(ctx, SendRequest{Channel: phone, Purpose: PurposeLogin})
		require.NoError(t, err)
	}
	_, err := f.svc.Send(ctx, SendRequest{Channel: phone, Purpose: PurposeLogin})
	assert.ErrorIs(t, err, ErrSendLimit)
	assert.Equal(t, "rate_limited", apperr.Kind(err))

	// other purposes have their own budget
	_, err = f.svc.Send(ctx, SendRequest{Channel: phone, Purpose: PurposeVerify})
	require.NoError(t, err)

	f.mr.FastForward(time.Minute + time.Second)
	_, err = f.svc.Send(ctx, SendRequest{Channel: phone, Purpose: PurposeLogin})
	require.NoError(t, err)
}

func TestResendReplacesPendingCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	_, err := f.svc.Send(ctx, SendRequest{Channel: "Shopper@Example.com", Purpose: PurposeLogin})
	require.NoError(t, err)
	first := f.sender.code("shopper@example.com")
	_, err = f.svc.Send(ctx, SendRequest{Channel: "shopper@example.com", Purpose: PurposeLogin})
	require.NoError(t, err)
	second := f.sender.code("shopper@example.com")

	if first != second {
		_, err = f.svc.Verify(ctx, VerifyRequest{Channel: "shopper@example.com", Purpose: PurposeLogin, Code: first})
		assert.ErrorIs(t, err, ErrInvalidCode)
	}
	res, err := f.svc.Verify(ctx, VerifyRequest{Channel: "shopper@example.com", Purpose: PurposeLogin, Code: second})
	require.NoError(t, err)
	require.NotNil(t, res.Tokens)
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	_, err := f.svc.Send(ctx, SendRequest{Channel: "", Purpose: PurposeLogin})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.Send(ctx, SendRequest{Channel: "not-a-phone", Purpose: PurposeLogin})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.Send(ctx, SendRequest{Channel: phone, Purpose: "spam"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.Verify(ctx, VerifyRequest{Channel: phone, Purpose: PurposeLogin})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestMaskChannel(t *testing.T) {
	assert.Equal(t, "*********7890", maskChannel(phone))
	assert.Equal(t, "***", maskChannel("abc"))
}
