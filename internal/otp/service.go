// Package otp issues and verifies one-time codes for customer login and
// account verification.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"ecommerce-admin/internal/apperr"
	"ecommerce-admin/internal/auth"
	"ecommerce-admin/pkg/logger"
)

var (
	ErrInvalidCode     = fmt.Errorf("%w: invalid or expired code", apperr.ErrUnauthorized)
	ErrTooManyAttempts = fmt.Errorf("%w: too many attempts, request a new code", apperr.ErrUnauthorized)
	ErrSendLimit       = fmt.Errorf("%w: too many codes requested", apperr.ErrRateLimited)
)

type Purpose string

const (
	PurposeLogin    Purpose = "login"
	PurposeRegister Purpose = "register"
	PurposeVerify   Purpose = "verify"
	PurposeRecovery Purpose = "recovery"
	PurposeReset    Purpose = "reset"
)

func (p Purpose) Valid() bool {
	switch p {
	case PurposeLogin, PurposeRegister, PurposeVerify, PurposeRecovery, PurposeReset:
		return true
	default:
		return false
	}
}

const RoleCustomer = "customer"

type Config struct {
	TTL         time.Duration
	Length      int
	MaxAttempts int
	SendLimit   int
	SendWindow  time.Duration
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.Length < 4 || c.Length > 10 {
		c.Length = 6
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.SendLimit <= 0 {
		c.SendLimit = 3
	}
	if c.SendWindow <= 0 {
		c.SendWindow = 5 * time.Minute
	}
	return c
}

// Sender delivers a code over the channel (SMS or email).
type Sender interface {
	Send(ctx context.Context, channel, code string, ttl time.Duration) error
}

type TokenIssuer interface {
	IssuePair(now time.Time, sub auth.Subject) (auth.TokenPair, error)
}

type Service struct {
	store  Store
	sender Sender
	tokens TokenIssuer
	cfg    Config
	now    func() time.Time
}

func NewService(store Store, sender Sender, tokens TokenIssuer, cfg Config) *Service {
	return &Service{store: store, sender: sender, tokens: tokens, cfg: cfg.withDefaults(), now: time.Now}
}

type SendRequest struct {
	Channel string  `json:"channel"`
	Purpose Purpose `json:"purpose"`
}

type SendResult struct {
	ExpiresIn int `json:"expiresInSeconds"`
}

// Send issues a fresh code, replacing any pending one for the same channel
// and purpose.
func (s *Service) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	channel, err := normalizeChannel(req.Channel)
	if err != nil {
		return SendResult{}, err
	}
	if !req.Purpose.Valid() {
		return SendResult{}, apperr.Validation("unknown purpose %q", req.Purpose)
	}

	code, err := generateCode(s.cfg.Length)
	if err != nil {
		return SendResult{}, err
	}
	key := storeKey(req.Purpose, channel)
	ok, err := s.store.Put(ctx, key, hashCode(key, code), s.cfg.TTL, s.cfg.SendLimit, s.cfg.SendWindow)
	if err != nil {
		return SendResult{}, err
	}
	if !ok {
		return SendResult{}, ErrSendLimit
	}
	if err := s.sender.Send(ctx, channel, code, s.cfg.TTL); err != nil {
		return SendResult{}, fmt.Errorf("otp: deliver: %w", err)
	}
	return SendResult{ExpiresIn: int(s.cfg.TTL.Seconds())}, nil
}

type VerifyRequest struct {
	Channel string  `json:"channel"`
	Purpose Purpose `json:"purpose"`
	Code    string  `json:"code"`
}

type VerifyResult struct {
	Verified bool            `json:"verified"`
	Tokens   *auth.TokenPair `json:"tokens,omitempty"`
}

// Verify consumes the pending code. A login issues a customer token pair;
// other purposes only report success.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (VerifyResult, error) {
	channel, err := normalizeChannel(req.Channel)
	if err != nil {
		return VerifyResult{}, err
	}
	if !req.Purpose.Valid() {
		return VerifyResult{}, apperr.Validation("unknown purpose %q", req.Purpose)
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return VerifyResult{}, apperr.Validation("code is required")
	}

	key := storeKey(req.Purpose, channel)
	res, err := s.store.Check(ctx, key, hashCode(key, code), s.cfg.MaxAttempts)
	if err != nil {
		return VerifyResult{}, err
	}
	switch res {
	case CheckOK:
	case CheckLocked:
		return VerifyResult{}, ErrTooManyAttempts
	default:
		return VerifyResult{}, ErrInvalidCode
	}

	out := VerifyResult{Verified: true}
	if req.Purpose != PurposeLogin {
		return out, nil
	}
	sub := auth.Subject{UserID: customerID(channel), Role: RoleCustomer}
	if !isEmail(channel) {
		sub.Phone = channel
	}
	pair, err := s.tokens.IssuePair(s.now(), sub)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("otp: issue tokens: %w", err)
	}
	out.Tokens = &pair
	return out, nil
}

func normalizeChannel(raw string) (string, error) {
	c := strings.TrimSpace(raw)
	if c == "" {
		return "", apperr.Validation("channel is required")
	}
	if isEmail(c) {
		return strings.ToLower(c), nil
	}
	c = strings.NewReplacer(" ", "", "-", "").Replace(c)
	for i, r := range c {
		if (r < '0' || r > '9') && !(i == 0 && r == '+') {
			return "", apperr.Validation("channel must be a phone number or email")
		}
	}
	return c, nil
}

func isEmail(c string) bool { return strings.Contains(c, "@") }

func storeKey(p Purpose, channel string) string { return string(p) + ":" + channel }

func hashCode(key, code string) string {
	sum := sha256.Sum256([]byte(key + "|" + code))
	return hex.EncodeToString(sum[:])
}

// customerID is stable per channel so repeated logins map to one subject.
func customerID(channel string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("otp:"+channel)).String()
}

func generateCode(length int) (string, error) {
	var b strings.Builder
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// LogSender writes codes to the log instead of delivering them. Use it in
// local and dev environments.
type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) Send(ctx context.Context, channel, code string, ttl time.Duration) error {
	log := s.Log
	if log == nil {
		log = logger.From(ctx)
	}
	log.Info("otp issued", "channel", maskChannel(channel), "ttl", ttl.String())
	log.Debug("otp code", "channel", channel, "code", code)
	return nil
}

func maskChannel(c string) string {
	if len(c) <= 4 {
		return strings.Repeat("*", len(c))
	}
	return strings.Repeat("*", len(c)-4) + c[len(c)-4:]
}

var _ Sender = LogSender{}

