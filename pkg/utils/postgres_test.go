package utils

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestPostgresPoolConfig_Defaults(t *testing.T) {
	c := PostgresPoolConfig{MaxOpenConns: 10}.withDefaults()
	if c.MaxOpenConns != 10 {
		t.Fatalf("explicit value overwritten: %d", c.MaxOpenConns)
	}
	if c.MaxIdleConns != 5 || c.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestPgErrorClassification(t *testing.T) {
	unique := fmt.Errorf("insert call: %w", &pgconn.PgError{Code: "23505"})
	if !IsUniqueViolation(unique) || IsRetryableTx(unique) {
		t.Fatalf("unique violation misclassified")
	}
	for _, code := range []string{"40001", "40P01"} {
		if !IsRetryableTx(&pgconn.PgError{Code: code}) {
			t.Fatalf("%s should be retryable", code)
		}
	}
	if IsRetryableTx(errors.New("plain")) || IsUniqueViolation(nil) {
		t.Fatalf("non-pg errors must not match")
	}
}
