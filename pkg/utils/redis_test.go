package utils

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestRedisOptions_URLWinsOverAddr(t *testing.T) {
	opts, err := RedisOptions(RedisConfig{URL: "rediss://user:pw@cache.example.com:6380/2", Addr: "localhost:6379"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if opts.Addr != "cache.example.com:6380" {
		t.Fatalf("unexpected addr %q", opts.Addr)
	}
	if opts.DB != 2 {
		t.Fatalf("expected db 2, got %d", opts.DB)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.ServerName != "cache.example.com" {
		t.Fatalf("expected tls server name from url")
	}
	if opts.PoolSize != 20 {
		t.Fatalf("expected default pool size, got %d", opts.PoolSize)
	}
}

func TestRedisOptions_RequiresAddr(t *testing.T) {
	if _, err := RedisOptions(RedisConfig{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestOpenRedis_Pings(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := OpenRedis(context.Background(), RedisConfig{Addr: mr.Addr(), PingTimeout: time.Second})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rdb.Close()
}
