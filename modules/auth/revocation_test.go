package auth

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestMemoryRevocationStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRevocationStore()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	if err := store.Revoke(ctx, "jti-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if err := store.Revoke(ctx, "jti-2", now.Add(time.Minute)); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	tests := []struct {
		name    string
		advance time.Duration
		id      string
		want    bool
	}{
		{name: "revoked token", id: "jti-1", want: true},
		{name: "unknown token", id: "jti-9", want: false},
		{name: "revocation outlived by expiry", advance: 2 * time.Minute, id: "jti-2", want: false},
		{name: "long revocation still active", id: "jti-1", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now = now.Add(tt.advance)
			got, err := store.IsRevoked(ctx, tt.id)
			if err != nil {
				t.Fatalf("IsRevoked() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("IsRevoked(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}

	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after expiry", store.Len())
	}
}

func TestRedisRevocationStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", addr, err)
	}

	store := NewRedisRevocationStore(client, "team-chat-test:revoked:")
	id := uuid.New().String()
	defer client.Del(ctx, "team-chat-test:revoked:"+id)

	revoked, err := store.IsRevoked(ctx, id)
	if err != nil || revoked {
		t.Fatalf("IsRevoked() before revoke = %v, %v", revoked, err)
	}

	if err := store.Revoke(ctx, id, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	revoked, err = store.IsRevoked(ctx, id)
	if err != nil || !revoked {
		t.Errorf("IsRevoked() after revoke = %v, %v", revoked, err)
	}

	ttl, err := client.TTL(ctx, "team-chat-test:revoked:"+id).Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, %v; want within one minute", ttl, err)
	}
}
