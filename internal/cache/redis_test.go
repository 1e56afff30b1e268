package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"whatsapp-automation/internal/config"

	"github.com/redis/go-redis/v9"
)

func TestKey(t *testing.T) {
	cases := []struct {
		prefix string
		parts  []string
		want   string
	}{
		{"wa", []string{"lock", "schedule"}, "wa:lock:schedule"},
		{"wa", []string{"lock", "", "followup"}, "wa:lock:followup"},
		{"wa", nil, "wa"},
	}
	for _, c := range cases {
		if got := Key(c.prefix, c.parts...); got != c.want {
			t.Errorf("Key(%q, %v) = %q, want %q", c.prefix, c.parts, got, c.want)
		}
	}
}

func TestUnlockWithoutLeaseIsNoop(t *testing.T) {
	// nothing listens here; Unlock must not reach the server
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()
	l := NewRedisLocker(client, "wa")
	if err := l.Unlock(context.Background(), "scheduled-messages"); err != nil {
		t.Fatalf("unlock without lease: %v", err)
	}
}

func TestUnlockKeepsForeignLease(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, &config.Config{RedisAddr: addr})
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	defer client.Close()

	prefix := "wa-test-" + time.Now().Format("150405.000000")
	ours := NewRedisLocker(client, prefix)
	theirs := NewRedisLocker(client, prefix)
	key := Key(prefix, lockPrefix, "follow-ups")
	defer client.Del(ctx, key)

	if ok, err := ours.TryLock(ctx, "follow-ups", 50*time.Millisecond); err != nil || !ok {
		t.Fatalf("first lock = %v, %v", ok, err)
	}
	time.Sleep(100 * time.Millisecond)
	if ok, err := theirs.TryLock(ctx, "follow-ups", time.Minute); err != nil || !ok {
		t.Fatalf("lock after expiry = %v, %v", ok, err)
	}

	if err := ours.Unlock(ctx, "follow-ups"); err != nil {
		t.Fatalf("stale unlock: %v", err)
	}
	if n, _ := client.Exists(ctx, key).Result(); n != 1 {
		t.Fatal("stale unlock removed the other replica's lease")
	}
	if err := theirs.Unlock(ctx, "follow-ups"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if n, _ := client.Exists(ctx, key).Result(); n != 0 {
		t.Fatal("owner unlock left the lease in place")
	}
}
