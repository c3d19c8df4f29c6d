// Package concurrency hands out short-lived exclusive leases backed by Redis. The dialer
// workers hold one per campaign and the scheduler holds one for leadership.
package concurrency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// Leases issues leases under a key prefix.
type Leases struct {
	client *redis.Client
	prefix string
}

// NewLeases constructs a lease issuer.
func NewLeases(client *redis.Client, prefix string) *Leases {
	if prefix == "" {
		prefix = "campaign-core"
	}
	return &Leases{client: client, prefix: prefix}
}

// Lease is a held lock. The token proves ownership on renew and release.
type Lease struct {
	leases *Leases
	key    string
	token  string
	ttl    time.Duration
}

// Acquire takes the named lease for ttl. ok is false when someone else holds it.
func (l *Leases) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, bool, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	key := l.key(name)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lease acquire %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{leases: l, key: key, token: token, ttl: ttl}, true, nil
}

// Held reports whether anyone currently holds the named lease.
func (l *Leases) Held(ctx context.Context, name string) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(name)).Result()
	if err != nil {
		return false, fmt.Errorf("lease exists %s: %w", name, err)
	}
	return n > 0, nil
}

// CampaignDialer names the per-campaign dialer lease.
func CampaignDialer(campaignID uuid.UUID) string {
	return "dialer:" + campaignID.String()
}

// SchedulerLeader names the scheduler leadership lease.
const SchedulerLeader = "scheduler:leader"

// ErrLeaseLost is returned by Renew when the lease expired or was taken over.
var ErrLeaseLost = errors.New("lease lost")

// Renew extends the lease by its ttl.
func (l *Lease) Renew(ctx context.Context) error {
	n, err := renewScript.Run(ctx, l.leases.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("lease renew: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Release frees the lease if it is still ours.
func (l *Lease) Release(ctx context.Context) error {
	if _, err := releaseScript.Run(ctx, l.leases.client, []string{l.key}, l.token).Int(); err != nil {
		return fmt.Errorf("lease release: %w", err)
	}
	return nil
}

// KeepAlive renews the lease at a third of its ttl. The returned channel closes when
// renewal stops, either because ctx ended or the lease was lost.
func (l *Lease) KeepAlive(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(l.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := l.Renew(ctx); err != nil {
					return
				}
			}
		}
	}()
	return done
}

func (l *Leases) key(name string) string {
	return fmt.Sprintf("%s:lease:%s", l.prefix, name)
}
