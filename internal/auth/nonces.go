package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// IssuedNonce is what a sign-in challenge was issued for.
type IssuedNonce struct {
	Address   common.Address
	ExpiresAt time.Time
}

// NonceStore keeps sign-in nonces between Challenge and Verify. Take must be
// atomic: a nonce is handed out at most once.
type NonceStore interface {
	Put(ctx context.Context, nonce string, issued IssuedNonce) error
	// Take removes nonce. ok is false if it was never issued or already taken.
	Take(ctx context.Context, nonce string) (issued IssuedNonce, ok bool, err error)
}

// MemoryNonceStore keeps nonces in process. A challenge must then be
// verified by the instance that issued it.
type MemoryNonceStore struct {
	now func() time.Time

	mu     sync.Mutex
	nonces map[string]IssuedNonce
}

var _ NonceStore = (*MemoryNonceStore)(nil)

func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{now: time.Now, nonces: make(map[string]IssuedNonce)}
}

func (s *MemoryNonceStore) Put(_ context.Context, nonce string, issued IssuedNonce) error {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for n, p := range s.nonces {
		if now.After(p.ExpiresAt) {
			delete(s.nonces, n)
		}
	}
	s.nonces[nonce] = issued
	return nil
}

func (s *MemoryNonceStore) Take(_ context.Context, nonce string) (IssuedNonce, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	issued, ok := s.nonces[nonce]
	delete(s.nonces, nonce)
	return issued, ok, nil
}

// RedisNonceStore shares nonces between every instance using the same Redis.
// Keys expire with the challenge.
type RedisNonceStore struct {
	rdb    redis.UniversalClient
	prefix string
}

var _ NonceStore = (*RedisNonceStore)(nil)

// NewRedisNonceStore creates a store on rdb. An empty prefix uses
// "accountantbot:siwe:".
func NewRedisNonceStore(rdb redis.UniversalClient, prefix string) (*RedisNonceStore, error) {
	if rdb == nil {
		return nil, errors.New("redis client is nil")
	}
	if prefix == "" {
		prefix = "accountantbot:siwe:"
	}
	return &RedisNonceStore{rdb: rdb, prefix: prefix}, nil
}

func (s *RedisNonceStore) Put(ctx context.Context, nonce string, issued IssuedNonce) error {
	ttl := time.Until(issued.ExpiresAt)
	if ttl < time.Second {
		ttl = time.Second
	}
	value := issued.Address.Hex() + " " + strconv.FormatInt(issued.ExpiresAt.Unix(), 10)
	if err := s.rdb.Set(ctx, s.prefix+nonce, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store nonce: %w", err)
	}
	return nil
}

func (s *RedisNonceStore) Take(ctx context.Context, nonce string) (IssuedNonce, bool, error) {
	value, err := s.rdb.GetDel(ctx, s.prefix+nonce).Result()
	if errors.Is(err, redis.Nil) {
		return IssuedNonce{}, false, nil
	}
	if err != nil {
		return IssuedNonce{}, false, fmt.Errorf("failed to take nonce: %w", err)
	}

	address, expires, found := strings.Cut(value, " ")
	unix, perr := strconv.ParseInt(expires, 10, 64)
	if !found || perr != nil || !common.IsHexAddress(address) {
		return IssuedNonce{}, false, fmt.Errorf("corrupt nonce record %q", value)
	}
	return IssuedNonce{Address: common.HexToAddress(address), ExpiresAt: time.Unix(unix, 0)}, true, nil
}
