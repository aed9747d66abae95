package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrInvalidRefreshToken indicates token not found or expired.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshTokenReplay indicates an already rotated token was presented
	// again. The whole family is revoked when this happens.
	ErrRefreshTokenReplay = errors.New("refresh token replay detected")
)

// RefreshTokenStore issues opaque refresh tokens and rotates them. Tokens
// descending from one sign-in form a family; only the newest one is valid.
type RefreshTokenStore interface {
	Issue(ctx context.Context, userID string, ttl time.Duration) (string, error)
	Rotate(ctx context.Context, token string, ttl time.Duration) (userID, next string, err error)
	Revoke(ctx context.Context, token string) error
}

type refreshFamily struct {
	userID  string
	current string
	expiry  time.Time
	hashes  []string
}

// MemoryRefreshTokenStore keeps refresh token families in memory.
type MemoryRefreshTokenStore struct {
	mu       sync.Mutex
	families map[string]*refreshFamily // familyID -> family
	byHash   map[string]string         // tokenHash -> familyID
	now      func() time.Time
}

func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{
		families: make(map[string]*refreshFamily),
		byHash:   make(map[string]string),
		now:      time.Now,
	}
}

func (s *MemoryRefreshTokenStore) Issue(_ context.Context, userID string, ttl time.Duration) (string, error) {
	token, err := randomHex(32)
	if err != nil {
		return "", err
	}
	familyID, err := randomHex(16)
	if err != nil {
		return "", err
	}
	hash := refreshTokenHash(token)

	s.mu.Lock()
	s.families[familyID] = &refreshFamily{
		userID:  userID,
		current: hash,
		expiry:  s.now().Add(ttl),
		hashes:  []string{hash},
	}
	s.byHash[hash] = familyID
	s.mu.Unlock()
	return token, nil
}

func (s *MemoryRefreshTokenStore) Rotate(_ context.Context, token string, ttl time.Duration) (string, string, error) {
	hash := refreshTokenHash(token)

	s.mu.Lock()
	defer s.mu.Unlock()
	familyID, ok := s.byHash[hash]
	if !ok {
		return "", "", ErrInvalidRefreshToken
	}
	family := s.families[familyID]
	if family == nil || s.now().After(family.expiry) {
		s.dropFamilyLocked(familyID)
		return "", "", ErrInvalidRefreshToken
	}
	if family.current != hash {
		s.dropFamilyLocked(familyID)
		return "", "", ErrRefreshTokenReplay
	}

	next, err := randomHex(32)
	if err != nil {
		return "", "", err
	}
	nextHash := refreshTokenHash(next)
	family.current = nextHash
	family.expiry = s.now().Add(ttl)
	family.hashes = append(family.hashes, nextHash)
	s.byHash[nextHash] = familyID
	return family.userID, next, nil
}

func (s *MemoryRefreshTokenStore) Revoke(_ context.Context, token string) error {
	s.mu.Lock()
	if familyID, ok := s.byHash[refreshTokenHash(token)]; ok {
		s.dropFamilyLocked(familyID)
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryRefreshTokenStore) dropFamilyLocked(familyID string) {
	if family := s.families[familyID]; family != nil {
		for _, h := range family.hashes {
			delete(s.byHash, h)
		}
	}
	delete(s.families, familyID)
}

// rotateScript checks and advances a family in one round trip.
// Returns {1, userID} on success, {0} for unknown tokens, {-1} on replay.
var rotateScript = redis.NewScript(`
local family = redis.call("GET", KEYS[1])
if not family then
  return {0}
end
local prefix = ARGV[4]
local fkey = prefix .. ":family:" .. family
local tkey = fkey .. ":tokens"
local current = redis.call("HGET", fkey, "current")
local user = redis.call("HGET", fkey, "user")
if (not current) or (not user) or current ~= ARGV[1] then
  local members = redis.call("SMEMBERS", tkey)
  for _, h in ipairs(members) do
    redis.call("DEL", prefix .. ":token:" .. h)
  end
  redis.call("DEL", fkey, tkey, KEYS[1])
  if current and user then
    return {-1}
  end
  return {0}
end
redis.call("SET", prefix .. ":token:" .. ARGV[2], family, "PX", ARGV[3])
redis.call("HSET", fkey, "current", ARGV[2])
redis.call("SADD", tkey, ARGV[2])
redis.call("PEXPIRE", fkey, ARGV[3])
redis.call("PEXPIRE", tkey, ARGV[3])
return {1, user}
`)

// RedisRefreshTokenStore stores refresh token families in Redis so any API
// replica can rotate them.
type RedisRefreshTokenStore struct {
	client redis.Cmdable
	prefix string
}

func NewRedisRefreshTokenStore(client redis.Cmdable, prefix string) *RedisRefreshTokenStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "blogs:refresh"
	}
	return &RedisRefreshTokenStore{client: client, prefix: prefix}
}

func (s *RedisRefreshTokenStore) Issue(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	token, err := randomHex(32)
	if err != nil {
		return "", err
	}
	familyID, err := randomHex(16)
	if err != nil {
		return "", err
	}
	hash := refreshTokenHash(token)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.tokenKey(hash), familyID, ttl)
	pipe.HSet(ctx, s.familyKey(familyID), map[string]any{"user": userID, "current": hash})
	pipe.Expire(ctx, s.familyKey(familyID), ttl)
	pipe.SAdd(ctx, s.familyKey(familyID)+":tokens", hash)
	pipe.Expire(ctx, s.familyKey(familyID)+":tokens", ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return token, nil
}

func (s *RedisRefreshTokenStore) Rotate(ctx context.Context, token string, ttl time.Duration) (string, string, error) {
	hash := refreshTokenHash(token)
	next, err := randomHex(32)
	if err != nil {
		return "", "", err
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res, err := rotateScript.Run(ctx, s.client,
		[]string{s.tokenKey(hash)},
		hash, refreshTokenHash(next), ttl.Milliseconds(), s.prefix,
	).Slice()
	if err != nil {
		return "", "", err
	}
	if len(res) == 0 {
		return "", "", fmt.Errorf("rotate refresh token: empty script result")
	}
	status, _ := res[0].(int64)
	switch status {
	case 1:
		userID, _ := res[1].(string)
		return userID, next, nil
	case -1:
		return "", "", ErrRefreshTokenReplay
	default:
		return "", "", ErrInvalidRefreshToken
	}
}

func (s *RedisRefreshTokenStore) Revoke(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	familyID, err := s.client.Get(ctx, s.tokenKey(refreshTokenHash(token))).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	hashes, err := s.client.SMembers(ctx, s.familyKey(familyID)+":tokens").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	keys := []string{s.familyKey(familyID), s.familyKey(familyID) + ":tokens"}
	for _, h := range hashes {
		keys = append(keys, s.tokenKey(h))
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisRefreshTokenStore) tokenKey(hash string) string {
	return s.prefix + ":token:" + hash
}

func (s *RedisRefreshTokenStore) familyKey(familyID string) string {
	return s.prefix + ":family:" + familyID
}

func randomHex(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func refreshTokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
