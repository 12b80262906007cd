package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/session-token-authority/internal/domain"
	"github.com/sandeepkv93/session-token-authority/internal/observability"
)

// Keys outlive the token by this long so an expired token is still reported
// as expired rather than unknown.
const defaultExpiredRetention = 24 * time.Hour

// KEYS[1] row key, KEYS[2] user index. ARGV[1] payload, ARGV[2] ttl in ms,
// ARGV[3] hash. Returns 0 when the row key is taken.
var createRefreshTokenScript = redis.NewScript(`
if not redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2]) then
  return 0
end
redis.call("SADD", KEYS[2], ARGV[3])
if redis.call("PTTL", KEYS[2]) < tonumber(ARGV[2]) then
  redis.call("PEXPIRE", KEYS[2], ARGV[2])
end
return 1
`)

// KEYS[1] old key, KEYS[2] new key, KEYS[3] user index. ARGV[1] new payload,
// ARGV[2] new ttl in ms, ARGV[3] old hash, ARGV[4] new hash.
// Returns {status, old payload}: 0 not found, 1 rotated, 2 new key taken,
// 3 old row revoked.
var rotateRefreshTokenScript = redis.NewScript(`
local old = redis.call("GET", KEYS[1])
if not old then
  return {0, ""}
end
local ok, row = pcall(cjson.decode, old)
if ok and type(row) == "table" and row["revoked"] == true then
  return {3, ""}
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return {2, ""}
end
redis.call("DEL", KEYS[1])
redis.call("SET", KEYS[2], ARGV[1], "PX", ARGV[2])
redis.call("SREM", KEYS[3], ARGV[3])
redis.call("SADD", KEYS[3], ARGV[4])
if redis.call("PTTL", KEYS[3]) < tonumber(ARGV[2]) then
  redis.call("PEXPIRE", KEYS[3], ARGV[2])
end
return {1, old}
`)

// KEYS[1] user index. ARGV[1] row key prefix. Row keys are derived from the
// index so the whole sweep runs atomically with rotation.
var revokeUserRefreshTokensScript = redis.NewScript(`
local n = 0
for _, hash in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  local key = ARGV[1] .. hash
  local raw = redis.call("GET", key)
  if not raw then
    redis.call("SREM", KEYS[1], hash)
  else
    local ok, row = pcall(cjson.decode, raw)
    if ok and type(row) == "table" and row["revoked"] ~= true then
      row["revoked"] = true
      local ttl = redis.call("PTTL", key)
      if ttl > 0 then
        redis.call("SET", key, cjson.encode(row), "PX", ttl)
      else
        redis.call("SET", key, cjson.encode(row))
      end
      n = n + 1
    end
  end
end
return n
`)

type RedisRefreshTokenRepository struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

func NewRedisRefreshTokenRepository(client redis.UniversalClient, prefix string) *RedisRefreshTokenRepository {
	if prefix == "" {
		prefix = "sta"
	}
	return &RedisRefreshTokenRepository{
		client:    client,
		prefix:    prefix,
		retention: defaultExpiredRetention,
		now:       time.Now,
	}
}

func (r *RedisRefreshTokenRepository) Create(ctx context.Context, t *domain.RefreshToken) error {
	prepareRefreshToken(t)
	payload, err := json.Marshal(t)
	if err != nil {
		return err
	}
	created, err := createRefreshTokenScript.Run(ctx, r.client,
		[]string{r.key(t.TokenHash), r.userKey(t.UserID)},
		payload, r.ttl(t.ExpiresAt).Milliseconds(), t.TokenHash,
	).Int64()
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "create", "error")
		return err
	}
	if created == 0 {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "create", "conflict")
		return ErrRefreshTokenConflict
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "create", "success")
	return nil
}

func (r *RedisRefreshTokenRepository) FindByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	raw, err := r.client.Get(ctx, r.key(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "find_by_hash", "not_found")
		return nil, ErrRefreshTokenNotFound
	}
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "find_by_hash", "error")
		return nil, err
	}
	t, err := decodeRefreshToken(raw, hash)
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "find_by_hash", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "find_by_hash", "success")
	return t, nil
}

func (r *RedisRefreshTokenRepository) DeleteByHash(ctx context.Context, hash string) error {
	if err := r.client.Del(ctx, r.key(hash)).Err(); err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "delete_by_hash", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "delete_by_hash", "success")
	return nil
}

func (r *RedisRefreshTokenRepository) Rotate(ctx context.Context, oldHash string, next *domain.RefreshToken) (*domain.RefreshToken, error) {
	prepareRefreshToken(next)
	payload, err := json.Marshal(next)
	if err != nil {
		return nil, err
	}
	ttl := r.ttl(next.ExpiresAt)
	res, err := rotateRefreshTokenScript.Run(ctx, r.client,
		[]string{r.key(oldHash), r.key(next.TokenHash), r.userKey(next.UserID)},
		payload, ttl.Milliseconds(), oldHash, next.TokenHash,
	).Slice()
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate", "error")
		return nil, err
	}
	if len(res) != 2 {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate", "error")
		return nil, fmt.Errorf("unexpected rotate reply length %d", len(res))
	}
	status, _ := res[0].(int64)
	switch status {
	case 0:
		observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate", "not_found")
		return nil, ErrRefreshTokenNotFound
	case 2:
		observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate", "conflict")
		return nil, ErrRefreshTokenConflict
	case 3:
		observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate", "revoked")
		return nil, ErrRefreshTokenRevoked
	}
	raw, _ := res[1].(string)
	old, err := decodeRefreshToken([]byte(raw), oldHash)
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate", "success")
	return old, nil
}

func (r *RedisRefreshTokenRepository) RevokeByUser(ctx context.Context, userID string) (int64, error) {
	n, err := revokeUserRefreshTokensScript.Run(ctx, r.client,
		[]string{r.userKey(userID)},
		r.key(""),
	).Int64()
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke_by_user", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke_by_user", "success")
	return n, nil
}

// DeleteExpired is a no-op; key TTLs purge expired tokens.
func (r *RedisRefreshTokenRepository) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (r *RedisRefreshTokenRepository) key(hash string) string {
	return fmt.Sprintf("%s:refresh:%s", r.prefix, hash)
}

func (r *RedisRefreshTokenRepository) userKey(userID string) string {
	return fmt.Sprintf("%s:refresh_user:%s", r.prefix, userID)
}

func (r *RedisRefreshTokenRepository) ttl(expiresAt time.Time) time.Duration {
	ttl := expiresAt.Sub(r.now()) + r.retention
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func decodeRefreshToken(raw []byte, hash string) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode refresh token: %w", err)
	}
	t.TokenHash = hash
	return &t, nil
}
