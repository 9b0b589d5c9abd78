package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxUpdateRetries = 5

// redisUser is the stored form of a User; unlike User it keeps the hash.
type redisUser struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toRedisUser(u *User) redisUser {
	return redisUser{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (r redisUser) toUser() *User {
	return &User{
		ID:           r.ID,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// RedisStore keeps users in Redis.
//
// Layout, all under prefix:
//
//	<prefix>:seq           INCR counter for ids
//	<prefix>:email:<email> id, written with SETNX for uniqueness
//	<prefix>:user:<id>     JSON record
//	<prefix>:ids           sorted set of ids, score = id
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore wraps rdb. An empty prefix defaults to "users".
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "users"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, now: time.Now}
}

func (s *RedisStore) seqKey() string { return s.prefix + ":seq" }
func (s *RedisStore) idsKey() string { return s.prefix + ":ids" }
func (s *RedisStore) emailKey(e string) string { return s.prefix + ":email:" + e }
func (s *RedisStore) userKey(id int64) string { return s.prefix + ":user:" + strconv.FormatInt(id, 10) }

// Create stores user under a new id. A duplicate email returns ErrConflict.
func (s *RedisStore) Create(ctx context.Context, user *User) (*User, error) {
	email := NormalizeEmail(user.Email)

	id, err := s.rdb.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("allocate user id: %w", err)
	}

	claimed, err := s.rdb.SetNX(ctx, s.emailKey(email), id, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("claim email: %w", err)
	}
	if !claimed {
		return nil, ErrConflict
	}

	now := s.now().UTC()
	stored := user.clone()
	stored.ID = id
	stored.Email = email
	stored.CreatedAt = now
	stored.UpdatedAt = now

	blob, err := json.Marshal(toRedisUser(stored))
	if err != nil {
		s.releaseEmail(email)
		return nil, fmt.Errorf("encode user: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.userKey(id), blob, 0)
		pipe.ZAdd(ctx, s.idsKey(), redis.Z{Score: float64(id), Member: id})
		return nil
	})
	if err != nil {
		s.releaseEmail(email)
		return nil, fmt.Errorf("write user: %w", err)
	}

	return stored, nil
}

// releaseEmail undoes a SETNX claim after a failed create.
func (s *RedisStore) releaseEmail(email string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.rdb.Del(ctx, s.emailKey(email)).Err()
}

// FindByEmail returns the user with the given email, or ErrNotFound.
func (s *RedisStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	id, err := s.rdb.Get(ctx, s.emailKey(NormalizeEmail(email))).Int64()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup email: %w", err)
	}
	return s.FindByID(ctx, id)
}

// FindByID returns the user with the given id, or ErrNotFound.
func (s *RedisStore) FindByID(ctx context.Context, id int64) (*User, error) {
	blob, err := s.rdb.Get(ctx, s.userKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", id, err)
	}
	return decodeRedisUser(blob)
}

// Update applies upd to the user with the given id, or returns ErrNotFound.
func (s *RedisStore) Update(ctx context.Context, id int64, upd Update) (*User, error) {
	key := s.userKey(id)
	var updated *User

	txf := func(tx *redis.Tx) error {
		blob, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		u, err := decodeRedisUser(blob)
		if err != nil {
			return err
		}
		u.apply(upd, s.now().UTC())

		out, err := json.Marshal(toRedisUser(u))
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		if err == nil {
			updated = u
		}
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("update user %d: %w", id, err)
		}
		return updated, nil
	}
	return nil, fmt.Errorf("update user %d: too much contention", id)
}

// List returns every user ordered by id.
func (s *RedisStore) List(ctx context.Context) ([]*User, error) {
	ids, err := s.rdb.ZRange(ctx, s.idsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	if len(ids) == 0 {
		return []*User{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.prefix + ":user:" + id
	}

	blobs, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}

	out := make([]*User, 0, len(blobs))
	for _, b := range blobs {
		str, ok := b.(string)
		if !ok {
			continue
		}
		u, err := decodeRedisUser([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func decodeRedisUser(blob []byte) (*User, error) {
	var r redisUser
	if err := json.Unmarshal(blob, &r); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return r.toUser(), nil
}
