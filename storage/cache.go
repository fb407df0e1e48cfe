package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"prism-board/domain"
)

type backend interface {
	Head(ctx context.Context) (string, error)
	LoadBoardAt(ctx context.Context, boardID, version string) (domain.BoardSnapshot, error)
	ListBoardsAt(ctx context.Context, version string) (domain.BoardList, error)
	SaveBoard(ctx context.Context, req domain.SaveBoardRequest) domain.Result
	CreateBoard(ctx context.Context, req domain.CreateBoardRequest) domain.Result
}

// Cache wraps a Store with Redis-backed caching for reads. Entries are keyed
// by version so a hit is always consistent with the head it was read for.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) LoadBoard(ctx context.Context, boardID string) (domain.BoardSnapshot, error) {
	if !domain.ValidID(boardID) {
		return domain.BoardSnapshot{}, &domain.ValidationError{Field: "boardId", Reason: "not a board id"}
	}
	head, err := c.base.Head(ctx)
	if err != nil {
		return domain.BoardSnapshot{}, err
	}
	key := boardCacheKey(boardID, head)
	var snap domain.BoardSnapshot
	if c.load(ctx, key, &snap) {
		return snap, nil
	}
	snap, err = c.base.LoadBoardAt(ctx, boardID, head)
	if err != nil {
		return domain.BoardSnapshot{}, err
	}
	c.store(ctx, key, snap)
	return snap, nil
}

func (c *Cache) ListBoards(ctx context.Context) (domain.BoardList, error) {
	head, err := c.base.Head(ctx)
	if err != nil {
		return domain.BoardList{}, err
	}
	key := listCacheKey(head)
	var list domain.BoardList
	if c.load(ctx, key, &list) {
		return list, nil
	}
	list, err = c.base.ListBoardsAt(ctx, head)
	if err != nil {
		return domain.BoardList{}, err
	}
	c.store(ctx, key, list)
	return list, nil
}

func (c *Cache) SaveBoard(ctx context.Context, req domain.SaveBoardRequest) domain.Result {
	res := c.base.SaveBoard(ctx, req)
	if res.OK {
		c.evict(ctx, boardCacheKey(req.BoardID, req.ExpectedVersion), listCacheKey(req.ExpectedVersion))
	}
	return res
}

func (c *Cache) CreateBoard(ctx context.Context, req domain.CreateBoardRequest) domain.Result {
	return c.base.CreateBoard(ctx, req)
}

func (c *Cache) load(ctx context.Context, key string, v any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, keys ...string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

func boardCacheKey(boardID, version string) string {
	return "board:" + boardID + "@" + version
}

func listCacheKey(version string) string {
	return "boards@" + version
}
