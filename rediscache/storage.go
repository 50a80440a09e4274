package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	log "log/slog"
	"strconv"

	"github.com/mentatsync/mentatsync"
)

// Storage wraps another mentatsync.Storage with the read-through cache.
// Cache failures on the read path degrade to the wrapped storage; a
// failure to invalidate on Reset is surfaced, because serving a cached
// transaction after its user was reset would violate the contract.
type Storage struct {
	inner mentatsync.Storage
	cache Cache
	opts  Options
}

var _ mentatsync.Storage = (*Storage)(nil)

// New wraps inner with a cache built from opts.
func New(inner mentatsync.Storage, opts Options) *Storage {
	return &Storage{inner: inner, cache: NewCache(opts), opts: opts}
}

// NewWithCache wraps inner with the given cache; used by tests.
func NewWithCache(inner mentatsync.Storage, cache Cache, opts Options) *Storage {
	return &Storage{inner: inner, cache: cache, opts: opts}
}

func genKey(userid string) string {
	return "ms:gen:" + userid
}

// generation returns the user's invalidation generation; 0 if never bumped.
func (s *Storage) generation(ctx context.Context, userid string) (int64, error) {
	found, v, err := s.cache.Get(ctx, genKey(userid))
	if err != nil || !found {
		return 0, err
	}
	gen, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, err
	}
	return gen, nil
}

func trnKey(userid string, gen int64, trnid string) string {
	return fmt.Sprintf("ms:%s:%d:trn:%s", userid, gen, trnid)
}

func chunkKey(userid string, gen int64, chunkid string) string {
	return fmt.Sprintf("ms:%s:%d:chunk:%s", userid, gen, chunkid)
}

// Reset clears the wrapped storage and bumps the user's generation so
// every cached entry for the user becomes unreachable.
func (s *Storage) Reset(ctx context.Context, userid string) error {
	if err := s.inner.Reset(ctx, userid); err != nil {
		return err
	}
	if _, err := s.cache.Incr(ctx, genKey(userid)); err != nil {
		log.Error("cache invalidation failed after reset", "userid", userid, "error", err)
		return &mentatsync.BackendError{Err: err}
	}
	return nil
}

func (s *Storage) GetHead(ctx context.Context, userid string) (string, error) {
	return s.inner.GetHead(ctx, userid)
}

func (s *Storage) SetHead(ctx context.Context, userid, trnid string) error {
	return s.inner.SetHead(ctx, userid, trnid)
}

func (s *Storage) CreateTransaction(ctx context.Context, userid, trnid, parent string, chunks []string) error {
	return s.inner.CreateTransaction(ctx, userid, trnid, parent, chunks)
}

func (s *Storage) GetTransaction(ctx context.Context, userid, trnid string) (mentatsync.TransactionRecord, error) {
	gen, err := s.generation(ctx, userid)
	if err != nil {
		log.Warn("cache degraded on transaction read", "error", err)
		return s.inner.GetTransaction(ctx, userid, trnid)
	}
	key := trnKey(userid, gen, trnid)
	if found, v, err := s.cache.Get(ctx, key); err == nil && found {
		var rec mentatsync.TransactionRecord
		if err := json.Unmarshal([]byte(v), &rec); err == nil {
			return rec, nil
		}
	} else if err != nil {
		log.Warn("cache degraded on transaction read", "error", err)
	}

	rec, err := s.inner.GetTransaction(ctx, userid, trnid)
	if err != nil {
		return rec, err
	}
	if ba, err := json.Marshal(rec); err == nil {
		if err := s.cache.Set(ctx, key, string(ba), s.opts.TTL); err != nil {
			log.Warn("cache fill failed", "error", err)
		}
	}
	return rec, nil
}

func (s *Storage) GetTransactions(ctx context.Context, userid, from string, limit int) ([]string, error) {
	return s.inner.GetTransactions(ctx, userid, from, limit)
}

func (s *Storage) CreateChunk(ctx context.Context, userid, chunkid string, payload []byte) error {
	return s.inner.CreateChunk(ctx, userid, chunkid, payload)
}

func (s *Storage) GetChunk(ctx context.Context, userid, chunkid string) ([]byte, error) {
	gen, err := s.generation(ctx, userid)
	if err != nil {
		log.Warn("cache degraded on chunk read", "error", err)
		return s.inner.GetChunk(ctx, userid, chunkid)
	}
	key := chunkKey(userid, gen, chunkid)
	if found, v, err := s.cache.Get(ctx, key); err == nil && found {
		return []byte(v), nil
	} else if err != nil {
		log.Warn("cache degraded on chunk read", "error", err)
	}

	payload, err := s.inner.GetChunk(ctx, userid, chunkid)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, string(payload), s.opts.TTL); err != nil {
		log.Warn("cache fill failed", "error", err)
	}
	return payload, nil
}
