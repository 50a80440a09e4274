package s3chunks

import (
	"context"
	"errors"
	"fmt"

	"github.com/mentatsync/mentatsync"
)

// Storage decorates another mentatsync.Storage, diverting chunk payloads
// to the object store. All graph operations delegate untouched.
type Storage struct {
	inner   mentatsync.Storage
	objects ObjectStore
}

var _ mentatsync.Storage = (*Storage)(nil)

// New wraps inner with payload offload to the configured bucket.
func New(inner mentatsync.Storage, config mentatsync.S3ChunkConfig) *Storage {
	return &Storage{inner: inner, objects: Connect(config)}
}

// NewWithObjectStore wraps inner over the given object store; used by tests.
func NewWithObjectStore(inner mentatsync.Storage, objects ObjectStore) *Storage {
	return &Storage{inner: inner, objects: objects}
}

func objectKey(userid, chunkid string) string {
	return userid + "/" + chunkid
}

// CreateChunk uploads the payload to the bucket and records a zero-length
// existence row in the wrapped storage. Re-uploads of an existing chunk id
// are no-ops, preserving insert-if-absent semantics; a crash between the
// upload and the row insert leaves an orphan object for the external GC.
func (s *Storage) CreateChunk(ctx context.Context, userid, chunkid string, payload []byte) error {
	if _, err := s.inner.GetChunk(ctx, userid, chunkid); err == nil {
		return nil
	} else if !errors.Is(err, mentatsync.ErrChunkNotFound) {
		return err
	}
	if err := s.objects.Put(ctx, objectKey(userid, chunkid), payload); err != nil {
		return &mentatsync.BackendError{Err: err}
	}
	return s.inner.CreateChunk(ctx, userid, chunkid, []byte{})
}

// GetChunk consults the existence row first so a missing chunk keeps its
// contract error, then reads the payload from the bucket.
func (s *Storage) GetChunk(ctx context.Context, userid, chunkid string) ([]byte, error) {
	if _, err := s.inner.GetChunk(ctx, userid, chunkid); err != nil {
		return nil, err
	}
	payload, found, err := s.objects.Get(ctx, objectKey(userid, chunkid))
	if err != nil {
		return nil, &mentatsync.BackendError{Err: err}
	}
	if !found {
		return nil, &mentatsync.BackendError{
			Err: fmt.Errorf("chunk %s/%s has an existence row but no object", userid, chunkid),
		}
	}
	return payload, nil
}

func (s *Storage) Reset(ctx context.Context, userid string) error {
	return s.inner.Reset(ctx, userid)
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
	return s.inner.GetTransaction(ctx, userid, trnid)
}

func (s *Storage) GetTransactions(ctx context.Context, userid, from string, limit int) ([]string, error) {
	return s.inner.GetTransactions(ctx, userid, from, limit)
}
