package jobs

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"shortforge/internal/domain"
)

// GenerateFunc performs a blocking, request/response generation call.
type GenerateFunc func(ctx context.Context, req domain.JobRequest) (*domain.Artifact, error)

// SyncClient adapts a synchronous provider call to the submit/poll contract.
// Submit performs the call and parks the artifact under a fresh handle; the
// first Poll hands it back.
type SyncClient struct {
	name      string
	available bool
	generate  GenerateFunc

	mu     sync.Mutex
	parked map[string]*domain.Artifact
}

// NewSyncClient wraps fn. When available is false every Submit fails with
// domain.ErrProviderUnavailable without calling fn.
func NewSyncClient(name string, available bool, fn GenerateFunc) *SyncClient {
	return &SyncClient{
		name:      name,
		available: available,
		generate:  fn,
		parked:    make(map[string]*domain.Artifact),
	}
}

func (c *SyncClient) Name() string {
	return c.name
}

// Policy resolves on the first poll without waiting.
func (c *SyncClient) Policy() PollPolicy {
	return PollPolicy{}
}

func (c *SyncClient) Submit(ctx context.Context, req domain.JobRequest) (domain.JobHandle, error) {
	if !c.available || c.generate == nil {
		return domain.JobHandle{}, errors.Wrapf(domain.ErrProviderUnavailable, "%s: not configured", c.name)
	}
	artifact, err := c.generate(ctx, req)
	if err != nil {
		return domain.JobHandle{}, err
	}
	if artifact == nil {
		return domain.JobHandle{}, errors.Newf("%s: empty result", c.name)
	}
	id := uuid.NewString()
	c.mu.Lock()
	c.parked[id] = artifact
	c.mu.Unlock()
	return domain.JobHandle{ID: id, Provider: c.name}, nil
}

func (c *SyncClient) Poll(_ context.Context, handle domain.JobHandle) (domain.JobStatus, error) {
	c.mu.Lock()
	artifact, ok := c.parked[handle.ID]
	delete(c.parked, handle.ID)
	c.mu.Unlock()
	if !ok {
		return domain.Failed(domain.KindTransient, "unknown job "+handle.ID), nil
	}
	return domain.Succeeded(artifact), nil
}

var _ Client = (*SyncClient)(nil)
