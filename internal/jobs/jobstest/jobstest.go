// Package jobstest provides deterministic clocks and scripted provider
// clients for tests of the orchestration core.
package jobstest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shortforge/internal/domain"
	"shortforge/internal/jobs"
)

// FakeClock advances virtual time on every Sleep and returns immediately.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return nil
}

// Sleeps returns every duration passed to Sleep, in call order.
func (c *FakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// Elapsed is the total virtual time slept.
func (c *FakeClock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total time.Duration
	for _, d := range c.sleeps {
		total += d
	}
	return total
}

// Behavior scripts one scene's interaction with a ScriptedClient.
type Behavior struct {
	// SubmitErr fails the submission.
	SubmitErr error
	// Statuses are returned by consecutive polls; the last one repeats.
	// An empty list succeeds on the first poll.
	Statuses []domain.JobStatus
	// Delay blocks Submit for real time, to shuffle completion order.
	Delay time.Duration
}

// ScriptedClient is a jobs.Client whose behaviour is keyed by scene index.
type ScriptedClient struct {
	ProviderName string
	PollPolicy   jobs.PollPolicy
	Default      Behavior
	ByScene      map[int]Behavior

	mu      sync.Mutex
	submits []int
	polls   map[string]int
	reqs    map[string]domain.JobRequest
	seq     int
}

// NewScriptedClient returns a client that succeeds for every scene unless a
// behaviour says otherwise.
func NewScriptedClient(name string) *ScriptedClient {
	return &ScriptedClient{
		ProviderName: name,
		PollPolicy:   jobs.PollPolicy{Budget: 30 * time.Second, Interval: 5 * time.Second},
		ByScene:      map[int]Behavior{},
	}
}

func (c *ScriptedClient) Name() string { return c.ProviderName }

func (c *ScriptedClient) Policy() jobs.PollPolicy { return c.PollPolicy }

func (c *ScriptedClient) behavior(scene int) Behavior {
	if b, ok := c.ByScene[scene]; ok {
		return b
	}
	return c.Default
}

func (c *ScriptedClient) Submit(ctx context.Context, req domain.JobRequest) (domain.JobHandle, error) {
	b := c.behavior(req.SceneIndex)
	c.mu.Lock()
	c.submits = append(c.submits, req.SceneIndex)
	c.mu.Unlock()
	if b.Delay > 0 {
		select {
		case <-time.After(b.Delay):
		case <-ctx.Done():
			return domain.JobHandle{}, ctx.Err()
		}
	}
	if b.SubmitErr != nil {
		return domain.JobHandle{}, b.SubmitErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	id := fmt.Sprintf("%s-%d", c.ProviderName, c.seq)
	if c.reqs == nil {
		c.reqs = map[string]domain.JobRequest{}
		c.polls = map[string]int{}
	}
	c.reqs[id] = req
	return domain.JobHandle{ID: id, Provider: c.ProviderName}, nil
}

func (c *ScriptedClient) Poll(_ context.Context, h domain.JobHandle) (domain.JobStatus, error) {
	c.mu.Lock()
	req := c.reqs[h.ID]
	n := c.polls[h.ID]
	c.polls[h.ID] = n + 1
	c.mu.Unlock()

	b := c.behavior(req.SceneIndex)
	if len(b.Statuses) == 0 {
		return domain.Succeeded(&domain.Artifact{
			Data: []byte(fmt.Sprintf("%s:%d", c.ProviderName, req.SceneIndex)),
			MIME: "application/octet-stream",
			Text: fmt.Sprintf("%s:%d", c.ProviderName, req.SceneIndex),
		}), nil
	}
	if n >= len(b.Statuses) {
		n = len(b.Statuses) - 1
	}
	return b.Statuses[n], nil
}

// Submits returns the scene indexes submitted so far, in call order.
func (c *ScriptedClient) Submits() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.submits...)
}

// PollCount is the total number of Poll calls.
func (c *ScriptedClient) PollCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.polls {
		total += n
	}
	return total
}

var _ jobs.Client = (*ScriptedClient)(nil)
