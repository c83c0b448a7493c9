package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"wordassoc/pkg/types"
)

// Memory is a map-backed Store used by tests and by ephemeral runs where a
// database file is not wanted. Semantics match the SQLite implementation,
// including at-most-once submission enforcement.
type Memory struct {
	mu           sync.RWMutex
	tests        map[int64]*types.Test
	participants map[int64]*types.Participant
	responses    []*types.Response
	nextTestID   int64
	nextUserID   int64
	nextRespID   int64
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tests:        make(map[int64]*types.Test),
		participants: make(map[int64]*types.Participant),
	}
}

func (m *Memory) CreateTest(_ context.Context, word string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextTestID++
	t := &types.Test{
		ID:        m.nextTestID,
		Word:      word,
		Status:    types.TestStatusReady,
		CreatedAt: time.Now(),
	}
	m.tests[t.ID] = t
	return t.ID, nil
}

func copyTest(t *types.Test) *types.Test {
	c := *t
	return &c
}

func (m *Memory) GetTest(_ context.Context, id int64) (*types.Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tests[id]
	if !ok {
		return nil, types.ErrTestNotFound
	}
	return copyTest(t), nil
}

func (m *Memory) StartTest(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tests[id]
	if !ok {
		return types.ErrTestNotFound
	}
	t.Status = types.TestStatusActive
	t.StartedAt = &at
	return nil
}

func (m *Memory) FinishTest(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tests[id]
	if !ok {
		return types.ErrTestNotFound
	}
	t.Status = types.TestStatusFinished
	t.FinishedAt = &at
	return nil
}

func (m *Memory) CancelTest(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tests[id]
	if !ok {
		return types.ErrTestNotFound
	}
	t.Status = types.TestStatusCancelled
	t.FinishedAt = &at
	return nil
}

func (m *Memory) CancelOpenTests(_ context.Context, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, t := range m.tests {
		if t.Status == types.TestStatusReady || t.Status == types.TestStatusActive {
			t.Status = types.TestStatusCancelled
			t.FinishedAt = &at
			count++
		}
	}
	return count, nil
}

// latestBy returns the newest test matching the filter, comparing by the
// extracted time with ID as tiebreak.
func (m *Memory) latestBy(match func(*types.Test) bool, at func(*types.Test) time.Time) *types.Test {
	var best *types.Test
	for _, t := range m.tests {
		if !match(t) {
			continue
		}
		if best == nil || at(t).After(at(best)) || (at(t).Equal(at(best)) && t.ID > best.ID) {
			best = t
		}
	}
	if best == nil {
		return nil
	}
	return copyTest(best)
}

func (m *Memory) ActiveTest(_ context.Context) (*types.Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t := m.latestBy(
		func(t *types.Test) bool { return t.Status == types.TestStatusActive },
		func(t *types.Test) time.Time {
			if t.StartedAt != nil {
				return *t.StartedAt
			}
			return t.CreatedAt
		})
	return t, nil
}

func (m *Memory) ReadyTest(_ context.Context) (*types.Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t := m.latestBy(
		func(t *types.Test) bool { return t.Status == types.TestStatusReady },
		func(t *types.Test) time.Time { return t.CreatedAt })
	return t, nil
}

func (m *Memory) LatestTest(_ context.Context) (*types.Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t := m.latestBy(
		func(t *types.Test) bool { return true },
		func(t *types.Test) time.Time { return t.CreatedAt })
	return t, nil
}

func (m *Memory) LatestFinishedTest(_ context.Context) (*types.Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t := m.latestBy(
		func(t *types.Test) bool { return t.Status == types.TestStatusFinished },
		func(t *types.Test) time.Time {
			if t.FinishedAt != nil {
				return *t.FinishedAt
			}
			return t.CreatedAt
		})
	return t, nil
}

func (m *Memory) sortedTests() []*types.Test {
	tests := make([]*types.Test, 0, len(m.tests))
	for _, t := range m.tests {
		tests = append(tests, copyTest(t))
	}
	sort.Slice(tests, func(i, j int) bool {
		if tests[i].CreatedAt.Equal(tests[j].CreatedAt) {
			return tests[i].ID > tests[j].ID
		}
		return tests[i].CreatedAt.After(tests[j].CreatedAt)
	})
	return tests
}

func (m *Memory) ListTests(_ context.Context, limit int) ([]*types.Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tests := m.sortedTests()
	if len(tests) > limit {
		tests = tests[:limit]
	}
	return tests, nil
}

func (m *Memory) ListFinishedTests(_ context.Context, limit int) ([]*types.TestSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var summaries []*types.TestSummary
	for _, t := range m.sortedTests() {
		if t.Status != types.TestStatusFinished {
			continue
		}
		sum := &types.TestSummary{Test: *t}
		users := make(map[int64]bool)
		for _, r := range m.responses {
			if r.TestID == t.ID {
				sum.ResponseCount++
				users[r.UserID] = true
			}
		}
		sum.UserCount = len(users)
		summaries = append(summaries, sum)
		if len(summaries) == limit {
			break
		}
	}
	return summaries, nil
}

func (m *Memory) CreateParticipant(_ context.Context, username, sessionID string, testID *int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextUserID++
	p := &types.Participant{
		ID:          m.nextUserID,
		Username:    username,
		SessionID:   sessionID,
		TestID:      testID,
		ConnectedAt: time.Now(),
	}
	m.participants[p.ID] = p
	return p.ID, nil
}

func copyParticipant(p *types.Participant) *types.Participant {
	c := *p
	if p.TestID != nil {
		testID := *p.TestID
		c.TestID = &testID
	}
	return &c
}

func (m *Memory) ParticipantBySessionID(_ context.Context, sessionID string) (*types.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.participants {
		if p.SessionID == sessionID && sessionID != "" {
			return copyParticipant(p), nil
		}
	}
	return nil, types.ErrParticipantNotFound
}

func (m *Memory) UpdateParticipantConnection(_ context.Context, id int64, connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.participants[id]
	if !ok {
		return types.ErrParticipantNotFound
	}
	p.ConnectionID = connectionID
	return nil
}

func (m *Memory) SetParticipantTest(_ context.Context, id int64, testID *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.participants[id]
	if !ok {
		return types.ErrParticipantNotFound
	}
	p.TestID = testID
	p.HasSubmitted = false
	return nil
}

func (m *Memory) SubmitResponses(_ context.Context, userID, testID int64, words []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.participants[userID]
	if !ok {
		return types.ErrParticipantNotFound
	}
	if p.HasSubmitted {
		return types.ErrAlreadySubmitted
	}

	p.HasSubmitted = true
	now := time.Now()
	for i, word := range words {
		m.nextRespID++
		m.responses = append(m.responses, &types.Response{
			ID:        m.nextRespID,
			UserID:    userID,
			TestID:    testID,
			Username:  p.Username,
			Word:      word,
			Position:  i + 1,
			CreatedAt: now,
		})
	}
	return nil
}

func (m *Memory) ResetParticipants(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.participants {
		p.HasSubmitted = false
		p.TestID = nil
	}
	return nil
}

func (m *Memory) ClearSessionTokens(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.participants {
		p.SessionID = ""
		p.ConnectionID = ""
		p.HasSubmitted = false
		p.TestID = nil
	}
	return nil
}

func (m *Memory) TestResponses(_ context.Context, testID int64) ([]*types.Response, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var responses []*types.Response
	for _, r := range m.responses {
		if r.TestID == testID {
			c := *r
			responses = append(responses, &c)
		}
	}
	return responses, nil
}

func (m *Memory) WordFrequency(_ context.Context, testID int64) ([]*types.WordCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int)
	for _, r := range m.responses {
		if r.TestID == testID {
			counts[strings.ToLower(r.Word)]++
		}
	}

	frequency := make([]*types.WordCount, 0, len(counts))
	for word, count := range counts {
		frequency = append(frequency, &types.WordCount{Word: word, Count: count})
	}
	sort.Slice(frequency, func(i, j int) bool {
		if frequency[i].Count == frequency[j].Count {
			return frequency[i].Word < frequency[j].Word
		}
		return frequency[i].Count > frequency[j].Count
	})
	return frequency, nil
}

func (m *Memory) TestStatistics(ctx context.Context, testID int64) (*types.TestStatistics, error) {
	test, err := m.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &types.TestStatistics{Test: test}
	users := make(map[int64]bool)
	unique := make(map[string]bool)
	for _, r := range m.responses {
		if r.TestID != testID {
			continue
		}
		stats.TotalWords++
		users[r.UserID] = true
		unique[strings.ToLower(r.Word)] = true
	}
	stats.UserCount = len(users)
	stats.UniqueWords = len(unique)
	return stats, nil
}

func (m *Memory) HealthCheck(_ context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
