package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockJobProcessor is a mock implementation of JobProcessor
type MockJobProcessor struct {
	mock.Mock
}

func (m *MockJobProcessor) ProcessJobs(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func startWorker(ctx context.Context, w *ScheduledWorker) (*sync.WaitGroup, *error) {
	var wg sync.WaitGroup
	var err error
	wg.Add(1)
	go func() {
		defer wg.Done()
		err = w.Start(ctx)
	}()
	return &wg, &err
}

func TestScheduledWorker_StartStop(t *testing.T) {
	processor := new(MockJobProcessor)
	processor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewScheduledWorker("consolidation", processor, Every(50*time.Millisecond), nil)
	wg, err := startWorker(context.Background(), worker)

	time.Sleep(200 * time.Millisecond)
	worker.Stop()
	wg.Wait()

	assert.NoError(t, *err)
	processor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

func TestScheduledWorker_ContextCancellation(t *testing.T) {
	processor := new(MockJobProcessor)
	processor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewScheduledWorker("consolidation", processor, Every(50*time.Millisecond), nil)
	ctx, cancel := context.WithCancel(context.Background())
	wg, err := startWorker(ctx, worker)

	time.Sleep(150 * time.Millisecond)
	cancel()
	wg.Wait()

	assert.NoError(t, *err)
	processor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

func TestScheduledWorker_KeepsRunningAfterFailure(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	processor := ProcessorFunc(func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return errors.New("store unavailable")
	})

	worker := NewScheduledWorker("consolidation", processor, Every(30*time.Millisecond), nil)
	wg, _ := startWorker(context.Background(), worker)

	time.Sleep(200 * time.Millisecond)
	worker.Stop()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, calls, 2)
}

func TestScheduledWorker_RunOnce(t *testing.T) {
	boom := errors.New("boom")
	processor := new(MockJobProcessor)
	processor.On("ProcessJobs", mock.Anything).Return(boom).Once()

	worker := NewScheduledWorker("consolidation", processor, Every(time.Hour), nil)
	assert.ErrorIs(t, worker.RunOnce(context.Background()), boom)
	processor.AssertExpectations(t)
}

func TestScheduledWorker_InvalidScheduleStops(t *testing.T) {
	processor := new(MockJobProcessor)
	worker := NewScheduledWorker("consolidation", processor, Every(0), nil)

	err := worker.Start(context.Background())
	require.Error(t, err)
	processor.AssertNotCalled(t, "ProcessJobs", mock.Anything)
}

func TestCronSchedule(t *testing.T) {
	t.Run("nightly run", func(t *testing.T) {
		s, err := ParseCron("0 3 * * *")
		require.NoError(t, err)

		after := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
		next, err := s.Next(after)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC), next)
		assert.Equal(t, "0 3 * * *", s.String())
	})

	t.Run("next tick is strictly after", func(t *testing.T) {
		s, err := ParseCron("*/15 * * * *")
		require.NoError(t, err)

		at := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
		next, err := s.Next(at)
		require.NoError(t, err)
		assert.Equal(t, at.Add(15*time.Minute), next)
	})

	t.Run("invalid expression", func(t *testing.T) {
		_, err := ParseCron("every night")
		assert.Error(t, err)
	})
}

func TestEvery(t *testing.T) {
	at := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	next, err := Every(time.Minute).Next(at)
	require.NoError(t, err)
	assert.Equal(t, at.Add(time.Minute), next)

	_, err = Every(-time.Second).Next(at)
	assert.Error(t, err)
}
