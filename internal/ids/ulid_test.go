package ids

import (
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
)

func TestNew_Length(t *testing.T) {
	id, err := NewGenerator().New(time.Now())
	require.NoError(t, err)
	require.Len(t, id, 26)
}

func TestNew_MonotonicWithinSameMillisecond(t *testing.T) {
	g := NewGenerator()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	prev := ""
	for i := 0; i < 100; i++ {
		id, err := g.New(ts)
		require.NoError(t, err)
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestNew_EncodesTimestamp(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123_000_000, time.UTC)
	id, err := NewGenerator().New(ts)
	require.NoError(t, err)

	parsed, err := ulid.Parse(id)
	require.NoError(t, err)
	require.Equal(t, ulid.Timestamp(ts), parsed.Time())
}

func TestNew_LaterMillisecondSortsAfter(t *testing.T) {
	g := NewGenerator()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a, err := g.New(ts.Add(time.Millisecond))
	require.NoError(t, err)
	b, err := NewGenerator().New(ts)
	require.NoError(t, err)
	require.Greater(t, a, b)
}

func TestNew_ConcurrentUnique(t *testing.T) {
	g := NewGenerator()
	now := time.Now()

	var mu sync.Mutex
	seen := make(map[string]struct{})
	var errs []error
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id, err := g.New(now)
				mu.Lock()
				if err != nil {
					errs = append(errs, err)
				} else {
					seen[id] = struct{}{}
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Empty(t, errs)
	require.Len(t, seen, 32*50)
}
