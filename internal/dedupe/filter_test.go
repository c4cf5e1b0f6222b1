// ABOUTME: Tests for the event id filter
// ABOUTME: Validates TTL expiry, size eviction, release, and concurrent claims

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestFilter(ttl time.Duration, maxSize int) (*Filter, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	f := NewFilter(ttl, maxSize)
	f.now = func() time.Time { return now }
	return f, &now
}

func TestFilter_ClaimOnce(t *testing.T) {
	f, _ := newTestFilter(time.Minute, 100)

	assert.True(t, f.Claim(Key("T1", "Ev1")))
	assert.False(t, f.Claim(Key("T1", "Ev1")))
	assert.True(t, f.Claim(Key("T2", "Ev1")), "same event id in another team is distinct")
}

func TestFilter_Expiry(t *testing.T) {
	f, now := newTestFilter(time.Minute, 100)

	assert.True(t, f.Claim("k"))
	*now = now.Add(59 * time.Second)
	assert.False(t, f.Claim("k"))

	*now = now.Add(2 * time.Second)
	assert.True(t, f.Claim("k"))
}

func TestFilter_EvictsOldest(t *testing.T) {
	f, _ := newTestFilter(time.Hour, 2)

	f.Claim("a")
	f.Claim("b")
	f.Claim("c")

	assert.Equal(t, 2, f.Len())
	assert.True(t, f.Claim("a"), "oldest key was evicted")
	assert.False(t, f.Claim("c"))
}

func TestFilter_Release(t *testing.T) {
	f, _ := newTestFilter(time.Hour, 0)

	assert.True(t, f.Claim("k"))
	f.Release("k")
	assert.True(t, f.Claim("k"))
	f.Release("missing")
}

func TestFilter_EmptyKeyAndDisabled(t *testing.T) {
	f, _ := newTestFilter(time.Hour, 10)
	assert.True(t, f.Claim(""))
	assert.True(t, f.Claim(""))

	off := NewFilter(0, 10)
	assert.True(t, off.Claim("k"))
	assert.True(t, off.Claim("k"))

	var nilFilter *Filter
	assert.True(t, nilFilter.Claim("k"))
	nilFilter.Release("k")
}

func TestFilter_ConcurrentClaims(t *testing.T) {
	f := NewFilter(time.Minute, 1000)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.Claim("shared") {
				wins.Add(1)
			}
			f.Claim(fmt.Sprintf("own-%d", i))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 51, f.Len())
}
