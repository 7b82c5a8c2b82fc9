package flags

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreTypedLookup(t *testing.T) {
	s := New()
	s.Set(CameraFPS, 139.5)

	fps, ok := Lookup[float64](s, CameraFPS)
	require.True(t, ok)
	assert.Equal(t, 139.5, fps)

	_, ok = Lookup[string](s, CameraFPS)
	assert.False(t, ok, "wrong type must not match")

	_, ok = Lookup[float64](s, "MISSING")
	assert.False(t, ok)
}

func TestStoreSnapshotIsCopy(t *testing.T) {
	s := New()
	s.Set("A", 1)
	snap := s.Snapshot()
	snap["A"] = 2

	v, _ := Lookup[int](s, "A")
	assert.Equal(t, 1, v)
	assert.Equal(t, []string{"A"}, s.Keys())

	s.Delete("A")
	assert.Empty(t, s.Keys())
}

func TestStoreSubscribe(t *testing.T) {
	s := New()
	ch := s.Subscribe()

	s.Set(CameraSource, "dummy")
	c := <-ch
	assert.Equal(t, Change{Key: CameraSource, Value: "dummy"}, c)

	s.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)

	// a second unsubscribe is a no-op
	s.Unsubscribe(ch)
}

func TestStoreConcurrentWriters(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Set(CameraFPS, float64(i*j))
				s.Load(CameraFPS)
			}
		}(i)
	}
	wg.Wait()

	_, ok := Lookup[float64](s, CameraFPS)
	assert.True(t, ok)
}

func TestGlobalHelpers(t *testing.T) {
	Set("TEST_GLOBAL_KEY", "x")
	v, ok := Lookup[string](Global(), "TEST_GLOBAL_KEY")
	assert.True(t, ok)
	assert.Equal(t, "x", v)
}
