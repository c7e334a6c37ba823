package hashmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalMap(t *testing.T) {
	obj := NewNormal[string, int]()
	require.Equal(t, 0, obj.Size())
	require.False(t, obj.Has("a"))
	require.Equal(t, 0, obj.Get("a"))

	obj.Set("a", 1)
	obj.Set("b", 2)
	require.Equal(t, 2, obj.Size())
	require.True(t, obj.Has("a"))
	require.Equal(t, 1, obj.Get("a"))

	val, ok := obj.Lookup("b")
	require.True(t, ok)
	require.Equal(t, 2, val)

	obj.Unset("a")
	require.False(t, obj.Has("a"))
	require.Equal(t, 1, obj.Size())

	obj.Clear()
	require.Equal(t, 0, obj.Size())
}

func TestNormalMapMutate(t *testing.T) {
	obj := NewNormal[string, int]()
	obj.Set("a", 1)
	obj.Set("b", 2)
	obj.Set("c", 3)

	obj.Mutate(func(underlying map[string]int) {
		for key, value := range underlying {
			if value%2 == 1 {
				delete(underlying, key)
			}
		}
	})

	require.Equal(t, 1, obj.Size())
	require.Equal(t, 2, obj.Get("b"))
}

func TestNormalMapConcurrentAccess(t *testing.T) {
	obj := NewNormal[int, int]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			obj.Set(i, i)
			obj.Get(i)
		}(i)
	}
	wg.Wait()
	require.Equal(t, 50, obj.Size())
}
