package ids

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerator_UniqueAndIncreasing(t *testing.T) {
	req := require.New(t)
	g := NewGenerator(7)

	var last int64
	for i := 0; i < 10000; i++ {
		id := g.Next()
		req.Greater(id, last)
		req.Equal(int64(7), (id>>12)&0x3FF)
		last = id
	}
}

func TestGenerate_Concurrent(t *testing.T) {
	const workers, perWorker = 8, 500
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := GenerateString()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Len(t, seen, workers*perWorker)
}

func TestNewGenerator_ClampsNodeID(t *testing.T) {
	require.Equal(t, int64(1), NewGenerator(5000).nodeID)
}
