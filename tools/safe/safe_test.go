package safe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGo_RecoversPanic(t *testing.T) {
	done := make(chan struct{})
	Go("boom", func() {
		defer close(done)
		panic("boom")
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}

func TestGo_RunsTask(t *testing.T) {
	ch := make(chan int, 1)
	Go("ok", func() { ch <- 42 })
	require.Equal(t, 42, <-ch)
}
