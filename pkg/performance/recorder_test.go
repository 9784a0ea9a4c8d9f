package performance

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_AccumulatesPerSession(t *testing.T) {
	r := NewRecorder()
	a := NewSession("a")
	b := NewSession("b")

	r.Record(a, "Bind Service", 120*time.Millisecond)
	r.Record(a, "Get Application", 30*time.Millisecond)
	r.Record(b, "Stop Application", 5*time.Millisecond)

	assert.Equal(t, 150*time.Millisecond, r.TotalTime(a))
	assert.Equal(t, 5*time.Millisecond, r.TotalTime(b))
	assert.Equal(t, []Operation{
		{Name: "Bind Service", Duration: 120 * time.Millisecond},
		{Name: "Get Application", Duration: 30 * time.Millisecond},
	}, r.Operations(a))
	assert.Equal(t, 2, r.Len())
}

func TestRecorder_Clear(t *testing.T) {
	r := NewRecorder()
	s := NewSession("s")

	r.Record(s, "Create Application", time.Second)
	r.Clear(s)

	assert.Zero(t, r.TotalTime(s))
	assert.Nil(t, r.Operations(s))
	assert.Zero(t, r.Len())

	r.Record(s, "Create Application", time.Second)
	assert.Equal(t, time.Second, r.TotalTime(s))
}

func TestRecorder_UnknownSession(t *testing.T) {
	r := NewRecorder()
	assert.Zero(t, r.TotalTime(NewSession("x")))
	assert.Zero(t, r.TotalTime(nil))
	r.Record(nil, "ignored", time.Second)
	assert.Zero(t, r.Len())
}

func TestRecorder_ConcurrentRecords(t *testing.T) {
	r := NewRecorder()
	s := NewSession("s")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Record(s, "Get Service Instance", time.Millisecond)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50*time.Millisecond, r.TotalTime(s))
	assert.Len(t, r.Operations(s), 50)
}

func TestRecorder_ReclaimsCollectedSessions(t *testing.T) {
	r := NewRecorder()
	kept := NewSession("kept")
	r.Record(kept, "Get Application", time.Millisecond)

	func() {
		dropped := NewSession("dropped")
		r.Record(dropped, "Get Application", time.Millisecond)
	}()
	require.Equal(t, 2, r.Len())

	require.Eventually(t, func() bool {
		runtime.GC()
		return r.Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, time.Millisecond, r.TotalTime(kept))
	runtime.KeepAlive(kept)
}
