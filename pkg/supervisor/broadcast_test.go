package supervisor

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wharfd/wharfd/pkg/models"
)

func activityRecord(path string) *models.ActivityRecord {
	listenerID := "lst-1"
	return &models.ActivityRecord{
		ListenerID: &listenerID,
		Username:   "alice",
		Action:     models.ActionDownload,
		Path:       path,
		Success:    true,
	}
}

func TestSupervisor_LogActivityPersistsAndFansOut(t *testing.T) {
	sup, st := newTestSupervisor(t, Config{})

	var mu sync.Mutex
	var got []string
	unsubscribe := sup.Subscribe(func(rec *models.ActivityRecord) {
		mu.Lock()
		got = append(got, rec.Path)
		mu.Unlock()
	})
	defer unsubscribe()

	want := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		path := fmt.Sprintf("/reports/q%d.csv", i)
		want = append(want, path)
		sup.LogActivity(activityRecord(path))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(want)
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, want, got, "events arrive in emission order")
	mu.Unlock()
	assert.Equal(t, len(want), st.recorded(), "every event is persisted")
}

func TestSupervisor_UnsubscribeStopsDelivery(t *testing.T) {
	sup, _ := newTestSupervisor(t, Config{})

	var mu sync.Mutex
	var count int
	unsubscribe := sup.Subscribe(func(*models.ActivityRecord) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	sup.LogActivity(activityRecord("/a.txt"))
	unsubscribe()

	mu.Lock()
	delivered := count
	mu.Unlock()
	assert.Equal(t, 1, delivered, "unsubscribe drains the buffered event")

	sup.LogActivity(activityRecord("/b.txt"))
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, delivered, count, "no delivery after unsubscribe")
	mu.Unlock()

	// Unsubscribing again is a no-op.
	unsubscribe()
}

func TestSupervisor_SlowSubscriberDropsWithoutBlocking(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	sup := New(newFakeStore(), Config{}, metrics)

	gate := make(chan struct{})
	var mu sync.Mutex
	var received int
	unsubscribe := sup.Subscribe(func(*models.ActivityRecord) {
		<-gate
		mu.Lock()
		received++
		mu.Unlock()
	})

	const sent = 200
	start := time.Now()
	for i := 0; i < sent; i++ {
		sup.LogActivity(activityRecord(fmt.Sprintf("/f%d", i)))
	}
	elapsed := time.Since(start)
	assert.Less(t, elapsed, 2*time.Second, "emission must not block on a stuck subscriber")

	close(gate)
	unsubscribe()

	mu.Lock()
	finalReceived := received
	mu.Unlock()
	assert.Less(t, finalReceived, sent, "overflow events are dropped")
	assert.Greater(t, finalReceived, 0)

	assert.EqualValues(t, sent, testutil.ToFloat64(metrics.activityRecords))
	dropped := testutil.ToFloat64(metrics.activityDropped)
	assert.EqualValues(t, sent-finalReceived, dropped)
}

func TestSupervisor_SubscribersAreIndependent(t *testing.T) {
	sup, _ := newTestSupervisor(t, Config{})

	stuck := make(chan struct{})
	unsubStuck := sup.Subscribe(func(*models.ActivityRecord) { <-stuck })
	defer unsubStuck()
	defer close(stuck)

	var mu sync.Mutex
	var count int
	unsubscribe := sup.Subscribe(func(*models.ActivityRecord) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	defer unsubscribe()

	for i := 0; i < 10; i++ {
		sup.LogActivity(activityRecord(fmt.Sprintf("/f%d", i)))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 10
	}, 2*time.Second, 10*time.Millisecond, "healthy subscriber keeps receiving")
}

func TestSupervisor_AuthFailureCountsInMetrics(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	sup := New(newFakeStore(), Config{}, metrics)

	listenerID := "lst-1"
	sup.LogActivity(&models.ActivityRecord{
		ListenerID: &listenerID,
		Username:   "mallory",
		Action:     models.Denied(models.ActionLogin),
		Success:    false,
	})
	sup.LogActivity(activityRecord("/ok.txt"))

	assert.EqualValues(t, 1, testutil.ToFloat64(metrics.authFailures))
	assert.EqualValues(t, 2, testutil.ToFloat64(metrics.activityRecords))
}

func TestSupervisor_LogActivityIgnoresNil(t *testing.T) {
	sup, st := newTestSupervisor(t, Config{})
	sup.LogActivity(nil)
	assert.Zero(t, st.recorded())
}
