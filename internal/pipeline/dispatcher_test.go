package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/adjara-labs/concierge/internal/core"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingHandler logs executions and can simulate slow pipeline work.
type recordingHandler struct {
	mu       sync.Mutex
	sequence []string // "session:question" in execution start order
	inFlight map[string]int
	overlap  bool // set when a session ever had two executions at once
	delay    time.Duration
	onHandle func(sessionID string)
}

func newRecordingHandler(delay time.Duration) *recordingHandler {
	return &recordingHandler{
		inFlight: make(map[string]int),
		delay:    delay,
	}
}

func (h *recordingHandler) Handle(ctx context.Context, sessionID, question string) (core.Answer, error) {
	h.mu.Lock()
	h.sequence = append(h.sequence, sessionID+":"+question)
	h.inFlight[sessionID]++
	if h.inFlight[sessionID] > 1 {
		h.overlap = true
	}
	h.mu.Unlock()

	if h.onHandle != nil {
		h.onHandle(sessionID)
	}
	if h.delay > 0 {
		time.Sleep(h.delay)
	}

	h.mu.Lock()
	h.inFlight[sessionID]--
	h.mu.Unlock()

	return core.Answer{Text: "answered " + question}, nil
}

func (h *recordingHandler) recorded() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.sequence...)
}

func TestSubmitPreservesArrivalOrderWithinSession(t *testing.T) {
	handler := newRecordingHandler(20 * time.Millisecond)
	d := NewDispatcher(handler, time.Minute)
	defer d.Close()

	var results []<-chan Result
	for i := 1; i <= 5; i++ {
		results = append(results, d.Submit(context.Background(), "chat-1", fmt.Sprintf("q%d", i)))
	}
	for _, ch := range results {
		res := <-ch
		require.NoError(t, res.Err)
	}

	assert.Equal(t, []string{"chat-1:q1", "chat-1:q2", "chat-1:q3", "chat-1:q4", "chat-1:q5"}, handler.recorded())
	assert.False(t, handler.overlap, "a session must never run two executions at once")
}

func TestDistinctSessionsRunConcurrently(t *testing.T) {
	release := make(chan struct{})
	handler := newRecordingHandler(0)
	handler.onHandle = func(sessionID string) {
		// Session A blocks until session B starts. If lanes were serialized
		// globally this would deadlock and the test would time out.
		switch sessionID {
		case "chat-a":
			select {
			case <-release:
			case <-time.After(5 * time.Second):
			}
		case "chat-b":
			close(release)
		}
	}

	d := NewDispatcher(handler, time.Minute)
	defer d.Close()

	resA := d.Submit(context.Background(), "chat-a", "qa")
	resB := d.Submit(context.Background(), "chat-b", "qb")

	select {
	case res := <-resA:
		require.NoError(t, res.Err)
	case <-time.After(3 * time.Second):
		t.Fatal("session A never finished; lanes are not concurrent")
	}
	require.NoError(t, (<-resB).Err)
}

func TestSessionsAreIsolated(t *testing.T) {
	handler := newRecordingHandler(5 * time.Millisecond)
	d := NewDispatcher(handler, time.Minute)
	defer d.Close()

	var wg sync.WaitGroup
	for _, session := range []string{"chat-a", "chat-b", "chat-c"} {
		wg.Add(1)
		go func(session string) {
			defer wg.Done()
			var chans []<-chan Result
			for i := 1; i <= 4; i++ {
				chans = append(chans, d.Submit(context.Background(), session, fmt.Sprintf("q%d", i)))
			}
			for _, ch := range chans {
				require.NoError(t, (<-ch).Err)
			}
		}(session)
	}
	wg.Wait()

	assert.False(t, handler.overlap)

	// Per-session subsequences keep their own order regardless of interleaving.
	perSession := make(map[string][]string)
	for _, entry := range handler.recorded() {
		session := entry[:6]
		perSession[session] = append(perSession[session], entry)
	}
	for _, session := range []string{"chat-a", "chat-b", "chat-c"} {
		expected := []string{
			session + ":q1", session + ":q2", session + ":q3", session + ":q4",
		}
		assert.Equal(t, expected, perSession[session])
	}
}

func TestIdleLanesAreReaped(t *testing.T) {
	handler := newRecordingHandler(0)
	d := NewDispatcher(handler, 20*time.Millisecond)
	defer d.Close()

	res := d.Submit(context.Background(), "chat-1", "q")
	require.NoError(t, (<-res).Err)
	require.Equal(t, 1, d.Sessions())

	assert.Eventually(t, func() bool {
		return d.Sessions() == 0
	}, time.Second, 10*time.Millisecond, "idle lane should be reaped")

	// A reaped session gets a fresh lane on the next message.
	res = d.Submit(context.Background(), "chat-1", "q2")
	require.NoError(t, (<-res).Err)
}

func TestCloseDrainsQueuedWork(t *testing.T) {
	handler := newRecordingHandler(15 * time.Millisecond)
	d := NewDispatcher(handler, time.Minute)

	var chans []<-chan Result
	for i := 1; i <= 3; i++ {
		chans = append(chans, d.Submit(context.Background(), "chat-1", fmt.Sprintf("q%d", i)))
	}

	d.Close()

	for _, ch := range chans {
		res := <-ch
		require.NoError(t, res.Err, "queued work must finish on Close")
	}
	assert.Len(t, handler.recorded(), 3)
	assert.Equal(t, 0, d.Sessions())
}

func TestSubmitAfterClose(t *testing.T) {
	d := NewDispatcher(newRecordingHandler(0), time.Minute)
	d.Close()

	res := <-d.Submit(context.Background(), "chat-1", "q")
	assert.ErrorIs(t, res.Err, ErrClosed)
}
