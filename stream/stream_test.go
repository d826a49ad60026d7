package stream

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brensch/rolloutiw/episode"
	"github.com/brensch/rolloutiw/planner"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Clients() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestBroadcastReachesEverySubscriber(t *testing.T) {
	hub, url := startHub(t)
	ctx := context.Background()

	a, err := Dial(ctx, url, time.Second)
	require.NoError(t, err)
	defer a.Close()
	b, err := Dial(ctx, url, time.Second)
	require.NoError(t, err)
	defer b.Close()
	waitForClients(t, hub, 2)

	d := episode.Decision{
		EpisodeID: "ep-7",
		Index:     3,
		Branch:    []planner.Action{2, 0},
		Stats:     planner.Stats{Rollouts: 11, Nodes: 40, RootValue: 2},
	}
	hub.Publish(DecisionEventOf("run", d))
	hub.Publish(StepEventOf("run", episode.Step{EpisodeID: "ep-7", Action: 2, Score: 1}, ""))

	for _, c := range []*Client{a, b} {
		ev, err := c.Next()
		require.NoError(t, err)
		require.Equal(t, TypeDecision, ev.Type)
		require.Equal(t, "ep-7", ev.EpisodeID)
		require.Equal(t, []int{2, 0}, ev.Decision.Branch)
		require.Equal(t, 11, ev.Decision.Rollouts)
		require.Nil(t, ev.Step)

		ev, err = c.Next()
		require.NoError(t, err)
		require.Equal(t, TypeStep, ev.Type)
		require.Equal(t, 2, ev.Step.Action)
	}
}

func TestSubscriberLeaving(t *testing.T) {
	hub, url := startHub(t)
	c, err := Dial(context.Background(), url, time.Second)
	require.NoError(t, err)
	waitForClients(t, hub, 1)

	require.NoError(t, c.Close())
	waitForClients(t, hub, 0)
	hub.Publish(EpisodeEventOf("run", episode.Result{ID: "x"}))
}

func TestCloseHangsUpNormally(t *testing.T) {
	hub, url := startHub(t)
	c, err := Dial(context.Background(), url, time.Second)
	require.NoError(t, err)
	defer c.Close()
	waitForClients(t, hub, 1)

	hub.Close()
	_, err = c.Next()
	require.Error(t, err)
	require.True(t, IsClosed(err))
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(nil)
	id, ch, ok := hub.register()
	require.True(t, ok)
	defer hub.unregister(id)

	for i := 0; i < clientBuffer+10; i++ {
		hub.Publish(EpisodeEventOf("run", episode.Result{ID: "x"}))
	}
	require.Len(t, ch, clientBuffer)
	require.Equal(t, uint64(10), hub.Dropped())
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/ws", 200*time.Millisecond)
	require.Error(t, err)
}
