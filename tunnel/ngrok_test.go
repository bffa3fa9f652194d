package tunnel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"relay/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAgent はngrokエージェントのローカルAPIを模倣します。
type fakeAgent struct {
	mu      sync.Mutex
	tunnels map[string]Tunnel
	deleted []string
	// 最初の unready 回のリクエストは 503 を返す
	unready int
}

func newFakeAgent(t *testing.T, existing ...Tunnel) (*fakeAgent, *httptest.Server) {
	t.Helper()
	a := &fakeAgent{tunnels: map[string]Tunnel{}}
	for _, tn := range existing {
		a.tunnels[tn.Name] = tn
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tunnels", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.unready > 0 {
			a.unready--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		list := make([]Tunnel, 0, len(a.tunnels))
		for _, tn := range a.tunnels {
			list = append(list, tn)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
		_ = json.NewEncoder(w).Encode(map[string]any{"tunnels": list})
	})
	mux.HandleFunc("POST /api/tunnels", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		a.mu.Lock()
		defer a.mu.Unlock()
		if _, ok := a.tunnels[body["name"]]; ok {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"error_code": 102, "msg": "tunnel already exists"})
			return
		}
		tn := tunnelFor(body["name"], "http://localhost:"+body["addr"])
		tn.Proto = body["proto"]
		a.tunnels[tn.Name] = tn
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(tn)
	})
	mux.HandleFunc("DELETE /api/tunnels/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		a.mu.Lock()
		defer a.mu.Unlock()
		if _, ok := a.tunnels[name]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(a.tunnels, name)
		a.deleted = append(a.deleted, name)
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return a, srv
}

func tunnelFor(name, addr string) Tunnel {
	tn := Tunnel{Name: name, PublicURL: "https://" + name + ".ngrok.example", Proto: "https"}
	tn.Config.Addr = addr
	return tn
}

func newTestNgrok(apiAddr string) *Ngrok {
	n := NewNgrok(logger.Discard(), Options{APIAddr: apiAddr})
	n.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(5*time.Millisecond), 20)
	}
	return n
}

func TestDisconnectEscapesName(t *testing.T) {
	name := "relay-a/b c?d#e"
	agent, srv := newFakeAgent(t, tunnelFor(name, "http://localhost:5000"))
	n := newTestNgrok(srv.URL)

	require.NoError(t, n.Disconnect(context.Background(), name))
	assert.Equal(t, []string{name}, agent.deleted)
}

func TestExposeClosesTunnelsOnSamePort(t *testing.T) {
	agent, srv := newFakeAgent(t,
		tunnelFor("old-a", "http://localhost:5000"),
		tunnelFor("other", "http://localhost:8080"),
		tunnelFor("old-b", "localhost:5000"),
	)
	n := newTestNgrok(srv.URL)
	ctx := context.Background()

	tn, err := n.Expose(ctx, 5000, "relay-gpt2")
	require.NoError(t, err)
	assert.Equal(t, "relay-gpt2", tn.Name)
	assert.Equal(t, "https://relay-gpt2.ngrok.example/generate", tn.Endpoint("/generate"))

	assert.ElementsMatch(t, []string{"old-a", "old-b"}, agent.deleted)

	list, err := n.List(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(list))
	for _, l := range list {
		names = append(names, l.Name)
	}
	assert.Equal(t, []string{"other", "relay-gpt2"}, names)
}

func TestCloseDisconnectsOpenedTunnels(t *testing.T) {
	agent, srv := newFakeAgent(t, tunnelFor("foreign", "http://localhost:9000"))
	n := newTestNgrok(srv.URL)
	ctx := context.Background()

	_, err := n.Connect(ctx, 5000, "relay-a")
	require.NoError(t, err)

	require.NoError(t, n.Close(ctx))
	assert.Equal(t, []string{"relay-a"}, agent.deleted)
	assert.Contains(t, agent.tunnels, "foreign")
}

func TestConnectReportsAPIError(t *testing.T) {
	_, srv := newFakeAgent(t, tunnelFor("dup", "http://localhost:5000"))
	n := newTestNgrok(srv.URL)

	_, err := n.Connect(context.Background(), 5000, "dup")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tunnel already exists")
	assert.Contains(t, err.Error(), "400")
}

func TestWaitReadyRetries(t *testing.T) {
	agent, srv := newFakeAgent(t)
	agent.unready = 3
	n := newTestNgrok(srv.URL)

	require.NoError(t, n.WaitReady(context.Background()))
	assert.Zero(t, agent.unready)
}

func TestWaitReadyGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	n := newTestNgrok(addr)
	err := n.WaitReady(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestStartFailsWhenAgentExits(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	n := NewNgrok(logger.Discard(), Options{Binary: "true", APIAddr: addr})
	n.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(20 * time.Millisecond) }

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := n.Start(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.False(t, n.Alive())
}

func TestNameFor(t *testing.T) {
	assert.Equal(t, "relay-gpt2", NameFor("gpt2"))
	assert.Equal(t, "relay-TinyLlama-", NameFor("TinyLlama/TinyLlama-1.1B-Chat-v1.0"))
	assert.Equal(t, "relay-", NameFor("org/"))
}
