// Package tunnel はローカルのngrokエージェントを通して推論サーバーを公開します。
package tunnel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"relay/interfaces"
	"relay/servers"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultAPIAddr = "http://127.0.0.1:4040"
	namePrefix     = "relay-"
	maxNameSuffix  = 10
)

// ErrNotRunning はエージェントのAPIに到達できないことを示します。
var ErrNotRunning = errors.New("ngrok agent is not running")

// Tunnel はエージェントが報告する1本のトンネルです。
type Tunnel struct {
	Name      string `json:"name"`
	PublicURL string `json:"public_url"`
	Proto     string `json:"proto"`
	Config    struct {
		Addr string `json:"addr"`
	} `json:"config"`
}

// Endpoint は公開URLに path を連結します。
func (t Tunnel) Endpoint(path string) string {
	return strings.TrimRight(t.PublicURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// Options はエージェントの起動設定です。
type Options struct {
	// Binary が空の場合はエージェントを起動せず、既に動いているものを使います。
	Binary    string
	AuthToken string
	APIAddr   string
}

// Ngrok はエージェントプロセスとそのローカルAPIを管理します。
type Ngrok struct {
	log     interfaces.Logger
	apiAddr string
	http    *http.Client
	agent   *servers.GenericServer

	// テストで差し替える
	newBackOff func() backoff.BackOff

	mu     sync.Mutex
	opened map[string]Tunnel
}

func NewNgrok(log interfaces.Logger, opts Options) *Ngrok {
	apiAddr := strings.TrimRight(opts.APIAddr, "/")
	if apiAddr == "" {
		apiAddr = DefaultAPIAddr
	}
	n := &Ngrok{
		log:     log,
		apiAddr: apiAddr,
		http:    &http.Client{Timeout: 10 * time.Second},
		opened:  make(map[string]Tunnel),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = 20 * time.Second
			return b
		},
	}
	if opts.Binary != "" {
		n.agent = servers.NewGenericServer("ngrok", opts.Binary,
			[]string{"start", "--none", "--log", "stdout", "--log-format", "json"}, "")
		if opts.AuthToken != "" {
			n.agent.WithEnv("NGROK_AUTHTOKEN=" + opts.AuthToken)
		}
	}
	return n
}

// Agent は Manager に登録するためのエージェントプロセスです。外部のエージェントを使う場合は nil です。
func (n *Ngrok) Agent() *servers.GenericServer {
	return n.agent
}

// Start はエージェントを起動し、ローカルAPIが応答するまで待ちます。
func (n *Ngrok) Start(ctx context.Context) error {
	if n.agent != nil {
		if err := n.agent.Start(); err != nil {
			return fmt.Errorf("failed to start ngrok agent: %w", err)
		}
	}
	return n.WaitReady(ctx)
}

// WaitReady はローカルAPIが応答するまでバックオフ付きでポーリングします。
func (n *Ngrok) WaitReady(ctx context.Context) error {
	op := func() error {
		if n.agent != nil && !n.agent.Alive() {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrNotRunning, n.agent.Err()))
		}
		_, err := n.List(ctx)
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(n.newBackOff(), ctx)); err != nil {
		return fmt.Errorf("ngrok API at %s did not become ready: %w", n.apiAddr, err)
	}
	n.log.Info("ngrok agent is ready", "api", n.apiAddr)
	return nil
}

// Alive はエージェントプロセスが動いているかを返します。外部のエージェントは常に true です。
func (n *Ngrok) Alive() bool {
	return n.agent == nil || n.agent.Alive()
}

// List は現在のトンネルを返します。
func (n *Ngrok) List(ctx context.Context) ([]Tunnel, error) {
	var out struct {
		Tunnels []Tunnel `json:"tunnels"`
	}
	if err := n.do(ctx, http.MethodGet, "/api/tunnels", nil, &out); err != nil {
		return nil, err
	}
	return out.Tunnels, nil
}

// Connect はローカルの port へのHTTPトンネルを name で開きます。
func (n *Ngrok) Connect(ctx context.Context, port int, name string) (Tunnel, error) {
	body := map[string]string{
		"addr":  strconv.Itoa(port),
		"proto": "http",
		"name":  name,
	}
	var t Tunnel
	if err := n.do(ctx, http.MethodPost, "/api/tunnels", body, &t); err != nil {
		return Tunnel{}, fmt.Errorf("failed to open tunnel %q: %w", name, err)
	}
	n.mu.Lock()
	n.opened[t.Name] = t
	n.mu.Unlock()
	n.log.Info("ngrok tunnel opened", "name", t.Name, "public_url", t.PublicURL, "addr", t.Config.Addr)
	return t, nil
}

// Disconnect は name のトンネルを閉じます。
func (n *Ngrok) Disconnect(ctx context.Context, name string) error {
	if err := n.do(ctx, http.MethodDelete, "/api/tunnels/"+url.PathEscape(name), nil, nil); err != nil {
		return fmt.Errorf("failed to close tunnel %q: %w", name, err)
	}
	n.mu.Lock()
	delete(n.opened, name)
	n.mu.Unlock()
	n.log.Info("ngrok tunnel closed", "name", name)
	return nil
}

// Expose は port を向いている既存のトンネルをすべて閉じてから、新しいトンネルを開きます。
func (n *Ngrok) Expose(ctx context.Context, port int, name string) (Tunnel, error) {
	tunnels, err := n.List(ctx)
	if err != nil {
		return Tunnel{}, err
	}
	suffix := ":" + strconv.Itoa(port)
	for _, t := range tunnels {
		if !strings.HasSuffix(t.Config.Addr, suffix) {
			continue
		}
		n.log.Info("Closing existing tunnel for port", "name", t.Name, "addr", t.Config.Addr)
		if err := n.Disconnect(ctx, t.Name); err != nil {
			return Tunnel{}, err
		}
	}
	return n.Connect(ctx, port, name)
}

// Close はこのプロセスが開いたトンネルを閉じ、エージェントを停止します。
func (n *Ngrok) Close(ctx context.Context) error {
	n.mu.Lock()
	names := make([]string, 0, len(n.opened))
	for name := range n.opened {
		names = append(names, name)
	}
	n.mu.Unlock()

	var errs []error
	for _, name := range names {
		if err := n.Disconnect(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	if n.agent != nil {
		if err := n.agent.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NameFor はモデルIDからトンネル名を作ります。
func NameFor(modelID string) string {
	base := modelID
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	if r := []rune(base); len(r) > maxNameSuffix {
		base = string(r[:maxNameSuffix])
	}
	return namePrefix + base
}

// apiError はエージェントのエラーレスポンスです。
type apiError struct {
	Status int    `json:"-"`
	Msg    string `json:"msg"`
}

func (e *apiError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("ngrok API returned status %d", e.Status)
	}
	return fmt.Sprintf("ngrok API returned status %d: %s", e.Status, e.Msg)
}

func (n *Ngrok) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, n.apiAddr+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
