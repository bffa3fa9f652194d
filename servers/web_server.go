// servers/web_server.go
package servers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"relay/handlers/web"
	"relay/interfaces"
	"relay/pipeline"

	"github.com/gorilla/mux"
)

// WebServerOptions は推論サーバーの設定です。
type WebServerOptions struct {
	Addr       string
	APIKey     string
	CORSOrigin string
}

// WebServer は推論エンドポイントのHTTPサーバーを管理します。
type WebServer struct {
	log      interfaces.Logger
	http     *http.Server
	listener net.Listener

	mu      sync.Mutex
	running bool
	err     error
	done    chan struct{}
}

// NewRouter は /generate と /health のルーティングを設定します。
func NewRouter(log interfaces.Logger, opts WebServerOptions, pipelines *pipeline.Handle, history interfaces.HistoryStore) *mux.Router {
	r := mux.NewRouter()

	generateHandler := web.NewGenerateHandler(log, opts.APIKey, pipelines, history)
	healthHandler := web.NewHealthHandler(pipelines)

	r.HandleFunc("/generate", generateHandler.Generate).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/health", healthHandler.Health).Methods(http.MethodGet, http.MethodOptions)

	r.Use(mux.CORSMethodMiddleware(r))
	r.Use(web.CORS(opts.CORSOrigin))
	return r
}

// NewWebServer は新しいWebServerインスタンスを作成します。
func NewWebServer(log interfaces.Logger, opts WebServerOptions, pipelines *pipeline.Handle, history interfaces.HistoryStore) *WebServer {
	return &WebServer{
		log: log,
		http: &http.Server{
			Addr:              opts.Addr,
			Handler:           NewRouter(log, opts, pipelines, history),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *WebServer) Name() string {
	return "inference-web"
}

// Addr は実際に待ち受けているアドレスを返します。起動前は設定値です。
func (s *WebServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.http.Addr
}

// Start はポートを確保してからバックグラウンドで配信を始めます。
func (s *WebServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.http.Addr, err)
	}
	s.listener = ln
	s.running = true
	s.err = nil
	s.done = make(chan struct{})

	s.log.Info("Webサーバーを起動します", "addr", ln.Addr().String())
	go s.serve(ln, s.done)
	return nil
}

func (s *WebServer) serve(ln net.Listener, done chan struct{}) {
	err := s.http.Serve(ln)
	s.mu.Lock()
	s.running = false
	if !errors.Is(err, http.ErrServerClosed) {
		s.err = err
		s.log.Error("Webサーバーが予期せず停止しました", "error", err)
	}
	s.mu.Unlock()
	close(done)
}

// Alive はサーバーが配信中かどうかを返します。
func (s *WebServer) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Err は予期しない停止の原因を返します。
func (s *WebServer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done は配信ループが終了すると閉じられます。起動前は nil です。
func (s *WebServer) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Stop はWebサーバーをシャットダウンします。
func (s *WebServer) Stop() error {
	s.mu.Lock()
	running, done := s.running, s.done
	s.mu.Unlock()
	if !running {
		return nil
	}

	s.log.Info("Webサーバーをシャットダウンします...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		return err
	}
	<-done
	return nil
}
