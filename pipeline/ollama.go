package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"relay/interfaces"

	"github.com/cenkalti/backoff/v4"
)

// 生成結果を再現可能にするための固定シード
const generationSeed = 42

// -- Ollama API Request/Response Structures --

type ollamaOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature"`
	Seed        int     `json:"seed"`
}

type ollamaGenerateRequest struct {
	Model     string         `json:"model"`
	Prompt    string         `json:"prompt"`
	Raw       bool           `json:"raw,omitempty"`
	Stream    bool           `json:"stream"`
	KeepAlive any            `json:"keep_alive,omitempty"`
	Options   *ollamaOptions `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

type ollamaModelRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

type ollamaError struct {
	Error string `json:"error"`
}

// errModelMissing はサーバーにモデルが存在しないことを示します。
var errModelMissing = errors.New("model not present on server")

// OllamaLoader は Ollama サーバー上のモデルをパイプラインとしてロードします。
type OllamaLoader struct {
	baseURL    string
	httpClient *http.Client
	log        interfaces.Logger
	keepAlive  string
	// WarmupTimeout はモデルのメモリ展開を待つ最大時間です。
	WarmupTimeout time.Duration
}

// NewOllamaLoader は新しい OllamaLoader を作成します。
func NewOllamaLoader(baseURL string, log interfaces.Logger) *OllamaLoader {
	return &OllamaLoader{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{},
		log:           log,
		keepAlive:     "24h",
		WarmupTimeout: 5 * time.Minute,
	}
}

// Load はモデルの存在を確認し、無ければ pull し、空のプロンプトでメモリに展開します。
// Ollama にはリモートコードの概念が無いため TrustRemoteCode は記録のみです。
func (l *OllamaLoader) Load(ctx context.Context, req LoadRequest) (Pipeline, error) {
	if strings.TrimSpace(req.ModelID) == "" {
		return nil, errors.New("model id is empty")
	}
	if req.TrustRemoteCode {
		l.log.Warn("trust_remote_code has no effect on the ollama backend", "model", req.ModelID)
	}

	err := l.post(ctx, "/api/show", ollamaModelRequest{Model: req.ModelID}, nil)
	if errors.Is(err, errModelMissing) {
		l.log.Info("Model not found locally, pulling", "model", req.ModelID)
		err = l.post(ctx, "/api/pull", ollamaModelRequest{Model: req.ModelID}, nil)
	}
	if err != nil {
		return nil, err
	}

	if err := l.warmup(ctx, req.ModelID); err != nil {
		return nil, fmt.Errorf("model %s did not become ready: %w", req.ModelID, err)
	}
	return &ollamaPipeline{loader: l, model: req.ModelID}, nil
}

func (l *OllamaLoader) warmup(ctx context.Context, model string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = l.WarmupTimeout

	operation := func() error {
		err := l.post(ctx, "/api/generate", ollamaGenerateRequest{Model: model, KeepAlive: l.keepAlive}, nil)
		if errors.Is(err, errModelMissing) {
			return backoff.Permanent(err)
		}
		if err != nil {
			l.log.Warn("Model warm-up failed, retrying", "model", model, "error", err)
		}
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

func (l *OllamaLoader) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", path, errModelMissing)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr ollamaError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%s returned %d", path, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response payload: %w", err)
		}
	}
	return nil
}

type ollamaPipeline struct {
	loader *OllamaLoader
	model  string
}

func (p *ollamaPipeline) ModelID() string { return p.model }

// Generate は raw モードで続きのテキストだけを生成します。
func (p *ollamaPipeline) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	req := ollamaGenerateRequest{
		Model:     p.model,
		Prompt:    prompt,
		Raw:       true,
		Stream:    false,
		KeepAlive: p.loader.keepAlive,
		Options: &ollamaOptions{
			NumPredict:  opts.MaxNewTokens,
			Temperature: opts.EffectiveTemperature(),
			Seed:        generationSeed,
		},
	}

	var resp ollamaGenerateResponse
	if err := p.loader.post(ctx, "/api/generate", req, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", errors.New(resp.Error)
	}
	if resp.Response == "" {
		return "", ErrEmptyOutput
	}
	return resp.Response, nil
}

// Close は keep_alive=0 を送ってサーバーのメモリからモデルを降ろします。
func (p *ollamaPipeline) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return p.loader.post(ctx, "/api/generate", ollamaGenerateRequest{Model: p.model, KeepAlive: 0}, nil)
}
