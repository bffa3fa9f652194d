// Package pipeline はテキスト生成パイプラインと、それを保持するプロセス内で唯一のハンドルを提供します。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"relay/interfaces"
)

// ErrEmptyOutput はパイプラインが生成結果を返さなかったことを示します。
var ErrEmptyOutput = errors.New("pipeline returned no generated text")

// サンプリングを有効にする温度のしきい値
const samplingThreshold = 0.01

// DefaultMaxNewTokens は生成トークン数の既定値です。0 以下が指定されたときにも使います。
const DefaultMaxNewTokens = 75

// GenerateOptions は1回の生成に渡すパラメータです。
type GenerateOptions struct {
	MaxNewTokens       int
	Temperature        float64
	DoSample           bool
	NumReturnSequences int
}

// NewGenerateOptions は温度からサンプリングの有無を決めたオプションを返します。
func NewGenerateOptions(maxNewTokens int, temperature float64) GenerateOptions {
	// Ollama の num_predict は負の値で無制限になる
	if maxNewTokens <= 0 {
		maxNewTokens = DefaultMaxNewTokens
	}
	return GenerateOptions{
		MaxNewTokens:       maxNewTokens,
		Temperature:        temperature,
		DoSample:           temperature > samplingThreshold,
		NumReturnSequences: 1,
	}
}

// EffectiveTemperature はバックエンドに渡す温度です。サンプリングしない場合は 0（貪欲法）になります。
func (o GenerateOptions) EffectiveTemperature() float64 {
	if !o.DoSample || o.Temperature <= 0 {
		return 0
	}
	return o.Temperature
}

// Pipeline はロード済みのモデルとトークナイザの組です。
type Pipeline interface {
	ModelID() string
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	Close() error
}

// LoadRequest はロードするモデルの指定です。
type LoadRequest struct {
	ModelID         string
	TrustRemoteCode bool
}

// Loader はモデルをロードして Pipeline を返します。
type Loader interface {
	Load(ctx context.Context, req LoadRequest) (Pipeline, error)
}

type slot struct {
	p Pipeline
}

// Handle は現在のパイプラインへの唯一の参照を保持します。
// 読み取りはロックなしで行え、ロードとアンロードは排他的に行われます。
type Handle struct {
	mu      sync.Mutex
	current atomic.Pointer[slot]
	log     interfaces.Logger
}

// NewHandle は空のハンドルを作成します。
func NewHandle(log interfaces.Logger) *Handle {
	return &Handle{log: log}
}

// Current は現在のパイプラインを返します。ロードされていなければ nil です。
func (h *Handle) Current() Pipeline {
	if s := h.current.Load(); s != nil {
		return s.p
	}
	return nil
}

// Load は現在のパイプラインを解放してから新しいモデルをロードします。
// 失敗した場合、ハンドルは空のままです。
func (h *Handle) Load(ctx context.Context, loader Loader, req LoadRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.release()

	h.log.Info("Loading pipeline", "model", req.ModelID, "trust_remote_code", req.TrustRemoteCode)
	p, err := loader.Load(ctx, req)
	if err != nil {
		return fmt.Errorf("could not load pipeline for %s: %w", req.ModelID, err)
	}
	if p == nil {
		return fmt.Errorf("could not load pipeline for %s: loader returned nothing", req.ModelID)
	}
	h.current.Store(&slot{p: p})
	h.log.Info("Pipeline ready", "model", p.ModelID())
	return nil
}

// Unload は現在のパイプラインを解放します。
func (h *Handle) Unload() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.release()
}

// h.mu を保持した状態で呼ぶこと
func (h *Handle) release() {
	s := h.current.Swap(nil)
	if s == nil {
		return
	}
	if err := s.p.Close(); err != nil {
		h.log.Warn("Error while releasing pipeline", "model", s.p.ModelID(), "error", err)
		return
	}
	h.log.Info("Released pipeline", "model", s.p.ModelID())
}
