package pipeline

import (
	"context"
	"errors"
	"strings"

	"relay/ai"
	"relay/interfaces"
)

// TextModel は GeminiLoader が使う LLM クライアントです。*ai.Client が満たします。
type TextModel interface {
	Verify(ctx context.Context, model string) error
	Generate(ctx context.Context, req ai.Request) (string, error)
}

// GeminiLoader は Gemini API のモデルをパイプラインとして扱います。
type GeminiLoader struct {
	client TextModel
	log    interfaces.Logger
}

func NewGeminiLoader(client TextModel, log interfaces.Logger) *GeminiLoader {
	return &GeminiLoader{client: client, log: log}
}

// Load はモデルが存在することを確認するだけで、ローカルには何も展開しません。
func (l *GeminiLoader) Load(ctx context.Context, req LoadRequest) (Pipeline, error) {
	if strings.TrimSpace(req.ModelID) == "" {
		return nil, errors.New("model id is empty")
	}
	if req.TrustRemoteCode {
		l.log.Warn("trust_remote_code has no effect on the gemini backend", "model", req.ModelID)
	}
	if err := l.client.Verify(ctx, req.ModelID); err != nil {
		return nil, err
	}
	return &geminiPipeline{client: l.client, model: req.ModelID}, nil
}

type geminiPipeline struct {
	client TextModel
	model  string
}

func (p *geminiPipeline) ModelID() string { return p.model }

func (p *geminiPipeline) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	temp := float32(opts.EffectiveTemperature())
	out, err := p.client.Generate(ctx, ai.Request{
		Model:       p.model,
		Prompt:      prompt,
		Temperature: &temp,
		MaxTokens:   opts.MaxNewTokens,
	})
	if errors.Is(err, ai.ErrEmptyResponse) {
		return "", ErrEmptyOutput
	}
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", ErrEmptyOutput
	}
	return out, nil
}

func (p *geminiPipeline) Close() error { return nil }
