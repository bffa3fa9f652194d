package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Request は1回のテキスト生成の入力です。
type Request struct {
	// Model が空の場合はクライアントのデフォルトモデルを使います。
	Model       string
	System      string
	Prompt      string
	Temperature *float32
	MaxTokens   int
	// JSON を true にすると application/json での応答を要求します。
	JSON bool
}

// ErrEmptyResponse はモデルがテキストを返さなかったことを示します。
var ErrEmptyResponse = errors.New("AIから有効な応答がありませんでした")

// Options はクライアント作成時の設定です。
type Options struct {
	APIKey string
	Model  string
	// BaseURL はテスト用にAPIの接続先を差し替えます。
	BaseURL string
}

// Client はGeminiとのやり取りを管理します。
type Client struct {
	genaiClient *genai.Client
	model       string
}

// NewClient は新しいAIクライアントを作成します。
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("Google AI APIキーが設定されていません")
	}
	if opts.Model == "" {
		return nil, errors.New("モデル名が設定されていません")
	}

	cfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	genaiClient, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("GenAIクライアントの作成に失敗しました: %w", err)
	}
	return &Client{genaiClient: genaiClient, model: opts.Model}, nil
}

// Model はデフォルトのモデル名を返します。
func (c *Client) Model() string {
	return c.model
}

// Verify はモデルが利用可能かを確認します。
func (c *Client) Verify(ctx context.Context, model string) error {
	if model == "" {
		model = c.model
	}
	if _, err := c.genaiClient.Models.Get(ctx, model, nil); err != nil {
		return fmt.Errorf("モデル %s を取得できませんでした: %w", model, err)
	}
	return nil
}

// Generate は、与えられたプロンプトに基づいてテキストを生成します。
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:    req.Temperature,
		CandidateCount: 1,
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := c.genaiClient.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("テキスト生成に失敗しました: %w", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Float32 は Request.Temperature 用のヘルパーです。
func Float32(v float32) *float32 {
	return &v
}
