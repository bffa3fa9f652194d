package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"relay/interfaces"
	"relay/pipeline"
	"relay/storage"

	"github.com/google/uuid"
	"github.com/spf13/cast"
)

const (
	defaultMaxTokens   = pipeline.DefaultMaxNewTokens
	defaultTemperature = 0.7
	// リクエスト本文の上限
	maxBodyBytes = 1 << 20
	// 生成エラーをレスポンス本文に埋め込むときの最大文字数
	maxGenerationError = 150

	msgMissingPrompt   = "Bad Request: Missing 'prompt' in JSON payload"
	msgInternalError   = "Internal Server Error"
	msgBodyTooLarge    = "Request Entity Too Large"
	msgEmptyGeneration = "LLM generated an empty or unexpected response structure."
)

// 履歴に残す結果の種類
const (
	outcomeUnauthorized    = "unauthorized"
	outcomeBadRequest      = "bad_request"
	outcomeInternalError   = "internal_error"
	outcomeNoPipeline      = "no_pipeline"
	outcomeGenerated       = "generated"
	outcomeEmptyGeneration = "empty_generation"
	outcomeGenerationError = "generation_error"
)

// InferenceRequest は /generate のリクエストです。
type InferenceRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// InferenceResponse は成功時のレスポンスです。
type InferenceResponse struct {
	Response string `json:"response"`
}

// ErrorResponse は失敗時のレスポンスです。
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// GenerateHandler は POST /generate を処理します。
// 共有するのは読み取り専用のパイプラインハンドルだけなので、並行に呼び出せます。
type GenerateHandler struct {
	log       interfaces.Logger
	auth      *AuthHandler
	pipelines *pipeline.Handle
	history   interfaces.HistoryStore
}

func NewGenerateHandler(log interfaces.Logger, apiKey string, pipelines *pipeline.Handle, history interfaces.HistoryStore) *GenerateHandler {
	if history == nil {
		history = storage.NopStore{}
	}
	return &GenerateHandler{
		log:       log,
		auth:      NewAuthHandler(apiKey),
		pipelines: pipelines,
		history:   history,
	}
}

// requestError は生成に到達する前の失敗です。
type requestError struct {
	status  int
	message string
	details string
}

func (e *requestError) Error() string {
	if e.details != "" {
		return e.message + ": " + e.details
	}
	return e.message
}

func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := storage.InferenceRecord{RequestID: uuid.NewString()}
	log := h.log

	defer func() {
		if p := recover(); p != nil {
			log.Error("Panic in /generate endpoint", "request_id", rec.RequestID, "panic", p, "stack", string(debug.Stack()))
			rec.Status, rec.Outcome = http.StatusInternalServerError, outcomeInternalError
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: msgInternalError, Details: fmt.Sprint(p)})
		}
		rec.Duration = time.Since(start)
		if err := h.history.RecordInference(rec); err != nil {
			log.Warn("Failed to record inference history", "request_id", rec.RequestID, "error", err)
		}
	}()

	if msg := h.auth.Check(r); msg != "" {
		rec.Status, rec.Outcome = http.StatusUnauthorized, outcomeUnauthorized
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: msg})
		return
	}

	req, err := decodeInferenceRequest(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var reqErr *requestError
		if !errors.As(err, &reqErr) {
			reqErr = &requestError{status: http.StatusInternalServerError, message: msgInternalError, details: err.Error()}
		}
		if reqErr.status == http.StatusInternalServerError {
			log.Error("Error in /generate endpoint", "request_id", rec.RequestID, "error", err)
			rec.Outcome = outcomeInternalError
		} else {
			rec.Outcome = outcomeBadRequest
		}
		rec.Status = reqErr.status
		writeJSON(w, reqErr.status, ErrorResponse{Error: reqErr.message, Details: reqErr.details})
		return
	}
	rec.PromptChars = len([]rune(req.Prompt))

	text, outcome, model := h.respond(r, req, rec.RequestID)
	rec.Status, rec.Outcome, rec.Model = http.StatusOK, outcome, model
	rec.ResponseChars = len([]rune(text))
	writeJSON(w, http.StatusOK, InferenceResponse{Response: text})
}

// respond はパイプラインを呼び出し、レスポンス本文・結果の種類・モデル名を返します。
// 生成時のエラーはすべて本文に埋め込み、HTTPステータスは常に200です。
func (h *GenerateHandler) respond(r *http.Request, req InferenceRequest, requestID string) (string, string, string) {
	p := h.pipelines.Current()
	if p == nil {
		return fmt.Sprintf("LLM is not currently loaded on this server. Received: Prompt='%s'.", req.Prompt), outcomeNoPipeline, ""
	}

	opts := pipeline.NewGenerateOptions(req.MaxTokens, req.Temperature)
	h.log.Info("LLM request",
		"request_id", requestID,
		"model", p.ModelID(),
		"prompt", truncate(req.Prompt, 100),
		"max_new_tokens", opts.MaxNewTokens,
		"temperature", req.Temperature,
		"do_sample", opts.DoSample,
	)

	generated, err := safeGenerate(r, p, req.Prompt, opts)
	if errors.Is(err, pipeline.ErrEmptyOutput) {
		return msgEmptyGeneration, outcomeEmptyGeneration, p.ModelID()
	}
	if err != nil {
		h.log.Error("Error during LLM generation", "request_id", requestID, "model", p.ModelID(), "error", err)
		return "Error with LLM: " + truncate(err.Error(), maxGenerationError), outcomeGenerationError, p.ModelID()
	}

	text := ExtractContinuation(req.Prompt, generated)
	h.log.Info("LLM response", "request_id", requestID, "generated", truncate(text, 200))
	return text, outcomeGenerated, p.ModelID()
}

// パイプライン内部のpanicも生成エラーとして扱う
func safeGenerate(r *http.Request, p pipeline.Pipeline, prompt string, opts pipeline.GenerateOptions) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()
	return p.Generate(r.Context(), prompt, opts)
}

// ExtractContinuation は生成テキストがプロンプトで始まり、それより長い場合だけ
// プロンプト部分を取り除いて前後の空白を落とします。それ以外は生成テキストをそのまま返します。
func ExtractContinuation(prompt, generated string) string {
	if strings.HasPrefix(generated, prompt) && len(prompt) < len(generated) {
		return strings.TrimSpace(generated[len(prompt):])
	}
	return generated
}

func decodeInferenceRequest(body io.Reader) (InferenceRequest, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return InferenceRequest{}, &requestError{status: http.StatusRequestEntityTooLarge, message: msgBodyTooLarge}
		}
		return InferenceRequest{}, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return InferenceRequest{}, &requestError{status: http.StatusBadRequest, message: msgMissingPrompt}
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return InferenceRequest{}, &requestError{status: http.StatusInternalServerError, message: msgInternalError, details: err.Error()}
	}
	data, ok := payload.(map[string]any)
	if !ok {
		return InferenceRequest{}, &requestError{status: http.StatusBadRequest, message: msgMissingPrompt}
	}
	prompt, ok := data["prompt"].(string)
	if !ok || prompt == "" {
		return InferenceRequest{}, &requestError{status: http.StatusBadRequest, message: msgMissingPrompt}
	}

	req := InferenceRequest{Prompt: prompt, MaxTokens: defaultMaxTokens, Temperature: defaultTemperature}
	if v, ok := data["max_tokens"]; ok && v != nil {
		n, err := cast.ToIntE(v)
		if err != nil {
			return InferenceRequest{}, &requestError{status: http.StatusInternalServerError, message: msgInternalError, details: "max_tokens: " + err.Error()}
		}
		req.MaxTokens = n
	}
	if v, ok := data["temperature"]; ok && v != nil {
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return InferenceRequest{}, &requestError{status: http.StatusInternalServerError, message: msgInternalError, details: "temperature: " + err.Error()}
		}
		req.Temperature = f
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
