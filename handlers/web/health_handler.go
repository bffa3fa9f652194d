package web

import (
	"net/http"

	"relay/pipeline"
)

type HealthHandler struct {
	pipelines *pipeline.Handle
}

func NewHealthHandler(pipelines *pipeline.Handle) *HealthHandler {
	return &HealthHandler{pipelines: pipelines}
}

// Health はサーバーの生存と、ロード中のモデル名を返します。認証は不要です。
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	model := ""
	if p := h.pipelines.Current(); p != nil {
		model = p.ModelID()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "model": model})
}

// CORS は全レスポンスに Access-Control-Allow-Origin を付け、プリフライトに応答します。
func CORS(origin string) func(http.Handler) http.Handler {
	if origin == "" {
		origin = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
