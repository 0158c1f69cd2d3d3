// Package api 是 HTTP 接入层：路由、请求解析、错误到状态码的映射。
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/rushteam/cropkit/core"
)

// Version 服务版本（首页返回）。
const Version = "1.0.0"

// Predictor 是 HTTP 层依赖的预测服务（由 service.PredictionService 实现）。
type Predictor interface {
	PredictYield(ctx context.Context, req *core.YieldRequest) (*core.YieldResponse, error)
	RecommendCrop(ctx context.Context, req *core.RecommendRequest) (*core.RecommendResponse, error)
	Options(ctx context.Context) (*core.Options, error)
	Health(ctx context.Context) *core.Health
}

// NewRouter 注册全部路由。
func NewRouter(svc Predictor) *mux.Router {
	h := &handlers{svc: svc}

	r := mux.NewRouter()
	r.HandleFunc("/", h.index).Methods(http.MethodGet)
	r.HandleFunc("/api/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/api/options", h.options).Methods(http.MethodGet)
	r.HandleFunc("/api/predict-yield", h.predictYield).Methods(http.MethodPost)
	r.HandleFunc("/api/recommend-crop", h.recommendCrop).Methods(http.MethodPost)
	// 前端历史版本调用的路径
	r.HandleFunc("/recommend-crop", h.recommendCrop).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondWithError(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondWithError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
	return r
}

// NewHandler 返回带 CORS 与访问日志的完整 Handler。
// CORS 在路由之外，预检请求不经过路由匹配。
func NewHandler(svc Predictor, corsOrigins []string) http.Handler {
	return CORS(corsOrigins)(AccessLog(NewRouter(svc)))
}
