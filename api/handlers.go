package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/rushteam/cropkit/core"
)

// maxBodyBytes 请求体上限
const maxBodyBytes = 1 << 20

var (
	yieldFields     = []string{"state", "district", "season", "crop", "area"}
	recommendFields = []string{"nitrogen", "phosphorus", "potassium", "temperature", "humidity", "ph", "rainfall"}
)

type handlers struct {
	svc Predictor
}

type indexResponse struct {
	Message   string            `json:"message"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

func (h *handlers) index(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, indexResponse{
		Message: "Crop Yield Prediction API",
		Version: Version,
		Endpoints: map[string]string{
			"predict_yield":  "/api/predict-yield",
			"recommend_crop": "/api/recommend-crop",
			"get_options":    "/api/options",
		},
	})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.svc.Health(r.Context()))
}

func (h *handlers) options(w http.ResponseWriter, r *http.Request) {
	opts, err := h.svc.Options(r.Context())
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, opts)
}

func (h *handlers) predictYield(w http.ResponseWriter, r *http.Request) {
	var req core.YieldRequest
	if err := decodeRequest(r, yieldFields, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	resp, err := h.svc.PredictYield(r.Context(), &req)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *handlers) recommendCrop(w http.ResponseWriter, r *http.Request) {
	var req core.RecommendRequest
	if err := decodeRequest(r, recommendFields, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	resp, err := h.svc.RecommendCrop(r.Context(), &req)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// decodeRequest 解析 JSON 请求体，required 中的字段必须出现且不为 null。
func decodeRequest(r *http.Request, required []string, out any) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return err
	}
	for _, f := range required {
		if v, ok := raw[f]; !ok || string(v) == "null" {
			return fmt.Errorf("missing field %q", f)
		}
	}
	return json.Unmarshal(body, out)
}

// StatusCode 将领域错误映射为 HTTP 状态码。
func StatusCode(err error) int {
	switch {
	case core.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case core.IsInvalidInput(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondWithDomainError(w http.ResponseWriter, err error) {
	de := core.GetDomainError(err)
	if de == nil {
		log.Printf("[api] unexpected error: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if de.Stage != "" {
		log.Printf("[api] %s %s (stage=%s): %v", de.Module, de.Code, de.Stage, de.Cause)
	}
	respondWithError(w, StatusCode(err), de.Message)
}

// helper functions

func respondWithError(w http.ResponseWriter, code int, message string) {
	log.Println("error: ", message)
	respondWithJSON(w, code, map[string]string{"detail": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) error {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Println(err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"detail":"Internal Server Error"}`))
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)

	return nil
}
