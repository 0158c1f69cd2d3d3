package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/rushteam/cropkit/catalog"
	"github.com/rushteam/cropkit/core"
	"github.com/rushteam/cropkit/feature"
	"github.com/rushteam/cropkit/model"
	"github.com/rushteam/cropkit/pkg/dsl"
	"github.com/rushteam/cropkit/store"
)

func testEncoder(t *testing.T) *feature.LabelEncoder {
	t.Helper()
	enc, err := feature.NewLabelEncoder(map[string][]string{
		feature.ColumnState:    {"Karnataka", "Kerala", "Punjab"},
		feature.ColumnDistrict: {"Idukki", "Ludhiana", "Mysuru", "Wayanad"},
		feature.ColumnSeason:   {"Kharif", "Rabi", "Whole Year"},
		feature.ColumnCrop:     {"Arecanut", "Banana", "Rice", "Wheat"},
	})
	if err != nil {
		t.Fatalf("NewLabelEncoder() error = %v", err)
	}
	return enc
}

// crop_code <= 1.5 -> 50，否则 245.5
func testYieldModel(t *testing.T) *model.RandomForestRegressor {
	t.Helper()
	m, err := model.NewRandomForestRegressor(5, feature.YieldColumns, []model.Tree{{
		ChildrenLeft:  []int{1, -1, -1},
		ChildrenRight: []int{2, -1, -1},
		Feature:       []int{3, -2, -2},
		Threshold:     []float64{1.5, -2, -2},
		Value:         [][]float64{{0}, {50}, {245.5}},
	}})
	if err != nil {
		t.Fatalf("NewRandomForestRegressor() error = %v", err)
	}
	return m
}

// rainfall <= 150 -> maize 为主，否则 rice 为主
func testRecommendModel(t *testing.T) *model.RandomForestClassifier {
	t.Helper()
	m, err := model.NewRandomForestClassifier(7, feature.RecommendationColumns, []string{"maize", "rice"}, []model.Tree{
		{
			ChildrenLeft:  []int{1, -1, -1},
			ChildrenRight: []int{2, -1, -1},
			Feature:       []int{6, -2, -2},
			Threshold:     []float64{150, -2, -2},
			Value:         [][]float64{{0, 0}, {9, 1}, {1, 9}},
		},
		{
			ChildrenLeft:  []int{1, -1, -1},
			ChildrenRight: []int{2, -1, -1},
			Feature:       []int{6, -2, -2},
			Threshold:     []float64{150, -2, -2},
			Value:         [][]float64{{0, 0}, {1, 0}, {0.3, 0.7}},
		},
	})
	if err != nil {
		t.Fatalf("NewRandomForestClassifier() error = %v", err)
	}
	return m
}

func testArtifacts(t *testing.T) *Artifacts {
	t.Helper()
	d, err := catalog.ReadCropDataset(strings.NewReader(
		"State_Name,District_Name,Season,Crop\nKerala,Wayanad,Kharif,Rice\nPunjab,Ludhiana,Rabi,Wheat\n"))
	if err != nil {
		t.Fatalf("ReadCropDataset() error = %v", err)
	}
	return &Artifacts{
		YieldModel:     testYieldModel(t),
		Encoders:       testEncoder(t),
		RecommendModel: testRecommendModel(t),
		Dataset:        d,
	}
}

var (
	keralaRice   = &core.YieldRequest{State: "Kerala", District: "Wayanad", Season: "Kharif", Crop: "Rice", Area: 100}
	riceFarmSoil = &core.RecommendRequest{Nitrogen: 90, Phosphorus: 42, Potassium: 43, Temperature: 20.8, Humidity: 82, PH: 6.5, Rainfall: 202.9}
)

func TestPredictionService_PredictYield(t *testing.T) {
	svc := NewPredictionService(testArtifacts(t))
	ctx := context.Background()

	tests := []struct {
		name    string
		req     *core.YieldRequest
		want    float64
		wantMsg string
	}{
		{
			name:    "in vocabulary",
			req:     keralaRice,
			want:    245.5,
			wantMsg: "Predicted yield for Rice in Wayanad, Kerala",
		},
		{
			name:    "unknown crop falls back to first class",
			req:     &core.YieldRequest{State: "Kerala", District: "Wayanad", Season: "Kharif", Crop: "Mango", Area: 10},
			want:    50,
			wantMsg: "Predicted yield for Mango in Wayanad, Kerala",
		},
		{
			name:    "negative area is not validated",
			req:     &core.YieldRequest{State: "Atlantis", District: "Nowhere", Season: "Monsoon", Crop: "Wheat", Area: -5},
			want:    245.5,
			wantMsg: "Predicted yield for Wheat in Nowhere, Atlantis",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := svc.PredictYield(ctx, tt.req)
			if err != nil {
				t.Fatalf("PredictYield() error = %v", err)
			}
			if resp.Prediction != tt.want || math.IsNaN(resp.Prediction) {
				t.Errorf("Prediction = %v, want %v", resp.Prediction, tt.want)
			}
			if resp.Unit != "tonnes" {
				t.Errorf("Unit = %q", resp.Unit)
			}
			if resp.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", resp.Message, tt.wantMsg)
			}
		})
	}
}

func TestPredictionService_PredictYieldErrors(t *testing.T) {
	ctx := context.Background()
	partialEnc, err := feature.NewLabelEncoder(map[string][]string{feature.ColumnState: {"Kerala"}})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		mutate    func(a *Artifacts)
		req       *core.YieldRequest
		wantCode  string
		wantStage string
		wantMsg   string
	}{
		{
			name:     "model not loaded",
			mutate:   func(a *Artifacts) { a.YieldModel = nil },
			req:      keralaRice,
			wantCode: core.ErrorCodeUnavailable,
			wantMsg:  "Model not loaded",
		},
		{
			name:     "encoders not loaded",
			mutate:   func(a *Artifacts) { a.Encoders = nil },
			req:      keralaRice,
			wantCode: core.ErrorCodeUnavailable,
			wantMsg:  "Model not loaded",
		},
		{
			name:      "missing encoder column",
			mutate:    func(a *Artifacts) { a.Encoders = partialEnc },
			req:       keralaRice,
			wantCode:  core.ErrorCodeInvalidInput,
			wantStage: core.StageFeature,
			wantMsg:   "Prediction error: ",
		},
		{
			name:      "model rejects input",
			mutate:    func(a *Artifacts) {},
			req:       &core.YieldRequest{State: "Kerala", District: "Wayanad", Season: "Kharif", Crop: "Rice", Area: 1e300},
			wantCode:  core.ErrorCodeInvalidInput,
			wantStage: core.StageModel,
			wantMsg:   "Prediction error: ",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testArtifacts(t)
			tt.mutate(a)
			_, err := NewPredictionService(a).PredictYield(ctx, tt.req)
			de := core.GetDomainError(err)
			if de == nil {
				t.Fatalf("PredictYield() error = %v, want DomainError", err)
			}
			if de.Code != tt.wantCode || de.Stage != tt.wantStage {
				t.Errorf("Code/Stage = %s/%s, want %s/%s", de.Code, de.Stage, tt.wantCode, tt.wantStage)
			}
			if !strings.HasPrefix(de.Message, tt.wantMsg) {
				t.Errorf("Message = %q, want prefix %q", de.Message, tt.wantMsg)
			}
		})
	}
}

type plainClassifier struct {
	label string
	err   error
}

func (c plainClassifier) Predict(features []float64) (string, error) { return c.label, c.err }

func TestPredictionService_RecommendCrop(t *testing.T) {
	ctx := context.Background()

	t.Run("with probabilities", func(t *testing.T) {
		resp, err := NewPredictionService(testArtifacts(t)).RecommendCrop(ctx, riceFarmSoil)
		if err != nil {
			t.Fatalf("RecommendCrop() error = %v", err)
		}
		if resp.RecommendedCrop != "rice" {
			t.Errorf("RecommendedCrop = %q", resp.RecommendedCrop)
		}
		if math.Abs(resp.Confidence-0.8) > 1e-9 {
			t.Errorf("Confidence = %v, want 0.8", resp.Confidence)
		}
		if resp.Message != "Recommended crop based on soil and environmental conditions" {
			t.Errorf("Message = %q", resp.Message)
		}
	})

	t.Run("without probabilities", func(t *testing.T) {
		a := testArtifacts(t)
		a.RecommendModel = plainClassifier{label: "maize"}
		resp, err := NewPredictionService(a).RecommendCrop(ctx, riceFarmSoil)
		if err != nil {
			t.Fatalf("RecommendCrop() error = %v", err)
		}
		if resp.RecommendedCrop != "maize" || resp.Confidence != 0 {
			t.Errorf("resp = %+v, want maize with confidence 0", resp)
		}
	})

	t.Run("model error", func(t *testing.T) {
		a := testArtifacts(t)
		a.RecommendModel = plainClassifier{err: errors.New("boom")}
		_, err := NewPredictionService(a).RecommendCrop(ctx, riceFarmSoil)
		if !core.IsInvalidInput(err) || err.Error() != "Recommendation error: boom" {
			t.Errorf("RecommendCrop() error = %v", err)
		}
	})

	t.Run("not loaded", func(t *testing.T) {
		a := testArtifacts(t)
		a.RecommendModel = nil
		_, err := NewPredictionService(a).RecommendCrop(ctx, riceFarmSoil)
		if !core.IsUnavailable(err) || err.Error() != "Recommendation model not loaded" {
			t.Errorf("RecommendCrop() error = %v", err)
		}
	})
}

func TestPredictionService_OptionsAndHealth(t *testing.T) {
	ctx := context.Background()
	a := testArtifacts(t)
	svc := NewPredictionService(a)

	opts, err := svc.Options(ctx)
	if err != nil {
		t.Fatalf("Options() error = %v", err)
	}
	if strings.Join(opts.States, ",") != "Kerala,Punjab" || strings.Join(opts.Crops, ",") != "Rice,Wheat" {
		t.Errorf("Options() = %+v", opts)
	}

	h := svc.Health(ctx)
	if h.Status != "healthy" || len(h.ModelsLoaded) != 3 || !h.ModelsLoaded["crop_yield"] {
		t.Errorf("Health() = %+v", h)
	}

	degraded := NewPredictionService(&Artifacts{Encoders: a.Encoders})
	if _, err := degraded.Options(ctx); !core.IsUnavailable(err) || err.Error() != "Data not loaded" {
		t.Errorf("Options() error = %v", err)
	}
	h = degraded.Health(ctx)
	want := map[string]bool{"crop_yield": false, "crop_recommendation": false, "label_encoders": true}
	for k, v := range want {
		if h.ModelsLoaded[k] != v {
			t.Errorf("ModelsLoaded[%s] = %v, want %v", k, h.ModelsLoaded[k], v)
		}
	}
	if h.Status != "healthy" {
		t.Errorf("Status = %q", h.Status)
	}
}

func TestPredictionService_DegradedOperationsAreIndependent(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name          string
		unset         func(a *Artifacts)
		yieldDown     bool
		recommendDown bool
		optionsDown   bool
	}{
		{name: "yield model", unset: func(a *Artifacts) { a.YieldModel = nil }, yieldDown: true},
		{name: "label encoders", unset: func(a *Artifacts) { a.Encoders = nil }, yieldDown: true},
		{name: "recommendation model", unset: func(a *Artifacts) { a.RecommendModel = nil }, recommendDown: true},
		{name: "dataset", unset: func(a *Artifacts) { a.Dataset = nil }, optionsDown: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testArtifacts(t)
			tt.unset(a)
			svc := NewPredictionService(a)

			check := func(op string, down bool, err error) {
				t.Helper()
				if down {
					if !core.IsUnavailable(err) {
						t.Errorf("%s error = %v, want UNAVAILABLE", op, err)
					}
					return
				}
				if err != nil {
					t.Errorf("%s error = %v, want success", op, err)
				}
			}
			_, err := svc.PredictYield(ctx, keralaRice)
			check("PredictYield", tt.yieldDown, err)
			_, err = svc.RecommendCrop(ctx, riceFarmSoil)
			check("RecommendCrop", tt.recommendDown, err)
			_, err = svc.Options(ctx)
			check("Options", tt.optionsDown, err)

			if h := svc.Health(ctx); h.Status != "healthy" {
				t.Errorf("Health() = %+v", h)
			}
		})
	}
}

// 用 -race 运行：制品只读，请求之间不加锁
func TestPredictionService_ConcurrentRequests(t *testing.T) {
	ctx := context.Background()
	cache, err := store.NewMemoryStore(8)
	if err != nil {
		t.Fatal(err)
	}
	rec := &memRecorder{}
	svc := NewPredictionService(testArtifacts(t), WithCache(cache, 60), WithRecorder(rec))

	const workers = 16
	const rounds = 20
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				req := *keralaRice
				req.Area = float64(w%4 + 1)
				resp, err := svc.PredictYield(ctx, &req)
				if err != nil || resp.Prediction != 245.5 {
					t.Errorf("PredictYield() = %+v, %v", resp, err)
					return
				}
				rc, err := svc.RecommendCrop(ctx, riceFarmSoil)
				if err != nil || rc.RecommendedCrop != "rice" {
					t.Errorf("RecommendCrop() = %+v, %v", rc, err)
					return
				}
				opts, err := svc.Options(ctx)
				if err != nil || len(opts.Crops) != 2 {
					t.Errorf("Options() = %+v, %v", opts, err)
					return
				}
				opts.Crops[0] = "mutated"
				svc.Health(ctx)
			}
		}(w)
	}
	wg.Wait()

	if got := len(rec.events); got != 2*workers*rounds {
		t.Errorf("recorded %d events, want %d", got, 2*workers*rounds)
	}
	opts, err := svc.Options(ctx)
	if err != nil || opts.Crops[0] != "Rice" {
		t.Errorf("Options() after concurrent callers = %+v, %v", opts, err)
	}
}

type countingRegressor struct {
	calls int
	value float64
}

func (r *countingRegressor) Predict(features []float64) (float64, error) {
	r.calls++
	return r.value, nil
}

type memRecorder struct {
	mu     sync.Mutex
	events []*core.PredictionEvent
	err    error
}

func (r *memRecorder) Record(ctx context.Context, e *core.PredictionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *memRecorder) Close() error { return nil }

func TestPredictionService_CacheAndRecorder(t *testing.T) {
	ctx := context.Background()
	a := testArtifacts(t)
	reg := &countingRegressor{value: 12.5}
	a.YieldModel = reg

	cache, err := store.NewMemoryStore(10)
	if err != nil {
		t.Fatal(err)
	}
	rec := &memRecorder{err: errors.New("recorder down")}
	svc := NewPredictionService(a, WithCache(cache, 60), WithRecorder(rec))

	for i := 0; i < 3; i++ {
		resp, err := svc.PredictYield(ctx, keralaRice)
		if err != nil {
			t.Fatalf("PredictYield() error = %v", err)
		}
		if resp.Prediction != 12.5 {
			t.Errorf("Prediction = %v", resp.Prediction)
		}
	}
	if reg.calls != 1 {
		t.Errorf("model called %d times, want 1", reg.calls)
	}
	if len(rec.events) != 3 {
		t.Fatalf("recorded %d events, want 3", len(rec.events))
	}
	e := rec.events[0]
	if e.Op != core.OpPredictYield || e.Value != 12.5 || len(e.Features) != 5 {
		t.Errorf("event = %+v", e)
	}

	other := *keralaRice
	other.Area = 200
	if _, err := svc.PredictYield(ctx, &other); err != nil {
		t.Fatal(err)
	}
	if reg.calls != 2 {
		t.Errorf("different request should miss the cache, calls = %d", reg.calls)
	}

	if _, err := svc.RecommendCrop(ctx, riceFarmSoil); err != nil {
		t.Fatal(err)
	}
	resp, err := svc.RecommendCrop(ctx, riceFarmSoil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.RecommendedCrop != "rice" || math.Abs(resp.Confidence-0.8) > 1e-9 {
		t.Errorf("cached RecommendCrop() = %+v", resp)
	}
}

func TestPredictionService_Rules(t *testing.T) {
	rules, err := dsl.Compile([]dsl.Rule{
		{Name: "positive_area", Expr: `op != "predict_yield" || req.area > 0.0`, Message: "area must be positive"},
	})
	if err != nil {
		t.Fatal(err)
	}
	svc := NewPredictionService(testArtifacts(t), WithRules(rules))
	ctx := context.Background()

	bad := *keralaRice
	bad.Area = 0
	_, err = svc.PredictYield(ctx, &bad)
	if de := core.GetDomainError(err); de == nil || de.Stage != core.StageRule || de.Message != "area must be positive" {
		t.Errorf("PredictYield() error = %v", err)
	}
	if _, err := svc.PredictYield(ctx, keralaRice); err != nil {
		t.Errorf("PredictYield() error = %v", err)
	}
	if _, err := svc.RecommendCrop(ctx, riceFarmSoil); err != nil {
		t.Errorf("RecommendCrop() error = %v", err)
	}
}

func TestCacheKey(t *testing.T) {
	a := cacheKey(core.OpPredictYield, keralaRice)
	b := cacheKey(core.OpPredictYield, &core.YieldRequest{State: "Kerala", District: "Wayanad", Season: "Kharif", Crop: "Rice", Area: 100})
	if a != b {
		t.Errorf("equal requests give different keys: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "cropkit:predict_yield:") || len(a) != len("cropkit:predict_yield:")+40 {
		t.Errorf("cacheKey() = %q", a)
	}
	if a == cacheKey(core.OpRecommendCrop, keralaRice) {
		t.Errorf("op is not part of the key")
	}
}
