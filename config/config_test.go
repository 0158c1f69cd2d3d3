package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("Load() = %+v, want defaults", cfg)
	}
	if got := cfg.Artifacts.YieldModelPath(); got != filepath.Join("models", "crop_yield_model.json") {
		t.Errorf("YieldModelPath() = %q", got)
	}
}

const sampleYAML = `
server:
  addr: ":9000"
  cors_origins: ["https://crops.example.com"]
artifacts:
  model_dir: /srv/models
  recommend_model: /opt/rec.json
cache:
  backend: memory
  size: 50
rules:
  - name: positive_area
    expr: 'op != "predict_yield" || req.area > 0.0'
    message: area must be positive
`

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cropkit.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{name: "addr", got: cfg.Server.Addr, want: ":9000"},
		{name: "cors", got: cfg.Server.CORSOrigins, want: []string{"https://crops.example.com"}},
		{name: "read timeout kept", got: cfg.Server.ReadTimeoutSecs, want: 10},
		{name: "yield model under dir", got: cfg.Artifacts.YieldModelPath(), want: filepath.Join("/srv/models", "crop_yield_model.json")},
		{name: "absolute recommend model", got: cfg.Artifacts.RecommendModelPath(), want: "/opt/rec.json"},
		{name: "cache backend", got: cfg.Cache.Backend, want: "memory"},
		{name: "cache size", got: cfg.Cache.Size, want: 50},
		{name: "cache ttl kept", got: cfg.Cache.TTLSecs, want: 3600},
		{name: "rule count", got: len(cfg.Rules), want: 1},
		{name: "rule message", got: cfg.Rules[0].Message, want: "area must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !reflect.DeepEqual(tt.got, tt.want) {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CROPKIT_ADDR", ":7000")
	t.Setenv("CROPKIT_MODEL_DIR", "/models")
	t.Setenv("CROPKIT_DATA_PATH", "/data/crops.csv")
	t.Setenv("CROPKIT_CACHE_BACKEND", "redis")
	t.Setenv("CROPKIT_REDIS_ADDR", "redis:6379")
	t.Setenv("CROPKIT_RECORDER_BACKEND", "kafka")
	t.Setenv("CROPKIT_KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Artifacts.LabelEncodersPath() != filepath.Join("/models", "label_encoders.json") {
		t.Errorf("LabelEncodersPath() = %q", cfg.Artifacts.LabelEncodersPath())
	}
	if cfg.Artifacts.DatasetPath != "/data/crops.csv" {
		t.Errorf("DatasetPath = %q", cfg.Artifacts.DatasetPath)
	}
	if cfg.Cache.Backend != "redis" || cfg.Cache.RedisAddr != "redis:6379" {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if want := []string{"k1:9092", "k2:9092"}; !reflect.DeepEqual(cfg.Recorder.Kafka.Brokers, want) {
		t.Errorf("Brokers = %v, want %v", cfg.Recorder.Kafka.Brokers, want)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "bad yaml", yaml: "server: ["},
		{name: "unknown cache backend", yaml: "cache:\n  backend: memcached\n"},
		{name: "redis without addr", yaml: "cache:\n  backend: redis\n"},
		{name: "kafka without brokers", yaml: "recorder:\n  backend: kafka\n"},
		{name: "postgres without dsn", yaml: "recorder:\n  backend: postgres\n"},
		{name: "bad ttl env", yaml: "", env: map[string]string{"CROPKIT_CACHE_TTL_SECS": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := filepath.Join(t.TempDir(), "cropkit.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Errorf("Load() expected error")
			}
		})
	}
}
