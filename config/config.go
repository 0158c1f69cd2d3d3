// Package config 加载服务配置：YAML 文件 + CROPKIT_* 环境变量覆盖。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/cropkit/pkg/dsl"
)

// ServerConfig HTTP 服务配置。
type ServerConfig struct {
	Addr                string   `yaml:"addr"`
	ReadTimeoutSecs     int      `yaml:"read_timeout_secs"`
	WriteTimeoutSecs    int      `yaml:"write_timeout_secs"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs"`
	CORSOrigins         []string `yaml:"cors_origins"`
}

// ArtifactsConfig 模型制品与数据集路径。模型文件名为相对 ModelDir 的路径（绝对路径原样使用）。
type ArtifactsConfig struct {
	ModelDir       string `yaml:"model_dir"`
	YieldModel     string `yaml:"yield_model"`
	LabelEncoders  string `yaml:"label_encoders"`
	RecommendModel string `yaml:"recommend_model"`
	DatasetPath    string `yaml:"dataset_path"`
}

// CacheConfig 预测结果缓存。
type CacheConfig struct {
	Backend   string `yaml:"backend"` // none | memory | redis
	Size      int    `yaml:"size"`
	TTLSecs   int    `yaml:"ttl_secs"`
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
}

// KafkaConfig 预测日志的 Kafka 配置。
type KafkaConfig struct {
	Brokers         []string `yaml:"brokers"`
	Topic           string   `yaml:"topic"`
	BatchSize       int      `yaml:"batch_size"`
	FlushIntervalMs int      `yaml:"flush_interval_ms"`
	Compression     string   `yaml:"compression"`
}

// RecorderConfig 预测日志。
type RecorderConfig struct {
	Backend     string      `yaml:"backend"` // none | kafka | postgres
	Kafka       KafkaConfig `yaml:"kafka"`
	PostgresDSN string      `yaml:"postgres_dsn"`
}

// AppConfig 是服务的根配置。
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Cache     CacheConfig     `yaml:"cache"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Rules     []dsl.Rule      `yaml:"rules"`
}

// DefaultCORSOrigins 默认允许的前端来源（本地开发与 Docker 部署）。
var DefaultCORSOrigins = []string{
	"http://localhost:5173",
	"http://localhost:5174",
	"http://localhost:3000",
	"http://localhost",
	"http://localhost:80",
}

// Default 返回默认配置。
func Default() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Addr:                ":8000",
			ReadTimeoutSecs:     10,
			WriteTimeoutSecs:    10,
			ShutdownTimeoutSecs: 10,
			CORSOrigins:         append([]string(nil), DefaultCORSOrigins...),
		},
		Artifacts: ArtifactsConfig{
			ModelDir:       "models",
			YieldModel:     "crop_yield_model.json",
			LabelEncoders:  "label_encoders.json",
			RecommendModel: "crop_recommendation_model.json",
			DatasetPath:    "../ml/crop_production.csv",
		},
		Cache: CacheConfig{
			Backend: "none",
			Size:    10000,
			TTLSecs: 3600,
		},
		Recorder: RecorderConfig{
			Backend: "none",
			Kafka: KafkaConfig{
				Topic:           "cropkit-predictions",
				BatchSize:       100,
				FlushIntervalMs: 1000,
			},
		},
	}
}

// Load 读取配置文件，文件不存在时使用默认配置；之后应用 CROPKIT_* 环境变量。
// 文件中未出现的字段保持默认值。
func Load(path string) (*AppConfig, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse yaml: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read file: %w", err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 用环境变量覆盖配置。
func applyEnv(cfg *AppConfig) error {
	if v := os.Getenv("CROPKIT_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("CROPKIT_MODEL_DIR"); v != "" {
		cfg.Artifacts.ModelDir = v
	}
	if v := os.Getenv("CROPKIT_DATA_PATH"); v != "" {
		cfg.Artifacts.DatasetPath = v
	}
	if v := os.Getenv("CROPKIT_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("CROPKIT_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("CROPKIT_CACHE_TTL_SECS"); v != "" {
		ttl, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CROPKIT_CACHE_TTL_SECS: %w", err)
		}
		cfg.Cache.TTLSecs = ttl
	}
	if v := os.Getenv("CROPKIT_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("CROPKIT_RECORDER_BACKEND"); v != "" {
		cfg.Recorder.Backend = v
	}
	if v := os.Getenv("CROPKIT_KAFKA_BROKERS"); v != "" {
		cfg.Recorder.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("CROPKIT_POSTGRES_DSN"); v != "" {
		cfg.Recorder.PostgresDSN = v
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate 校验枚举字段与必需的连接参数。
func (c *AppConfig) Validate() error {
	switch c.Cache.Backend {
	case "", "none", "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return errors.New("cache.redis_addr is required for redis cache")
		}
	default:
		return fmt.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}
	switch c.Recorder.Backend {
	case "", "none":
	case "kafka":
		if len(c.Recorder.Kafka.Brokers) == 0 {
			return errors.New("recorder.kafka.brokers is required for kafka recorder")
		}
	case "postgres":
		if c.Recorder.PostgresDSN == "" {
			return errors.New("recorder.postgres_dsn is required for postgres recorder")
		}
	default:
		return fmt.Errorf("unknown recorder.backend %q", c.Recorder.Backend)
	}
	return nil
}

func (a ArtifactsConfig) resolve(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(a.ModelDir, name)
}

// YieldModelPath 产量模型文件路径。
func (a ArtifactsConfig) YieldModelPath() string { return a.resolve(a.YieldModel) }

// LabelEncodersPath 编码器文件路径。
func (a ArtifactsConfig) LabelEncodersPath() string { return a.resolve(a.LabelEncoders) }

// RecommendModelPath 推荐模型文件路径。
func (a ArtifactsConfig) RecommendModelPath() string { return a.resolve(a.RecommendModel) }

// Duration 将秒数转换为 time.Duration。
func Duration(secs int) time.Duration {
	return time.Duration(secs) * time.Second
}

// FlushInterval Kafka 刷新间隔。
func (k KafkaConfig) FlushInterval() time.Duration {
	return time.Duration(k.FlushIntervalMs) * time.Millisecond
}
