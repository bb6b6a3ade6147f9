// =============================================================================
// 📦 CoRAG 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("CORAG").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 CoRAG 的完整配置结构
type Config struct {
	// Retrieval 检索与纠偏循环配置
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Embedding 嵌入提供者配置
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// Judge 上下文质量评估配置
	Judge JudgeConfig `yaml:"judge" env:"JUDGE"`

	// Qdrant 向量存储后端配置
	Qdrant QdrantConfig `yaml:"qdrant" env:"QDRANT"`

	// Graph 知识图谱存储配置
	Graph GraphConfig `yaml:"graph" env:"GRAPH"`

	// Redis 结果缓存 / scratchpad 配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Scratchpad 流水线审计日志配置
	Scratchpad ScratchpadConfig `yaml:"scratchpad" env:"SCRATCHPAD"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`
}

// RetrievalMode 检索模式
type RetrievalMode string

const (
	ModeVector RetrievalMode = "vector" // 纯向量检索（α=1）
	ModeGraph  RetrievalMode = "graph"  // 纯图谱检索（α=0）
	ModeHybrid RetrievalMode = "hybrid" // 混合检索（可配置 α）
)

// RetrievalConfig 检索与纠偏循环配置
type RetrievalConfig struct {
	// 检索模式: vector | graph | hybrid
	Mode RetrievalMode `yaml:"mode" env:"MODE"`
	// 混合权重 α ∈ [0,1]；α=1 纯向量，α=0 纯图谱
	MixWeightAlpha float64 `yaml:"mix_weight_alpha" env:"MIX_WEIGHT_ALPHA"`
	// 向量检索 top-k
	TopK int `yaml:"top_k" env:"TOP_K"`
	// 上下文条目预算
	MaxContextItems int `yaml:"max_context_items" env:"MAX_CONTEXT_ITEMS"`
	// 上下文 token 预算，0 表示不限
	MaxContextTokens int `yaml:"max_context_tokens" env:"MAX_CONTEXT_TOKENS"`
	// 接受阈值 ∈ [0,1]
	AcceptThreshold float64 `yaml:"accept_threshold" env:"ACCEPT_THRESHOLD"`
	// 纠偏循环重试预算
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 图遍历最大跳数
	MaxHops int `yaml:"max_hops" env:"MAX_HOPS"`
	// 单次外部调用超时
	PerCallTimeout time.Duration `yaml:"per_call_timeout" env:"PER_CALL_TIMEOUT"`
	// 整个查询的墙钟超时，0 表示不限
	QueryTimeout time.Duration `yaml:"query_timeout" env:"QUERY_TIMEOUT"`
}

// EmbeddingConfig 嵌入提供者配置
type EmbeddingConfig struct {
	BaseURL    string  `yaml:"base_url" env:"BASE_URL"`
	APIKey     string  `yaml:"api_key" env:"API_KEY"`
	Model      string  `yaml:"model" env:"MODEL"`
	Dimensions int     `yaml:"dimensions" env:"DIMENSIONS"`
	RateRPS    float64 `yaml:"rate_rps" env:"RATE_RPS"`
	RateBurst  int     `yaml:"rate_burst" env:"RATE_BURST"`
}

// JudgeKind 评估器类型
type JudgeKind string

const (
	JudgeHeuristic JudgeKind = "heuristic"
	JudgeModel     JudgeKind = "model"
)

// JudgeConfig 上下文质量评估配置
type JudgeConfig struct {
	// 评估器类型: heuristic | model
	Kind JudgeKind `yaml:"kind" env:"KIND"`
	// 条目相关性阈值（heuristic）
	RelevanceThreshold float64 `yaml:"relevance_threshold" env:"RELEVANCE_THRESHOLD"`
	// model judge 使用的模型名
	Model string `yaml:"model" env:"MODEL"`
}

// QdrantConfig Qdrant 向量后端配置
type QdrantConfig struct {
	Host       string        `yaml:"host" env:"HOST"`
	Port       int           `yaml:"port" env:"PORT"`
	APIKey     string        `yaml:"api_key" env:"API_KEY"`
	Collection string        `yaml:"collection" env:"COLLECTION"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// GraphConfig 知识图谱存储配置
type GraphConfig struct {
	// 图谱快照文件路径。ingest 写入，ask 启动时加载；空串禁用持久化
	SnapshotPath string `yaml:"snapshot_path" env:"SNAPSHOT_PATH"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host      string        `yaml:"host" env:"HOST"`
	Port      int           `yaml:"port" env:"PORT"`
	Password  string        `yaml:"password" env:"PASSWORD"`
	DB        int           `yaml:"db" env:"DB"`
	KeyPrefix string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	CacheTTL  time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// ScratchpadConfig 审计日志配置
type ScratchpadConfig struct {
	// 后端: memory | sqlite | redis
	Backend string `yaml:"backend" env:"BACKEND"`
	// sqlite 数据库路径
	Path string `yaml:"path" env:"PATH"`
	// 单查询保留的条目上限
	MaxEntries int `yaml:"max_entries" env:"MAX_ENTRIES"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// =============================================================================
// 🔄 加载器
// =============================================================================

// Loader 配置加载器
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建配置加载器
func NewLoader() *Loader {
	return &Loader{envPrefix: "CORAG"}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 内建验证 + 自定义验证器
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("unsupported field kind: %s", field.Kind())
	}

	return nil
}

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
