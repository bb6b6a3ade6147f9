// =============================================================================
// CoRAG 主入口
// =============================================================================
// 混合检索纠偏问答的命令行入口
//
// 使用方法:
//
//	corag ask "how does raft handle leader election?"   # 提问
//	corag ask --config config.yaml "..."                 # 指定配置文件
//	corag ingest --source docs.txt                       # 摄取文档
//	corag audit                                          # 查看审计日志
//	corag version                                        # 显示版本信息
// =============================================================================

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/corag/config"
	"github.com/BaSui01/corag/embedding"
	"github.com/BaSui01/corag/graph"
	"github.com/BaSui01/corag/rag"
	"github.com/BaSui01/corag/scratchpad"
	"github.com/BaSui01/corag/vector"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "ask":
		runAsk(os.Args[2:])
	case "ingest":
		runIngest(os.Args[2:])
	case "audit":
		runAudit(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// ❓ ask 命令
// =============================================================================

func runAsk(args []string) {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	asJSON := fs.Bool("json", false, "Print the full response as JSON")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: corag ask [--config config.yaml] [--json] <question>")
		os.Exit(1)
	}
	question := strings.Join(fs.Args(), " ")

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting CoRAG query",
		zap.String("version", Version),
		zap.String("mode", string(cfg.Retrieval.Mode)))

	pipeline, err := rag.NewPipelineFromConfig(cfg, rag.Deps{
		Registry: prometheus.DefaultRegisterer,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("Failed to build pipeline", zap.Error(err))
	}

	resp, err := pipeline.Run(context.Background(), question)
	if err != nil {
		logger.Fatal("Query failed", zap.Error(err))
	}

	if *asJSON {
		out, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(out))
		return
	}

	fmt.Println(resp.Answer)
	fmt.Printf("\n[%s confidence, state=%s, score=%.2f, attempts=%d]\n",
		resp.Confidence, resp.State, resp.QualityScore, len(resp.Attempts))
	for i, c := range resp.Citations {
		fmt.Printf("  [%d] %s\n", i+1, c.Ref())
	}
}

// =============================================================================
// 📥 ingest 命令
// =============================================================================

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	source := fs.String("source", "", "Text file to ingest (one paragraph per chunk)")
	fs.Parse(args)

	if *source == "" {
		fmt.Fprintln(os.Stderr, "Usage: corag ingest [--config config.yaml] --source <file>")
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	chunks, err := readChunks(*source)
	if err != nil {
		logger.Fatal("Failed to read source", zap.Error(err))
	}
	if len(chunks) == 0 {
		logger.Fatal("Source contains no text")
	}

	ctx := context.Background()

	var provider embedding.Provider = embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
	})
	if cfg.Embedding.RateRPS > 0 {
		provider = embedding.NewRateLimited(provider, cfg.Embedding.RateRPS, cfg.Embedding.RateBurst)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := provider.EmbedDocuments(ctx, texts)
	if err != nil {
		logger.Fatal("Embedding failed", zap.Error(err))
	}
	for i := range chunks {
		chunks[i].Embedding = embeddings[i]
	}

	index := vector.NewQdrantIndex(vector.QdrantConfig{
		Host:                 cfg.Qdrant.Host,
		Port:                 cfg.Qdrant.Port,
		APIKey:               cfg.Qdrant.APIKey,
		Collection:           cfg.Qdrant.Collection,
		Timeout:              cfg.Qdrant.Timeout,
		AutoCreateCollection: true,
		VectorSize:           cfg.Embedding.Dimensions,
	}, logger)
	if err := index.AddChunks(ctx, chunks); err != nil {
		logger.Fatal("Indexing failed", zap.Error(err))
	}

	if cfg.Graph.SnapshotPath == "" {
		logger.Warn("graph.snapshot_path is empty, skipping graph ingestion; graph/hybrid retrieval will see no entities")
		logger.Info("Ingestion complete", zap.Int("chunks", len(chunks)))
		return
	}

	// 快照已存在时增量叠加，不存在时从空图开始
	g, err := graph.LoadSnapshot(cfg.Graph.SnapshotPath, logger)
	if errors.Is(err, os.ErrNotExist) {
		g = graph.NewMemoryGraph(logger)
	} else if err != nil {
		logger.Fatal("Failed to load graph snapshot", zap.Error(err))
	}
	if err := graph.Ingest(ctx, g, graph.NewHeuristicAnnotator(), chunks, logger); err != nil {
		logger.Fatal("Graph ingestion failed", zap.Error(err))
	}
	if err := g.SaveSnapshot(cfg.Graph.SnapshotPath); err != nil {
		logger.Fatal("Failed to save graph snapshot", zap.Error(err))
	}

	logger.Info("Ingestion complete",
		zap.Int("chunks", len(chunks)),
		zap.String("graph_snapshot", cfg.Graph.SnapshotPath))
}

// readChunks 按空行分段读取文本文件。
func readChunks(path string) ([]vector.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		chunks  []vector.Chunk
		current strings.Builder
		offset  int
	)
	flush := func() {
		text := strings.TrimSpace(current.String())
		if text != "" {
			chunks = append(chunks, vector.Chunk{
				ID:               fmt.Sprintf("%s#%d", path, len(chunks)),
				Text:             text,
				SourceDocumentID: path,
				OffsetStart:      offset,
				OffsetEnd:        offset + len(text),
			})
			offset += len(text)
		}
		current.Reset()
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	flush()
	return chunks, scanner.Err()
}

// =============================================================================
// 📜 audit 命令
// =============================================================================

func runAudit(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	limit := fs.Int("limit", 50, "Max entries to show")
	fs.Parse(args)

	cfg := loadConfig(*configPath)

	var (
		store scratchpad.Store
		err   error
	)
	switch cfg.Scratchpad.Backend {
	case "sqlite":
		store, err = scratchpad.NewGormStore(cfg.Scratchpad.Path, cfg.Scratchpad.MaxEntries)
	case "redis":
		store, err = scratchpad.NewRedisStore(scratchpad.RedisStoreConfig{
			Addr:       cfg.Redis.Addr(),
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			KeyPrefix:  cfg.Redis.KeyPrefix,
			MaxEntries: cfg.Scratchpad.MaxEntries,
		})
	default:
		fmt.Fprintln(os.Stderr, "audit requires a persistent scratchpad backend (sqlite or redis)")
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open scratchpad: %v\n", err)
		os.Exit(1)
	}

	entries, err := store.Load(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load scratchpad: %v\n", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Printf("%s  %-11s %s\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.Step, e.Content)
	}
}

// =============================================================================
// ⚙️ 配置与日志
// =============================================================================

func loadConfig(path string) *config.Config {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("CoRAG %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`CoRAG - hybrid retrieval & corrective answering

Usage:
  corag ask [--config config.yaml] [--json] <question>
  corag ingest [--config config.yaml] --source <file>
  corag audit [--config config.yaml] [--limit n]
  corag version
  corag help`)
}
