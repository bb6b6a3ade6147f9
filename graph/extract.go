package graph

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/corag/vector"
)

// Annotator 从文本中识别实体的摄取协作方接口。
// 提取质量是可插拔的：启发式实现可以被 NER 模型或 LLM 实现替换，
// 检索与纠偏逻辑不依赖其准确率。
type Annotator interface {
	// ExtractEntities 返回文本中识别出的实体名。
	ExtractEntities(text string) []string
}

var trailingPunct = regexp.MustCompile(`[^\w]+$`)

// HeuristicAnnotator 基于大写词的朴素实体识别。
type HeuristicAnnotator struct {
	// MaxPerText 每段文本保留的实体数上限，避免噪音淹没图谱。
	MaxPerText int
}

// NewHeuristicAnnotator 创建启发式标注器。
func NewHeuristicAnnotator() *HeuristicAnnotator {
	return &HeuristicAnnotator{MaxPerText: 5}
}

// ExtractEntities 提取以大写字母开头且长度大于 3 的词。
// 句首词不跳过：摄取文本不是完整问句，首词同样可能是实体。
func (a *HeuristicAnnotator) ExtractEntities(text string) []string {
	seen := make(map[string]bool)
	var entities []string

	for _, word := range strings.Fields(text) {
		word = trailingPunct.ReplaceAllString(word, "")
		if len(word) <= 3 {
			continue
		}
		if word[0] < 'A' || word[0] > 'Z' {
			continue
		}
		if !seen[word] {
			seen[word] = true
			entities = append(entities, word)
		}
		if a.MaxPerText > 0 && len(entities) >= a.MaxPerText {
			break
		}
	}

	return entities
}

// ExtractQueryTerms 从查询中提取实体候选词，供图谱查找使用。
// 与摄取侧不同，问句首词通常是疑问词形式的大写，跳过。
func ExtractQueryTerms(query string) []string {
	var terms []string
	for i, word := range strings.Fields(query) {
		word = trailingPunct.ReplaceAllString(word, "")
		if i == 0 || len(word) <= 1 {
			continue
		}
		if word[0] >= 'A' && word[0] <= 'Z' {
			terms = append(terms, word)
		}
	}
	return terms
}

// Ingest 把文档块写入图谱：每块一个 document 实体，
// 标注器识别出的实体通过 mentions 关系挂接。
//
// 这是摄取路径的便捷封装，检索核心不调用它。
func Ingest(ctx context.Context, g Ingestor, annotator Annotator, chunks []vector.Chunk, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if annotator == nil {
		annotator = NewHeuristicAnnotator()
	}

	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}

		docEntity := Entity{
			ID:    c.ID,
			Label: "document",
			Name:  c.SourceDocumentID,
			Properties: map[string]any{
				"text": c.Text,
			},
		}
		if err := g.AddEntity(docEntity); err != nil {
			return err
		}

		for _, name := range annotator.ExtractEntities(c.Text) {
			entity := Entity{
				ID:    "entity:" + strings.ToLower(name),
				Label: "entity",
				Name:  name,
			}
			if err := g.AddEntity(entity); err != nil {
				return err
			}
			if err := g.AddRelation(Relation{
				FromID: docEntity.ID,
				ToID:   entity.ID,
				Type:   "mentions",
			}); err != nil {
				return err
			}
		}
	}

	logger.Debug("graph ingestion completed", zap.Int("chunks", len(chunks)))
	return nil
}
