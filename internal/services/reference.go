package services

import (
	"encoding/csv"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/pkg/errors"

	"recthink/internal/models"
)

// referenceHeader 参考流程消息的标题
const referenceHeader = "Reference flows (similar cases):"

// minTermRunes 关键词的最小长度
const minTermRunes = 2

// hangulParticles 常见的韩语助词和词尾，长的在前
var hangulParticles = []string{
	"에서는", "으로는", "이랑", "에서", "으로", "에게", "한테", "께서", "까지", "부터", "처럼", "보다",
	"이", "가", "은", "는", "을", "를", "의", "에", "로", "와", "과", "도", "만", "랑",
}

// ExtractTerms 从输入中提取关键词：连续的字母数字串，转小写去重，
// 短于两个字符的词丢弃。韩语词额外加入去掉助词后的词干
func ExtractTerms(text string) []string {
	var terms []string
	seen := make(map[string]bool)

	add := func(term string) {
		if len([]rune(term)) < minTermRunes || seen[term] {
			return
		}
		seen[term] = true
		terms = append(terms, term)
	}

	var word strings.Builder
	flush := func() {
		if word.Len() == 0 {
			return
		}
		term := strings.ToLower(word.String())
		word.Reset()
		add(term)
		if stem, ok := stripParticle(term); ok {
			add(stem)
		}
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			word.WriteRune(r)
			continue
		}
		flush()
	}
	flush()

	return terms
}

// stripParticle 去掉韩语词末尾的助词，词干至少两个字符
func stripParticle(word string) (string, bool) {
	runes := []rune(word)
	if len(runes) == 0 || !unicode.Is(unicode.Hangul, runes[len(runes)-1]) {
		return "", false
	}
	for _, p := range hangulParticles {
		stem, ok := strings.CutSuffix(word, p)
		if ok && len([]rune(stem)) >= minTermRunes {
			return stem, true
		}
	}
	return "", false
}

// MatchReference 返回与关键词相关的条目的流程，保持语料顺序。
// 类别或流程包含关键词，或关键词包含类别，都算匹配
func MatchReference(corpus []models.ReferenceEntry, terms []string) []string {
	if len(corpus) == 0 || len(terms) == 0 {
		return nil
	}

	var flows []string
	for _, entry := range corpus {
		if strings.TrimSpace(entry.Flow) == "" {
			continue
		}
		category := strings.ToLower(strings.TrimSpace(entry.Category))
		flow := strings.ToLower(entry.Flow)
		for _, term := range terms {
			if strings.Contains(category, term) || strings.Contains(flow, term) ||
				(len([]rune(category)) >= minTermRunes && strings.Contains(term, category)) {
				flows = append(flows, entry.Flow)
				break
			}
		}
	}
	return flows
}

// BuildEnrichment 生成附加的system消息，没有匹配时返回false
func BuildEnrichment(corpus []models.ReferenceEntry, input string) (models.Message, bool) {
	flows := MatchReference(corpus, ExtractTerms(input))
	if len(flows) == 0 {
		return models.Message{}, false
	}

	var b strings.Builder
	b.WriteString(referenceHeader)
	for _, flow := range flows {
		b.WriteString("\n- ")
		b.WriteString(flow)
	}
	return models.NewMessage(models.RoleSystem, b.String()), true
}

// LoadReferenceCSV 读取category,flow两列的参考语料文件
func LoadReferenceCSV(path string) ([]models.ReferenceEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open reference csv")
	}
	defer f.Close()

	return ParseReferenceCSV(f)
}

// ParseReferenceCSV 解析参考语料，第一行为表头，前两列依次为类别和流程，
// 多余的列忽略
func ParseReferenceCSV(r io.Reader) ([]models.ReferenceEntry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "parse reference csv")
	}
	if len(records) == 0 {
		return nil, nil
	}

	entries := make([]models.ReferenceEntry, 0, len(records)-1)
	for i, record := range records[1:] {
		if len(record) < 2 {
			return nil, errors.Errorf("reference csv line %d: expected category and flow", i+2)
		}
		entries = append(entries, models.ReferenceEntry{
			Category: strings.TrimSpace(record[0]),
			Flow:     strings.TrimSpace(record[1]),
		})
	}
	return entries, nil
}

// LoadSystemPrompt 读取系统提示词文件，路径为空时返回空串
func LoadSystemPrompt(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrap(err, "read system prompt")
	}
	return strings.TrimSpace(strings.TrimPrefix(string(data), "\ufeff")), nil
}
