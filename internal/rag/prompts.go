package rag

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/docqa-backend/internal/platform/logger"
)

// Prompts holds the system prompt per regime plus the intent
// classifier prompt. Zero-value fields fall back to the defaults.
type Prompts struct {
	Smalltalk string `yaml:"smalltalk"`
	DocPlain  string `yaml:"doc_plain"`
	DocTable  string `yaml:"doc_table"`
	General   string `yaml:"general"`
	Intent    string `yaml:"intent"`
}

func DefaultPrompts() Prompts {
	return Prompts{
		Smalltalk: "당신은 사내 문서 QA 어시스턴트입니다. " +
			"지금은 인사나 가벼운 대화이므로 문서 검색 없이 한두 문장으로 친근하게 한국어로 응답하세요.",
		DocPlain: "당신은 사내 문서 기반 QA 어시스턴트입니다. " +
			"아래 <document> 블록에 담긴 내용만 근거로 한국어로 답변하세요. " +
			"문서에 없는 내용은 추측하지 말고 \"문서에서 찾을 수 없습니다.\"라고 답하세요. " +
			"가능하면 근거가 된 문서명과 페이지를 함께 언급하세요.",
		DocTable: "당신은 사내 문서 기반 QA 어시스턴트입니다. " +
			"아래 <document> 블록에 담긴 내용만 근거로 한국어로 답변하되, " +
			"결과는 Markdown 표로 정리하세요. 표 헤더는 질문의 관점에 맞게 구성하고, " +
			"문서에 없는 값은 비워 두세요. 문서에서 근거를 찾지 못하면 \"문서에서 찾을 수 없습니다.\"라고 답하세요.",
		General: "당신은 일반 지식 어시스턴트입니다. 지금은 참고할 사내 문서가 없습니다. " +
			"구체적인 사내 수치, 날짜, 고유명사를 만들어내지 말고 일반적인 지식 수준에서만 한국어로 답하세요. " +
			"사내 문서가 필요한 질문이라면 관련 문서를 업로드해 달라고 안내하세요.",
		Intent: "Classify the user's request. Reply with exactly one word: " +
			"\"table\" if they want the answer as a table or other structured listing, " +
			"otherwise \"plain\". No other text.",
	}
}

// LoadPrompts returns the defaults overlaid with any non-empty fields
// from the YAML file at path. A missing or malformed file keeps the
// defaults; prompt overrides are never worth failing startup for.
func LoadPrompts(path string, log *logger.Logger) Prompts {
	p := DefaultPrompts()
	if path == "" {
		return p
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Warn("prompts file unreadable, using defaults", "path", path, "error", err)
		return p
	}
	var over Prompts
	if err := yaml.Unmarshal(raw, &over); err != nil {
		log.Warn("prompts file invalid, using defaults", "path", path, "error", err)
		return p
	}
	if over.Smalltalk != "" {
		p.Smalltalk = over.Smalltalk
	}
	if over.DocPlain != "" {
		p.DocPlain = over.DocPlain
	}
	if over.DocTable != "" {
		p.DocTable = over.DocTable
	}
	if over.General != "" {
		p.General = over.General
	}
	if over.Intent != "" {
		p.Intent = over.Intent
	}
	log.Info("prompts loaded", "path", path)
	return p
}
