package rag

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// smalltalkRE matches whole questions that are greetings, thanks,
// farewells, self-introduction requests, or help requests in Korean or
// English. Anchored on both ends: a greeting followed by a real
// question must still go through retrieval.
var smalltalkRE = regexp.MustCompile(`(?i)^\s*(` +
	`안녕하세요|안녕|반가워요?|반갑습니다|` +
	`고마워요?|고맙습니다|감사합니다|감사해요?|` +
	`잘\s*가요?|잘\s*있어요?|수고하세요|수고했어요?|` +
	`하이|헬로우?|` +
	`(너는?|넌|당신은?)\s*누구(야|니|세요|인가요|예요)?|누구세요|` +
	`자기\s*소개(좀)?(\s*해\s*?줘)?|` +
	`도움말|도와\s*줘|뭘?\s*할\s*수\s*있(어|니|나요)|` +
	`hi+|hello+|hey+|yo|howdy|` +
	`thanks|thank\s+you|thx|` +
	`bye|goodbye|see\s+you|good\s+(morning|afternoon|evening|night)|` +
	`who\s+are\s+you|introduce\s+yourself|what\s+can\s+you\s+do|help` +
	`)[\s!?.,~^]*$`)

// IsSmalltalk reports whether the question should bypass retrieval.
func IsSmalltalk(question string) bool {
	return smalltalkRE.MatchString(strings.TrimSpace(question))
}

// refusalMaxRunes bounds what still counts as a refusal sentence; a long
// answer that merely quotes one of the markers is a real answer.
const refusalMaxRunes = 80

var refusalMarkers = []string{
	"모릅니다",
	"모르겠습니다",
	"모르겠어요",
	"몰라요",
	"알 수 없습니다",
	"찾을 수 없습니다",
	"답변드리기 어렵",
	"i don't know",
	"i do not know",
	"cannot find",
	"no relevant information",
}

// isRefusal reports whether the generator declined to answer. A refusal
// in document mode empties the sources so the caller never cites
// documents for an answer that used none.
func isRefusal(answer string) bool {
	t := strings.TrimSpace(answer)
	if t == "" {
		return true
	}
	if utf8.RuneCountInString(t) > refusalMaxRunes {
		return false
	}
	low := strings.ToLower(t)
	for _, m := range refusalMarkers {
		if strings.Contains(low, m) {
			return true
		}
	}
	return false
}
