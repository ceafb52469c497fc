package quiz

import (
	"encoding/json"
	"fmt"
	"strings"

	"rag-apps/internal/models"
)

// ParseReply decodes a model reply into raw question objects. The reply may
// be a bare JSON array or object, or have one embedded in prose or a code
// fence.
func ParseReply(text string) ([]map[string]any, error) {
	text = strings.TrimSpace(text)
	if items, ok := decodeItems(text); ok {
		return items, nil
	}
	if start, end := strings.Index(text, "["), strings.LastIndex(text, "]"); start >= 0 && end > start {
		if items, ok := decodeItems(text[start : end+1]); ok {
			return items, nil
		}
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		if items, ok := decodeItems(text[start : end+1]); ok {
			return items, nil
		}
	}
	return nil, fmt.Errorf("no JSON questions in reply (%d bytes)", len(text))
}

func decodeItems(s string) ([]map[string]any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	switch t := v.(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, e := range t {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out, true
	case map[string]any:
		if qs, ok := t["questions"].([]any); ok {
			return decodeItems(mustJSON(qs))
		}
		return []map[string]any{t}, true
	}
	return nil, false
}

func mustJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// Normalize maps one raw item onto a Question, accepting the alternate key
// names models tend to produce. Items without question text are rejected.
func Normalize(item map[string]any, source, topic string, difficulty int) (models.Question, bool) {
	text := firstString(item, "question_text", "question", "q")
	if text == "" {
		return models.Question{}, false
	}
	q := models.Question{
		QuestionText:  text,
		Options:       options(firstOf(item, "options", "choices")),
		CorrectAnswer: answerLetter(firstString(item, "correct_answer", "answer")),
		Source:        source,
		Topic:         topic,
		Difficulty:    difficulty,
	}
	if exp := firstString(item, "explanation", "explain"); exp != "" {
		q.Explanation = &exp
	}
	return q, true
}

func firstOf(item map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := item[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(item map[string]any, keys ...string) string {
	switch v := firstOf(item, keys...).(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func options(v any) map[string]string {
	out := map[string]string{}
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			out[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(fmt.Sprint(val))
		}
	case []any:
		for i, val := range t {
			if i >= len(models.OptionKeys) {
				break
			}
			out[models.OptionKeys[i]] = strings.TrimSpace(fmt.Sprint(val))
		}
	}
	return out
}

// answerLetter reduces "b", "B) Parliament" or "(c)" to its upper case letter.
func answerLetter(s string) string {
	s = strings.TrimLeft(strings.TrimSpace(s), "(")
	if s == "" {
		return ""
	}
	l := strings.ToUpper(s[:1])
	if l >= "A" && l <= "D" && (len(s) == 1 || !isLetter(s[1])) {
		return l
	}
	return s
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
