package parser

import (
	"bufio"
	"regexp"
	"strings"

	"rag-apps/internal/models"
)

var (
	questionRe    = regexp.MustCompile(models.QuestionStartRegex)
	optionRe      = regexp.MustCompile(models.OptionRegex)
	correctRe     = regexp.MustCompile(models.CorrectAnswerRegex)
	explanationRe = regexp.MustCompile(`(?i)^Explanation:\s*(.*)$`)
)

type mcqField int

const (
	fieldNone mcqField = iota
	fieldQuestion
	fieldOption
	fieldExplanation
)

type mcqParserState struct {
	question    string
	options     map[string]string
	lastOption  string
	correct     string
	explanation string
	field       mcqField
	source      string
	topic       string
	difficulty  int
	result      []models.Question
}

// ParseMCQText extracts questions laid out as
//
//	Q1. text
//	(a) ... (d) ...
//	Correct answer: b
//
// Text may wrap over several lines. Blocks missing an option or the answer
// are dropped.
func ParseMCQText(input, source, topic string, difficulty int) []models.Question {
	state := mcqParserState{source: source, topic: topic, difficulty: difficulty}
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		processMCQLine(line, &state)
	}
	flushQuestion(&state)
	return state.result
}

func processMCQLine(line string, state *mcqParserState) {
	if m := questionRe.FindStringSubmatch(line); m != nil {
		flushQuestion(state)
		state.question = m[1]
		state.options = map[string]string{}
		state.field = fieldQuestion
		return
	}
	if state.options == nil {
		return
	}
	if m := optionRe.FindStringSubmatch(line); m != nil {
		key := strings.ToUpper(m[1])
		state.options[key] = m[2]
		state.lastOption = key
		state.field = fieldOption
		return
	}
	if m := correctRe.FindStringSubmatch(line); m != nil {
		state.correct = strings.ToUpper(m[1])
		state.field = fieldNone
		return
	}
	if m := explanationRe.FindStringSubmatch(line); m != nil && state.correct != "" {
		state.explanation = m[1]
		state.field = fieldExplanation
		return
	}
	// continuation of whatever was read last
	switch state.field {
	case fieldQuestion:
		state.question += " " + line
	case fieldOption:
		state.options[state.lastOption] += " " + line
	case fieldExplanation:
		state.explanation += " " + line
	}
}

func flushQuestion(state *mcqParserState) {
	defer func() {
		state.question, state.correct, state.explanation, state.lastOption = "", "", "", ""
		state.options = nil
		state.field = fieldNone
	}()
	if state.options == nil || state.correct == "" || strings.TrimSpace(state.question) == "" {
		return
	}
	for _, k := range models.OptionKeys {
		if _, ok := state.options[k]; !ok {
			return
		}
	}
	opts := make(map[string]string, len(state.options))
	for k, v := range state.options {
		opts[k] = strings.TrimSpace(v)
	}
	q := models.Question{
		QuestionText:  strings.TrimSpace(state.question),
		Options:       opts,
		CorrectAnswer: state.correct,
		Source:        state.source,
		Topic:         state.topic,
		Difficulty:    state.difficulty,
	}
	if exp := strings.TrimSpace(state.explanation); exp != "" {
		q.Explanation = &exp
	}
	state.result = append(state.result, q)
}
