package models

// Question is a multiple choice question destined for the question store.
type Question struct {
	QuestionText  string            `json:"question_text"`
	Options       map[string]string `json:"options"`
	CorrectAnswer string            `json:"correct_answer"`
	Explanation   *string           `json:"explanation"`
	Source        string            `json:"source"`
	Topic         string            `json:"topic"`
	Difficulty    int               `json:"difficulty"`
}

// OptionKeys are the option labels a well formed question carries.
var OptionKeys = []string{"A", "B", "C", "D"}
