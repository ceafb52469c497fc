package models

const (
	QuestionStartRegex = `^Q\d+\.\s*(.*)$`
	OptionRegex        = `^\(([a-dA-D])\)\s*(.*)$`
	CorrectAnswerRegex = `(?i)^Correct answer:\s*([a-d])`
	ContextSeparator   = "\n---\n"
	ThinkTag           = `(?s)<think>.*?</think>`
)

var (
	// QAPromptTemplate is the "stuff" prompt: every retrieved text goes into one context block.
	QAPromptTemplate = `Use the following pieces of context to answer the question at the end. If you don't know the answer, just say that you don't know, don't try to make up an answer.

{{.context}}

Question: {{.question}}
Helpful Answer:`

	SummaryPromptTemplate = `Write a concise summary of the following:

{{.text}}

CONCISE SUMMARY:`

	QuestionExtractionPromptTemplate = `Extract up to 5 multiple-choice questions from the following text as a JSON array.
Each item should be an object with keys: question_text, options (dict of A-D), correct_answer (A-D), explanation.
Example output:
[{"question_text":"...","options":{"A":"...","B":"...","C":"...","D":"..."},"correct_answer":"A","explanation":"..."}]

Text:
{{.text}}`

	CopyPromptTemplate = `You are a {{.age_option}} who needs to {{.task_option}}.
Respond naturally in the tone, vocabulary, and emotion suitable for that age group.
Keep the response under {{.word_limit}} words.
{{if .examples}}
Here are some examples:
{{.examples}}
{{end}}
User Input: {{.query}}`

	CopyExampleTemplate = `Question: {{.query}}
Response: {{.answer}}`

	TablePromptTemplate = `You are a data analyst. The table below is CSV with a header row.
Answer the question using only this data. Show the computed figures.

{{.table}}

Question: {{.question}}
Answer:`

	DefaultSystemPrompt = "You are a helpful assistant."
)
