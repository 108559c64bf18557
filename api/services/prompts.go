package services

import (
	"fmt"
	"strings"
)

// PersonaMode is the pedagogical style imposed through the system message.
type PersonaMode string

const (
	PersonaNormal   PersonaMode = "normal"
	PersonaAnalogy  PersonaMode = "analogy"
	PersonaQuiz     PersonaMode = "quiz"
	PersonaTeach    PersonaMode = "teach"
	PersonaSocratic PersonaMode = "socratic"
	PersonaExplain  PersonaMode = "explain"
)

var personaPrompts = map[PersonaMode]string{
	PersonaNormal:   "You are PhenBOT, a helpful study assistant. Answer clearly and concisely.",
	PersonaAnalogy:  "You are PhenBOT, a creative teacher. Explain ideas primarily through analogies and metaphors drawn from everyday life.",
	PersonaQuiz:     "You are PhenBOT, a quiz master. Respond with short quiz questions and terse answers.",
	PersonaTeach:    "You are PhenBOT, a patient tutor. Explain step by step and include worked examples.",
	PersonaSocratic: "You are PhenBOT, a Socratic teacher. Respond only with guiding questions that lead the student to the answer.",
	PersonaExplain:  "You are PhenBOT. Explain like I'm five: use the simplest vocabulary and short, concrete examples.",
}

// ParsePersona normalizes a client-supplied mode. Unknown values become PersonaNormal.
func ParsePersona(s string) PersonaMode {
	mode := PersonaMode(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := personaPrompts[mode]; ok {
		return mode
	}
	return PersonaNormal
}

// SystemPrompt returns the system message for the mode.
func (m PersonaMode) SystemPrompt() string {
	if p, ok := personaPrompts[m]; ok {
		return p
	}
	return personaPrompts[PersonaNormal]
}

// LengthTier is a coarse size class for a chat reply.
type LengthTier string

const (
	LengthShort    LengthTier = "short"
	LengthNormal   LengthTier = "normal"
	LengthDetailed LengthTier = "detailed"
)

var lengthCeilings = map[LengthTier]int{
	LengthShort:    100,
	LengthNormal:   300,
	LengthDetailed: 900,
}

// ParseLength normalizes a client-supplied length. Unknown values become LengthNormal.
func ParseLength(s string) LengthTier {
	tier := LengthTier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := lengthCeilings[tier]; ok {
		return tier
	}
	return LengthNormal
}

// MaxTokens returns the output token ceiling for the tier.
func (l LengthTier) MaxTokens() int {
	if n, ok := lengthCeilings[l]; ok {
		return n
	}
	return lengthCeilings[LengthNormal]
}

// Subject narrows a chat persona to a study area.
type Subject string

const (
	SubjectGeneral Subject = "general"
	SubjectMath    Subject = "math"
	SubjectScience Subject = "science"
	SubjectEnglish Subject = "english"
	SubjectHistory Subject = "history"
)

var subjectFocus = map[Subject]string{
	SubjectMath:    "The student is studying mathematics. Show the working for every calculation.",
	SubjectScience: "The student is studying science. Tie answers back to the underlying principles.",
	SubjectEnglish: "The student is studying English. Pay attention to grammar, vocabulary and literary meaning.",
	SubjectHistory: "The student is studying history. Anchor answers in dates, people and causes.",
}

// ParseSubject normalizes a client-supplied subject. Unknown values become SubjectGeneral.
func ParseSubject(s string) Subject {
	subject := Subject(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := subjectFocus[subject]; ok {
		return subject
	}
	return SubjectGeneral
}

// Difficulty of generated flashcards.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty accepts easy, medium or hard; empty means medium.
func ParseDifficulty(s string) (Difficulty, error) {
	switch d := Difficulty(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return DifficultyMedium, nil
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return d, nil
	default:
		return "", NewError(KindBadInput, fmt.Sprintf("Invalid difficulty %q (use easy, medium or hard)", s))
	}
}

// Message roles
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one entry of the ordered conversation sent to the model.
type Message struct {
	Role    string
	Content string
}

// ModelEnvelope is the fully assembled request handed to the LLM caller.
type ModelEnvelope struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float32
}

// System returns the content of the first system message.
func (e ModelEnvelope) System() string {
	for _, m := range e.Messages {
		if m.Role == RoleSystem {
			return m.Content
		}
	}
	return ""
}

// User returns the content of the last user message.
func (e ModelEnvelope) User() string {
	for i := len(e.Messages) - 1; i >= 0; i-- {
		if e.Messages[i].Role == RoleUser {
			return e.Messages[i].Content
		}
	}
	return ""
}

const (
	chatTemperature       float32 = 0.25
	summarizeTemperature  float32 = 0.2
	flashcardsTemperature float32 = 0.3

	summarizeMaxTokens  = 500
	flashcardsMaxTokens = 800

	genericSystemPrompt    = "You are a helpful assistant."
	flashcardsSystemPrompt = "You are a helpful assistant that outputs only valid JSON."
)

// PromptComposer builds model envelopes for each action.
type PromptComposer struct {
	Model string
}

func NewPromptComposer(model string) *PromptComposer {
	return &PromptComposer{Model: model}
}

func (p *PromptComposer) envelope(system, user string, maxTokens int, temperature float32) ModelEnvelope {
	return ModelEnvelope{
		Messages: []Message{
			{Role: RoleSystem, Content: system},
			{Role: RoleUser, Content: user},
		},
		Model:       p.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

// Chat sends the raw user text under the persona's system message.
func (p *PromptComposer) Chat(message string, mode PersonaMode, length LengthTier) ModelEnvelope {
	return p.ChatWith(message, mode, length, SubjectGeneral, nil)
}

// ChatWith is Chat with a subject focus and an optional document excerpt
// appended to the system message. The user text is still sent unchanged.
func (p *PromptComposer) ChatWith(message string, mode PersonaMode, length LengthTier, subject Subject, doc *BudgetedChunk) ModelEnvelope {
	system := mode.SystemPrompt()
	if focus, ok := subjectFocus[subject]; ok {
		system += " " + focus
	}
	if doc != nil {
		system += "\n\nUse the following document excerpt as context when answering"
		if doc.IsTruncated {
			system += " (it was cut to fit)"
		}
		system += ":\n" + doc.Text
	}
	return p.envelope(system, message, length.MaxTokens(), chatTemperature)
}

// Summarize asks for an overview, key ideas and why it matters, in that order.
func (p *PromptComposer) Summarize(chunk BudgetedChunk) ModelEnvelope {
	var b strings.Builder
	b.WriteString("Summarize the following document in a structured way, using exactly these three labeled parts in this order:\n")
	b.WriteString("1. OVERVIEW: a 3-sentence overview of the document.\n")
	b.WriteString("2. KEY IDEAS: the key ideas as bullet points.\n")
	b.WriteString("3. WHY IT MATTERS: one paragraph on why this material matters.\n")
	if chunk.IsTruncated {
		b.WriteString("The document was cut to fit; summarize only what is shown.\n")
	}
	b.WriteString("\nDocument:\n")
	b.WriteString(chunk.Text)

	return p.envelope(genericSystemPrompt, b.String(), summarizeMaxTokens, summarizeTemperature)
}

// Flashcards asks for exactly numCards JSON objects with question, answer and difficulty keys.
func (p *PromptComposer) Flashcards(chunk BudgetedChunk, numCards int, difficulty Difficulty, topic string) ModelEnvelope {
	var b strings.Builder
	fmt.Fprintf(&b, "Create exactly %d flashcards from the document below.\n", numCards)
	fmt.Fprintf(&b, "Return ONLY a valid JSON array of %d objects, each with the string keys \"question\", \"answer\" and \"difficulty\". ", numCards)
	b.WriteString("Do not add any text before or after the array.\n")
	b.WriteString("Prefer the core concepts of the document over minor details.\n")
	b.WriteString("Keep every answer to 1-3 sentences.\n")
	fmt.Fprintf(&b, "Target difficulty: %s. Set each card's \"difficulty\" to %q.\n", difficulty, difficulty)
	if topic = strings.TrimSpace(topic); topic != "" {
		fmt.Fprintf(&b, "Focus on this topic: %s.\n", topic)
	}
	b.WriteString("\nDocument:\n")
	b.WriteString(chunk.Text)

	return p.envelope(flashcardsSystemPrompt, b.String(), flashcardsMaxTokens, flashcardsTemperature)
}

// TopicFlashcards asks for numCards flashcards about a topic, with no source document.
func (p *PromptComposer) TopicFlashcards(topic string, subject Subject, numCards int, difficulty Difficulty) ModelEnvelope {
	var b strings.Builder
	fmt.Fprintf(&b, "Create exactly %d flashcards about %s.\n", numCards, strings.TrimSpace(topic))
	if subject != "" && subject != SubjectGeneral {
		fmt.Fprintf(&b, "Subject area: %s.\n", subject)
	}
	fmt.Fprintf(&b, "Return ONLY a valid JSON array of %d objects, each with the string keys \"question\", \"answer\" and \"difficulty\". ", numCards)
	b.WriteString("Do not add any text before or after the array.\n")
	b.WriteString("Keep every answer to 1-3 sentences.\n")
	fmt.Fprintf(&b, "Target difficulty: %s. Set each card's \"difficulty\" to %q.\n", difficulty, difficulty)

	return p.envelope(flashcardsSystemPrompt, b.String(), flashcardsMaxTokens, flashcardsTemperature)
}
