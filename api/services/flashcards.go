package services

import (
	"encoding/json"
	"strings"
)

const (
	DefaultNumCards = 10
	MinNumCards     = 1
	MaxNumCards     = 50
)

// Flashcard is a single question/answer pair produced by the model.
type Flashcard struct {
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	Difficulty string `json:"difficulty"`
}

// FlashcardParse is the outcome of reading a flashcard reply.
// When Parsed is false the reply could not be read as a JSON array and Raw
// holds the verbatim reply.
type FlashcardParse struct {
	Parsed     bool
	Flashcards []Flashcard
	Raw        string
}

// ParseFlashcards recovers flashcards from a free-form model reply. At most
// limit cards are returned (limit <= 0 means no cap); elements missing a
// string question, answer or difficulty are dropped.
func ParseFlashcards(reply string, limit int) FlashcardParse {
	var items []json.RawMessage
	if !decodeArray(reply, &items) {
		return FlashcardParse{Raw: reply}
	}

	cards := make([]Flashcard, 0, len(items))
	for _, item := range items {
		card, ok := coerceFlashcard(item)
		if !ok {
			continue
		}
		cards = append(cards, card)
		if limit > 0 && len(cards) == limit {
			break
		}
	}

	return FlashcardParse{Parsed: true, Flashcards: cards}
}

// decodeArray tries, in order: the first balanced [...] span that is a JSON
// array, the greedy span from the first '[' to the last ']', and the whole reply.
func decodeArray(reply string, out *[]json.RawMessage) bool {
	for start := strings.IndexByte(reply, '['); start >= 0; {
		if end := matchingBracket(reply, start); end > start {
			if json.Unmarshal([]byte(reply[start:end+1]), out) == nil {
				return true
			}
		}
		next := strings.IndexByte(reply[start+1:], '[')
		if next < 0 {
			break
		}
		start += next + 1
	}

	candidate := reply
	if start, end := strings.IndexByte(reply, '['), strings.LastIndexByte(reply, ']'); start >= 0 && end > start {
		candidate = reply[start : end+1]
	}
	// null decodes into a nil slice without error; only an array counts.
	if !strings.HasPrefix(strings.TrimSpace(candidate), "[") {
		return false
	}
	return json.Unmarshal([]byte(candidate), out) == nil
}

// matchingBracket returns the index of the ']' closing the '[' at start,
// skipping brackets inside JSON string literals, or -1.
func matchingBracket(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func coerceFlashcard(raw json.RawMessage) (Flashcard, bool) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Flashcard{}, false
	}
	question, ok1 := obj["question"].(string)
	answer, ok2 := obj["answer"].(string)
	difficulty, ok3 := obj["difficulty"].(string)
	if !ok1 || !ok2 || !ok3 {
		return Flashcard{}, false
	}
	return Flashcard{Question: question, Answer: answer, Difficulty: difficulty}, true
}
