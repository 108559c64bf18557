package services

import (
	"context"
	"fmt"
	"mime/multipart"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

// ActionKind names a study action.
type ActionKind string

const (
	ActionChat       ActionKind = "chat"
	ActionSummarize  ActionKind = "summarize"
	ActionFlashcards ActionKind = "flashcards"
)

// Action is one of ChatAction, SummarizeAction or FlashcardsAction.
// Values are built by the New*/Parse* constructors, which enforce each
// variant's required fields.
type Action interface {
	Kind() ActionKind
}

type ChatAction struct {
	Message string
	Mode    PersonaMode
	Length  LengthTier
	Subject Subject
	// Document, when set, is extracted and sent as context.
	Document *UploadedDocument
}

type SummarizeAction struct{}

type FlashcardsAction struct {
	NumCards   int
	Difficulty Difficulty
	Topic      string
}

func (ChatAction) Kind() ActionKind       { return ActionChat }
func (SummarizeAction) Kind() ActionKind  { return ActionSummarize }
func (FlashcardsAction) Kind() ActionKind { return ActionFlashcards }

// NewChatAction rejects a blank message and normalizes mode and length.
func NewChatAction(message, mode, length string) (ChatAction, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return ChatAction{}, NewError(KindBadInput, "No message")
	}
	return ChatAction{
		Message: message,
		Mode:    ParsePersona(mode),
		Length:  ParseLength(length),
		Subject: SubjectGeneral,
	}, nil
}

// PDFActionParams are the raw form values of a process_pdf request.
type PDFActionParams struct {
	Action     string
	NumCards   string
	Difficulty string
	Topic      string
}

// ParsePDFAction builds the document action. An empty action means summarize.
func ParsePDFAction(p PDFActionParams) (Action, error) {
	switch ActionKind(strings.ToLower(strings.TrimSpace(p.Action))) {
	case "", ActionSummarize:
		return SummarizeAction{}, nil
	case ActionFlashcards:
		return newFlashcardsAction(p)
	default:
		return nil, NewError(KindBadInput, fmt.Sprintf("Unknown action %q", p.Action))
	}
}

func newFlashcardsAction(p PDFActionParams) (FlashcardsAction, error) {
	numCards := DefaultNumCards
	if raw := strings.TrimSpace(p.NumCards); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return FlashcardsAction{}, NewError(KindBadInput, "num_cards must be an integer")
		}
		numCards = n
	}
	if numCards < MinNumCards || numCards > MaxNumCards {
		return FlashcardsAction{}, NewError(KindBadInput,
			fmt.Sprintf("num_cards must be between %d and %d", MinNumCards, MaxNumCards))
	}

	difficulty, err := ParseDifficulty(p.Difficulty)
	if err != nil {
		return FlashcardsAction{}, err
	}

	return FlashcardsAction{
		NumCards:   numCards,
		Difficulty: difficulty,
		Topic:      strings.TrimSpace(p.Topic),
	}, nil
}

const (
	DefaultGeneratedCards = 5
	MaxGeneratedCards     = 20
)

// GeneratedCardCount resolves the count of a generate-flashcards request:
// zero means the default and anything above MaxGeneratedCards is clamped.
func GeneratedCardCount(count int) (int, error) {
	switch {
	case count < 0:
		return 0, NewError(KindBadInput, "count must be positive")
	case count == 0:
		return DefaultGeneratedCards, nil
	case count > MaxGeneratedCards:
		return MaxGeneratedCards, nil
	}
	return count, nil
}

// TopicFlashcardsAction generates cards about a topic without a document.
type TopicFlashcardsAction struct {
	Topic      string
	Subject    Subject
	NumCards   int
	Difficulty Difficulty
}

func NewTopicFlashcardsAction(topic, subject string, count int, difficulty string) (TopicFlashcardsAction, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return TopicFlashcardsAction{}, NewError(KindBadInput, "topic required")
	}
	n, err := GeneratedCardCount(count)
	if err != nil {
		return TopicFlashcardsAction{}, err
	}
	d, err := ParseDifficulty(difficulty)
	if err != nil {
		return TopicFlashcardsAction{}, err
	}
	return TopicFlashcardsAction{Topic: topic, Subject: ParseSubject(subject), NumCards: n, Difficulty: d}, nil
}

// PDFResult is the outcome of a document action. Exactly one of Summary,
// Flashcards (with Parsed set) or Raw is meaningful.
type PDFResult struct {
	Action         ActionKind
	Document       *UploadedDocument
	Summary        string
	OriginalLength int
	Truncated      bool
	Parsed         bool
	Flashcards     []Flashcard
	Raw            string
}

// StudyService wires upload, extraction, budgeting, prompting, the model
// call and flashcard parsing. It holds no per-request state.
type StudyService struct {
	uploads    *UploadSink
	composer   *PromptComposer
	ai         AIProvider
	charBudget int
}

func NewStudyService(uploads *UploadSink, composer *PromptComposer, ai AIProvider, charBudget int) *StudyService {
	return &StudyService{
		uploads:    uploads,
		composer:   composer,
		ai:         ai,
		charBudget: charBudget,
	}
}

// ProviderName names the model provider in use.
func (s *StudyService) ProviderName() string {
	return s.ai.GetProviderName()
}

// complete calls the model without ctx's cancellation so that an in-flight
// call outlives a disconnected client. Request-scoped values are kept.
func (s *StudyService) complete(ctx context.Context, env ModelEnvelope) (string, error) {
	return s.ai.Complete(context.WithoutCancel(ctx), env)
}

// Chat answers a message under the action's persona, subject and optional document.
func (s *StudyService) Chat(ctx context.Context, action ChatAction) (string, error) {
	var doc *BudgetedChunk
	if action.Document != nil {
		extracted, err := ExtractTextFromPDF(action.Document.Path)
		if err != nil {
			return "", err
		}
		chunk := Budget(extracted.Text, s.charBudget)
		doc = &chunk
	}

	env := s.composer.ChatWith(action.Message, action.Mode, action.Length, action.Subject, doc)
	reply, err := s.complete(ctx, env)
	if err != nil {
		return "", err
	}
	log.Debug().
		Str("mode", string(action.Mode)).
		Str("length", string(action.Length)).
		Str("subject", string(action.Subject)).
		Bool("document", doc != nil).
		Int("reply_chars", utf8.RuneCountInString(reply)).
		Msg("Chat reply generated")
	return reply, nil
}

// StoredUpload is a saved PDF and its text. Text is nil when the document
// could not be read or held no text; the file is kept either way.
type StoredUpload struct {
	Document *UploadedDocument
	Text     *ExtractedText
}

// Upload stores a PDF for later use without calling the model.
func (s *StudyService) Upload(fh *multipart.FileHeader) (*StoredUpload, error) {
	doc, err := s.uploads.Save(fh)
	if err != nil {
		return nil, err
	}

	extracted, err := ExtractTextFromPDF(doc.Path)
	if err != nil {
		if k := KindOf(err); k != KindEmptyDocument && k != KindExtractionFailure {
			return nil, err
		}
		log.Warn().Err(err).Str("upload_id", doc.ID).Msg("Stored upload has no extractable text")
		return &StoredUpload{Document: doc}, nil
	}
	return &StoredUpload{Document: doc, Text: extracted}, nil
}

// ProcessPDF stores the upload and runs the document action over its text.
func (s *StudyService) ProcessPDF(ctx context.Context, fh *multipart.FileHeader, action Action) (*PDFResult, error) {
	if err := checkDocumentAction(action); err != nil {
		return nil, err
	}

	doc, err := s.uploads.Save(fh)
	if err != nil {
		return nil, err
	}
	return s.ProcessDocument(ctx, doc, action)
}

// ProcessDocument runs a document action over an already stored upload.
func (s *StudyService) ProcessDocument(ctx context.Context, doc *UploadedDocument, action Action) (*PDFResult, error) {
	if err := checkDocumentAction(action); err != nil {
		return nil, err
	}

	extracted, err := ExtractTextFromPDF(doc.Path)
	if err != nil {
		return nil, err
	}

	chunk := Budget(extracted.Text, s.charBudget)
	result := &PDFResult{
		Action:         action.Kind(),
		Document:       doc,
		OriginalLength: utf8.RuneCountInString(extracted.Text),
		Truncated:      chunk.IsTruncated,
	}

	log.Info().
		Str("upload_id", doc.ID).
		Str("action", string(action.Kind())).
		Int("pages", extracted.PageCount).
		Int("chars", result.OriginalLength).
		Bool("truncated", chunk.IsTruncated).
		Msg("PDF text extracted")

	switch a := action.(type) {
	case SummarizeAction:
		summary, err := s.complete(ctx, s.composer.Summarize(chunk))
		if err != nil {
			return nil, err
		}
		result.Summary = summary

	case FlashcardsAction:
		reply, err := s.complete(ctx, s.composer.Flashcards(chunk, a.NumCards, a.Difficulty, a.Topic))
		if err != nil {
			return nil, err
		}
		parsed := ParseFlashcards(reply, a.NumCards)
		result.Parsed = parsed.Parsed
		result.Flashcards = parsed.Flashcards
		result.Raw = parsed.Raw
		if !parsed.Parsed {
			log.Warn().Str("upload_id", doc.ID).Msg("Flashcard reply was not a JSON array, returning raw text")
		}

	default:
		return nil, NewError(KindBadInput, fmt.Sprintf("Unknown action %q", action.Kind()))
	}

	return result, nil
}

// TopicFlashcards asks the model for cards about a topic and parses the reply.
func (s *StudyService) TopicFlashcards(ctx context.Context, action TopicFlashcardsAction) (FlashcardParse, error) {
	env := s.composer.TopicFlashcards(action.Topic, action.Subject, action.NumCards, action.Difficulty)
	reply, err := s.complete(ctx, env)
	if err != nil {
		return FlashcardParse{}, err
	}

	parsed := ParseFlashcards(reply, action.NumCards)
	if !parsed.Parsed {
		log.Warn().Str("topic", action.Topic).Msg("Flashcard reply was not a JSON array, returning raw text")
	}
	return parsed, nil
}

func checkDocumentAction(action Action) error {
	if action == nil {
		return NewError(KindBadInput, "Unknown action")
	}
	if action.Kind() == ActionChat {
		return NewError(KindBadInput, "Unknown action \"chat\"")
	}
	return nil
}
