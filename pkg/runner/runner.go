package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/zhufucdev/ledoxide/pkg/bill"
	"github.com/zhufucdev/ledoxide/pkg/models"
	"github.com/zhufucdev/ledoxide/pkg/task"
)

// Resource names the pipeline requests from the model manager.
const (
	VisionModel   = "vision"
	LanguageModel = "language"
)

// ErrNoModel indicates a pipeline stage has no configured backend.
var ErrNoModel = errors.New("runner: model not configured")

// EmptyAmountError indicates the amount extraction stage produced a
// reply with no usable number.
type EmptyAmountError struct {
	Reply string
}

func (e *EmptyAmountError) Error() string {
	return fmt.Sprintf("empty amount, model responded with %s", e.Reply)
}

const describePrompt = `You are looking at a picture of a purchase record, such as a receipt, an order page or a payment confirmation. Describe everything on it that matters for bookkeeping: the merchant, the items or services bought, quantities, unit prices, the total amount paid and the currency. Be literal and thorough.`

const notesPrompt = `Below is a description of a purchase record.

%s

Write a short bookkeeping note for this purchase, summarizing what was bought and from whom in one or two sentences. Reply with the note only.`

const amountPrompt = `Here is a bookkeeping note and the description it was taken from.

Note: %s

Description: %s

What is the total amount paid? Work it out if you have to, then reply with the numeric amount alone on the last line.`

const categoryPrompt = `Here is a bookkeeping note and the description it was taken from.

Note: %s

Description: %s

Classify this purchase into exactly one of the following categories:
%s

Reply with the chosen category name alone on the last line.`

// Pipeline digitizes bill images in stages: a vision model describes
// the picture, then a language model takes notes, extracts the total
// amount and picks a category. It implements the scheduler's Executor
// contract.
type Pipeline struct {
	categories bill.Categories
	logger     *slog.Logger
}

// NewPipeline creates a pipeline classifying into the given categories.
func NewPipeline(categories bill.Categories, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{categories: categories, logger: logger}
}

// Execute runs all stages for one task and assembles the Bill.
func (p *Pipeline) Execute(ctx context.Context, desc *task.Descriptor, manager *models.Manager) (*bill.Bill, error) {
	vision, err := manager.Get(ctx, VisionModel)
	if err != nil {
		return nil, err
	}
	if vision == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoModel, VisionModel)
	}
	description, err := vision.Complete(ctx, models.Request{
		Messages: []models.Message{{Role: models.RoleUser, Text: describePrompt, Image: desc.Image}},
		Sampling: desc.VisionSampling,
	})
	if err != nil {
		return nil, fmt.Errorf("describe: %w", err)
	}
	p.logger.Debug("image described", "length", len(description))

	language, err := manager.Get(ctx, LanguageModel)
	if err != nil {
		return nil, err
	}
	if language == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoModel, LanguageModel)
	}
	notes, err := language.Complete(ctx, models.Request{
		Messages: []models.Message{{Role: models.RoleUser, Text: fmt.Sprintf(notesPrompt, description)}},
		Sampling: desc.LanguageSampling,
	})
	if err != nil {
		return nil, fmt.Errorf("take notes: %w", err)
	}
	p.logger.Debug("notes taken", "notes", notes)

	amountReply, err := language.Complete(ctx, models.Request{
		Messages: []models.Message{{Role: models.RoleUser, Text: fmt.Sprintf(amountPrompt, notes, description)}},
		Sampling: desc.LanguageSampling,
	})
	if err != nil {
		return nil, fmt.Errorf("extract amount: %w", err)
	}
	amount, err := ParseAmount(amountReply)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("amount extracted", "amount", amount)

	categoryReply, err := language.Complete(ctx, models.Request{
		Messages: []models.Message{{Role: models.RoleUser, Text: fmt.Sprintf(categoryPrompt, notes, description, p.categoryList())}},
		Sampling: desc.LanguageSampling,
	})
	if err != nil {
		return nil, fmt.Errorf("categorize: %w", err)
	}
	category := p.matchCategory(categoryReply)
	if category == nil {
		p.logger.Debug("reply matched no category", "reply", categoryReply)
	}

	return &bill.Bill{Notes: notes, Amount: amount, Category: category}, nil
}

var amountPattern = regexp.MustCompile(`([0-9,]+\.?[0-9]*)`)

// ParseAmount extracts the monetary amount from a model reply. Only
// the last line counts, thousands separators are stripped.
func ParseAmount(reply string) (float32, error) {
	match := amountPattern.FindStringSubmatch(lastLine(reply))
	if match == nil {
		return 0, &EmptyAmountError{Reply: reply}
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", ""), 32)
	if err != nil {
		return 0, &EmptyAmountError{Reply: reply}
	}
	return float32(value), nil
}

// matchCategory resolves a categorization reply to a configured
// category name, or nil when nothing matches. Replies sometimes prefix
// the choice ("Category: Travel", "- Travel"), so the text after the
// first space gets a second chance.
func (p *Pipeline) matchCategory(reply string) *string {
	line := strings.TrimSpace(lastLine(reply))
	if name, ok := p.categories.Match(line); ok {
		return &name
	}
	if _, rest, found := strings.Cut(line, " "); found {
		if name, ok := p.categories.Match(strings.TrimSpace(rest)); ok {
			return &name
		}
	}
	return nil
}

func (p *Pipeline) categoryList() string {
	names := p.categories.Names()
	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(name)
	}
	return b.String()
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n \t")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
