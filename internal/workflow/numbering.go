package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/garnizeh/placement/internal/metrics"
	"github.com/garnizeh/placement/internal/models"
	"github.com/garnizeh/placement/pkg/repository"
)

const (
	LanguageThai    = "thai"
	LanguageEnglish = "english"

	DefaultTemplateKind = "internship_letter"
	DefaultPrefix       = "DOC"
	DefaultDigitWidth   = 6

	maxDigitWidth = 18
)

// NumberingOptions controls which sequence is used when a caller does not
// name one and how a missing sequence is provisioned on first use.
type NumberingOptions struct {
	TemplateKind string
	Language     string
	// MaxRetries bounds compare-and-set attempts for a single allocation.
	MaxRetries        int
	DefaultPrefix     string
	DefaultDigitWidth int
	DefaultSuffix     string
}

func (o NumberingOptions) withDefaults() NumberingOptions {
	if o.TemplateKind == "" {
		o.TemplateKind = DefaultTemplateKind
	}
	if o.Language == "" {
		o.Language = LanguageThai
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 32
	}
	if o.DefaultPrefix == "" && o.DefaultDigitWidth == 0 && o.DefaultSuffix == "" {
		o.DefaultPrefix = DefaultPrefix
	}
	if o.DefaultDigitWidth <= 0 {
		o.DefaultDigitWidth = DefaultDigitWidth
	}
	return o
}

// Allocation is one handed-out document number.
type Allocation struct {
	TemplateKind string `json:"template_kind"`
	Language     string `json:"language"`
	Value        int64  `json:"value"`
	Number       string `json:"document_number"`
	// Overflow is set when Value needed more digits than the sequence width.
	Overflow bool `json:"overflow,omitempty"`
}

// Sequencer mints document numbers from per (template kind, language)
// counters. Numbers are unique and strictly increasing per key; a consumed
// value is never handed out again even if the caller discards it.
type Sequencer struct {
	*base
	opts NumberingOptions
}

// SequenceFormat is the editable part of a sequence.
type SequenceFormat struct {
	TemplateKind string
	Language     string
	Prefix       string
	DigitWidth   int
	Suffix       string
}

func (s *Sequencer) key(templateKind, language string) (string, string, error) {
	templateKind = strings.TrimSpace(templateKind)
	language = strings.ToLower(strings.TrimSpace(language))
	if templateKind == "" {
		templateKind = s.opts.TemplateKind
	}
	if language == "" {
		language = s.opts.Language
	}
	if strings.ContainsAny(templateKind, " \t\n/") {
		return "", "", invalid("template_kind", "must be a single token")
	}
	if strings.ContainsAny(language, " \t\n/") {
		return "", "", invalid("language", "must be a single token")
	}
	return templateKind, language, nil
}

// Allocate consumes the next number of the (templateKind, language) sequence,
// provisioning the sequence with defaults when it does not exist yet. Empty
// arguments fall back to the configured defaults.
func (s *Sequencer) Allocate(ctx context.Context, templateKind, language string) (*Allocation, error) {
	alloc, err := s.allocate(ctx, templateKind, language)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, EventNumberAllocated, "", "", map[string]any{
		"template_kind":   alloc.TemplateKind,
		"language":        alloc.Language,
		"document_number": alloc.Number,
	})
	return alloc, nil
}

// allocate is Allocate without the event; print flows announce the print instead.
func (s *Sequencer) allocate(ctx context.Context, templateKind, language string) (*Allocation, error) {
	kind, lang, err := s.key(templateKind, language)
	if err != nil {
		return nil, err
	}

	// A collision with an already issued number has still advanced the
	// counter, so it does not count against MaxRetries.
	for attempt := 0; attempt < s.opts.MaxRetries; {
		seq, err := s.repo.Sequences.GetSequence(ctx, kind, lang)
		if err != nil {
			return nil, fmt.Errorf("load sequence %s/%s: %w", kind, lang, err)
		}
		if seq == nil {
			if err := s.provision(ctx, kind, lang); err != nil {
				return nil, err
			}
			attempt++
			continue
		}

		won, err := s.repo.Sequences.AdvanceSequence(ctx, kind, lang, seq.CurrentNumber)
		if err != nil {
			return nil, fmt.Errorf("advance sequence %s/%s: %w", kind, lang, err)
		}
		if !won {
			metrics.RecordSequenceConflict(kind, lang)
			attempt++
			continue
		}

		number, overflow := FormatNumber(seq, seq.CurrentNumber)
		err = s.repo.Sequences.ReserveNumber(ctx, kind, lang, number, seq.CurrentNumber)
		if errors.Is(err, repository.ErrAlreadyExists) {
			metrics.RecordNumberCollision(kind, lang)
			s.logger.Warn("document number already issued, skipping",
				slog.String("template_kind", kind),
				slog.String("language", lang),
				slog.String("document_number", number),
				slog.Int64("value", seq.CurrentNumber),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reserve number %s/%s: %w", kind, lang, err)
		}

		if overflow {
			metrics.RecordSequenceOverflow(kind, lang)
			s.logger.Warn("document number exceeds digit width",
				slog.String("template_kind", kind),
				slog.String("language", lang),
				slog.Int64("value", seq.CurrentNumber),
				slog.Int("digit_width", seq.DigitWidth),
			)
		}
		metrics.RecordAllocation(kind, lang)

		return &Allocation{TemplateKind: kind, Language: lang, Value: seq.CurrentNumber, Number: number, Overflow: overflow}, nil
	}

	return nil, fmt.Errorf("allocate %s/%s after %d attempts: %w", kind, lang, s.opts.MaxRetries, ErrConflict)
}

func (s *Sequencer) provision(ctx context.Context, kind, lang string) error {
	seq := &models.DocumentSequence{
		TemplateKind:  kind,
		Language:      lang,
		Prefix:        s.opts.DefaultPrefix,
		DigitWidth:    s.opts.DefaultDigitWidth,
		Suffix:        s.opts.DefaultSuffix,
		CurrentNumber: 1,
		Updated:       s.now(),
	}
	err := s.repo.Sequences.CreateSequence(ctx, seq)
	if err != nil && !errors.Is(err, repository.ErrAlreadyExists) {
		return fmt.Errorf("provision sequence %s/%s: %w", kind, lang, err)
	}
	if err == nil {
		s.logger.Info("sequence provisioned", slog.String("template_kind", kind), slog.String("language", lang))
	}
	return nil
}

// PeekNext formats the number the next allocation would return without
// consuming it. Concurrent allocations may take it first.
func (s *Sequencer) PeekNext(ctx context.Context, templateKind, language string) (*Allocation, error) {
	seq, err := s.Get(ctx, templateKind, language)
	if err != nil {
		return nil, err
	}
	number, overflow := FormatNumber(seq, seq.CurrentNumber)
	return &Allocation{TemplateKind: seq.TemplateKind, Language: seq.Language, Value: seq.CurrentNumber, Number: number, Overflow: overflow}, nil
}

func (s *Sequencer) Get(ctx context.Context, templateKind, language string) (*models.DocumentSequence, error) {
	kind, lang, err := s.key(templateKind, language)
	if err != nil {
		return nil, err
	}
	seq, err := s.repo.Sequences.GetSequence(ctx, kind, lang)
	if err != nil {
		return nil, fmt.Errorf("load sequence %s/%s: %w", kind, lang, err)
	}
	if seq == nil {
		return nil, notFound("sequence", kind+"/"+lang)
	}
	return seq, nil
}

// Configure creates the sequence or replaces its prefix, width and suffix.
// The counter itself is never lowered.
func (s *Sequencer) Configure(ctx context.Context, f SequenceFormat) (*models.DocumentSequence, error) {
	kind, lang, err := s.key(f.TemplateKind, f.Language)
	if err != nil {
		return nil, err
	}
	if f.DigitWidth < 1 || f.DigitWidth > maxDigitWidth {
		return nil, invalid("digit_width", fmt.Sprintf("must be between 1 and %d", maxDigitWidth))
	}

	seq := &models.DocumentSequence{
		TemplateKind:  kind,
		Language:      lang,
		Prefix:        f.Prefix,
		DigitWidth:    f.DigitWidth,
		Suffix:        f.Suffix,
		CurrentNumber: 1,
		Updated:       s.now(),
	}
	err = s.repo.Sequences.CreateSequence(ctx, seq)
	if errors.Is(err, repository.ErrAlreadyExists) {
		err = s.repo.Sequences.UpdateSequenceFormat(ctx, seq)
	}
	if err != nil {
		return nil, fmt.Errorf("configure sequence %s/%s: %w", kind, lang, err)
	}
	return s.Get(ctx, kind, lang)
}

// FormatNumber renders value with the sequence's prefix, zero padding and
// suffix. Values wider than DigitWidth are emitted in full and reported
// through the second return value. Thai sequences have every ASCII digit of
// the result replaced with Thai numerals.
func FormatNumber(seq *models.DocumentSequence, value int64) (string, bool) {
	digits := strconv.FormatInt(value, 10)
	overflow := len(digits) > seq.DigitWidth
	if pad := seq.DigitWidth - len(digits); pad > 0 {
		digits = strings.Repeat("0", pad) + digits
	}
	out := seq.Prefix + digits + seq.Suffix
	if seq.Language == LanguageThai {
		out = LocalizeDigits(out)
	}
	return out, overflow
}

// LocalizeDigits replaces ASCII digits 0-9 with Thai numerals ๐-๙.
func LocalizeDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return '๐' + (r - '0')
		}
		return r
	}, s)
}
