package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/cuongbtq/evalpipe/internal/domain"
	"github.com/cuongbtq/evalpipe/internal/telemetry"
)

// Scoring methods, reported with every result
const (
	MethodSemantic = "semantic"
	MethodEnhanced = "enhanced"
	MethodBasic    = "basic"
	MethodTrivial  = "trivial"
)

// Judge sends an evaluation prompt to an external model and returns its raw reply
type Judge interface {
	Judge(ctx context.Context, prompt string) (string, error)
}

// Result is one similarity verdict
type Result struct {
	Score       float64
	Reasoning   string
	Differences string
	Method      string
}

// Scorer compares an expected and an actual response. It asks the judge first,
// falls back to the enhanced heuristic and, if that fails, to edit distance alone.
type Scorer struct {
	judge    Judge
	logger   *slog.Logger
	recorder telemetry.Recorder
}

// NewScorer creates a new Scorer. A nil judge disables the semantic path.
func NewScorer(judge Judge, logger *slog.Logger, recorder telemetry.Recorder) *Scorer {
	if recorder == nil {
		recorder = telemetry.Nop{}
	}
	return &Scorer{
		judge:    judge,
		logger:   logger,
		recorder: recorder,
	}
}

// Score returns a similarity in [0,1]. It only fails when ctx is canceled.
func (s *Scorer) Score(ctx context.Context, expected, actual string) (Result, error) {
	expected, actual = strings.TrimSpace(expected), strings.TrimSpace(actual)

	switch {
	case expected == "" && actual == "":
		return Result{Score: 1, Reasoning: "both empty", Differences: "none", Method: MethodTrivial}, nil
	case expected == "" || actual == "":
		return Result{Score: 0, Reasoning: "one response is empty", Differences: "one side has no content", Method: MethodTrivial}, nil
	}

	if s.judge != nil {
		res, err := s.semantic(ctx, expected, actual)
		if err == nil {
			s.recorder.IncCounter("scoring.semantic")
			return res, nil
		}
		if domain.IsCancellation(err) {
			return Result{}, err
		}
		s.logger.Warn("Semantic scoring unavailable, using heuristic",
			slog.Any("error", err),
		)
	}

	res, err := enhanced(expected, actual)
	if err == nil {
		s.recorder.IncCounter("scoring.enhanced")
		return res, nil
	}

	s.logger.Warn("Enhanced scoring failed, using edit distance",
		slog.Any("error", err),
	)
	s.recorder.IncCounter("scoring.basic")
	return basic(expected, actual), nil
}

func (s *Scorer) semantic(ctx context.Context, expected, actual string) (Result, error) {
	reply, err := s.judge.Judge(ctx, judgePrompt(expected, actual))
	if err != nil {
		return Result{}, fmt.Errorf("judge call failed: %w", err)
	}

	score, ok := ParseJudgeScore(reply)
	if !ok {
		return Result{}, fmt.Errorf("no score in judge reply")
	}

	res := Result{
		Score:       score,
		Reasoning:   extractLine(reasoningLine, reply),
		Differences: extractLine(differencesLine, reply),
		Method:      MethodSemantic,
	}
	if res.Reasoning == "" {
		res.Reasoning = "semantic similarity judged by model"
	}
	if res.Differences == "" {
		res.Differences = TermDifferences(expected, actual)
	}
	return res, nil
}

func enhanced(expected, actual string) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("enhanced scoring panicked: %v", r)
		}
	}()

	score := EnhancedScore(expected, actual)
	return Result{
		Score:       score,
		Reasoning:   fmt.Sprintf("heuristic similarity %.3f (edit distance, token overlap, length ratio)", score),
		Differences: TermDifferences(expected, actual),
		Method:      MethodEnhanced,
	}, nil
}

func basic(expected, actual string) Result {
	score := clamp(EditDistanceScore(expected, actual))
	return Result{
		Score:       score,
		Reasoning:   fmt.Sprintf("edit distance similarity %.3f", score),
		Differences: fmt.Sprintf("%d character edits", Levenshtein(expected, actual)),
		Method:      MethodBasic,
	}
}

func judgePrompt(expected, actual string) string {
	var b strings.Builder
	b.WriteString("Compare the actual response with the expected response and rate how similar they are in meaning.\n")
	b.WriteString("Reply with exactly three lines:\n")
	b.WriteString("Score: <number between 0 and 1>\n")
	b.WriteString("Reasoning: <one sentence>\n")
	b.WriteString("Differences: <key differences, or none>\n\n")
	b.WriteString("Expected response:\n")
	b.WriteString(expected)
	b.WriteString("\n\nActual response:\n")
	b.WriteString(actual)
	b.WriteString("\n")
	return b.String()
}

var (
	scoreLine       = regexp.MustCompile(`(?i)score\s*[:=]\s*\**\s*(\d+(?:\.\d+)?)\s*(/\s*10(?:0)?|%)?`)
	bareNumber      = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*(/\s*10(?:0)?|%)?\s*$`)
	reasoningLine   = regexp.MustCompile(`(?im)^\s*\**reasoning\**\s*:\s*(.+)$`)
	differencesLine = regexp.MustCompile(`(?im)^\s*\**differences\**\s*:\s*(.+)$`)
)

// ParseJudgeScore extracts a score from a judge reply. Values on a 0-10 scale
// ("8/10") are divided by 10 and values on a 0-100 scale ("80%") by 100;
// the result is clamped to [0,1].
func ParseJudgeScore(reply string) (float64, bool) {
	m := scoreLine.FindStringSubmatch(reply)
	if m == nil {
		m = bareNumber.FindStringSubmatch(reply)
	}
	if m == nil {
		return 0, false
	}

	raw, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}

	return normalize(raw, strings.ReplaceAll(m[2], " ", "")), true
}

func normalize(raw float64, scale string) float64 {
	switch scale {
	case "%", "/100":
		return clamp(raw / 100)
	case "/10":
		return clamp(raw / 10)
	}

	switch {
	case raw <= 1:
		return clamp(raw)
	case raw <= 10:
		return clamp(raw / 10)
	default:
		return clamp(raw / 100)
	}
}

func extractLine(re *regexp.Regexp, reply string) string {
	m := re.FindStringSubmatch(reply)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
