package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cuongbtq/evalpipe/internal/domain"
	"github.com/cuongbtq/evalpipe/internal/llm"
)

// knowledgeResults is how many knowledge hits are placed ahead of a prompt
const knowledgeResults = 3

var errNoPrompt = errors.New("row has no prompt column")

// ProcessRow produces, scores and judges the response to one input row
func (e *Engine) ProcessRow(ctx context.Context, row Row, index int, cfg domain.JobConfiguration) (domain.EvaluationResult, error) {
	ctx, end := e.recorder.StartSpan(ctx, "engine.process_row")
	defer end()

	item := domain.EvaluationResult{
		ItemID:           itemID(row, index),
		Prompt:           row.lookup(promptColumns),
		ExpectedResponse: row.lookup(expectedColumns),
	}
	if item.Prompt == "" {
		return item, domain.NewNonRetryableError(domain.KindInvalidArgument, errNoPrompt)
	}

	actual, err := e.respond(ctx, applyTemplate(cfg.PromptTemplate, item.Prompt), cfg)
	if err != nil {
		return item, fmt.Errorf("failed to get response: %w", err)
	}
	item.ActualResponse = actual

	verdict, err := e.scorer.Score(ctx, item.ExpectedResponse, actual)
	if err != nil {
		return item, fmt.Errorf("failed to score response: %w", err)
	}

	threshold := cfg.Threshold()
	item.SimilarityScore = verdict.Score
	item.Passed = verdict.Score >= threshold
	item.Reasoning = reasoning(item.Passed, verdict.Score, threshold, verdict.Method, verdict.Reasoning)
	item.Differences = verdict.Differences

	e.recorder.IncCounter("engine.rows_evaluated")
	return item, nil
}

// respond asks the chat collaborator for the actual answer to prompt
func (e *Engine) respond(ctx context.Context, prompt string, cfg domain.JobConfiguration) (string, error) {
	if e.chat == nil {
		return "", domain.NewNonRetryableError(domain.KindConfiguration, errors.New("no chat collaborator configured"))
	}

	preamble, err := e.buildContext(ctx, cfg, prompt)
	if err != nil {
		return "", err
	}

	token, err := e.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get auth token: %w", err)
	}

	conversationID, err := e.chat.CreateConversation(ctx, token)
	if err != nil {
		return "", err
	}

	text := prompt
	if preamble != "" {
		text = preamble + "\n\n" + prompt
	}

	resp, err := e.chat.Chat(ctx, token, conversationID, llm.ChatRequest{
		Text:         text,
		LocationHint: e.locationHint,
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// buildContext joins the agent instructions and any knowledge hits for query
func (e *Engine) buildContext(ctx context.Context, cfg domain.JobConfiguration, query string) (string, error) {
	var parts []string
	if instructions := strings.TrimSpace(cfg.Agent.Instructions); instructions != "" {
		parts = append(parts, instructions)
	}

	sourceID := cfg.Agent.KnowledgeSourceID
	if sourceID == nil || *sourceID == "" || e.search == nil {
		return strings.Join(parts, "\n\n"), nil
	}

	token, err := e.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get auth token: %w", err)
	}

	hits, err := e.search.Search(ctx, token, *sourceID, query, knowledgeResults)
	if err != nil {
		return "", err
	}
	if len(hits) > 0 {
		var b strings.Builder
		b.WriteString("Relevant knowledge:")
		for _, hit := range hits {
			b.WriteString("\n- ")
			b.WriteString(strings.TrimSpace(hit.Content))
		}
		parts = append(parts, b.String())
	}

	return strings.Join(parts, "\n\n"), nil
}

func applyTemplate(template, prompt string) string {
	if !strings.Contains(template, "{prompt}") {
		return prompt
	}
	return strings.ReplaceAll(template, "{prompt}", prompt)
}

func itemID(row Row, index int) string {
	if id := row.lookup(idColumns); id != "" {
		return id
	}
	return strconv.Itoa(index + 1)
}

func reasoning(passed bool, score, threshold float64, method, detail string) string {
	verdict := "FAIL"
	cmp := "<"
	if passed {
		verdict = "PASS"
		cmp = ">="
	}

	text := fmt.Sprintf("%s: similarity %.3f %s threshold %.2f (%s scoring)", verdict, score, cmp, threshold, method)
	if detail = strings.TrimSpace(detail); detail != "" {
		text += ". " + detail
	}
	return text
}

// failedItem records a row that could not be evaluated
func failedItem(row Row, index int, err error) domain.EvaluationResult {
	return domain.EvaluationResult{
		ItemID:           itemID(row, index),
		Prompt:           row.lookup(promptColumns),
		ExpectedResponse: row.lookup(expectedColumns),
		SimilarityScore:  0,
		Passed:           false,
		Reasoning:        "FAIL: evaluation error: " + err.Error(),
		Differences:      "not evaluated",
	}
}
