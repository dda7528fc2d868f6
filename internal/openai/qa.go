package openai

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloo-solutions/kbindex/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

const qaSystemPrompt = `You turn reference text into question and answer pairs for a knowledge base.
Write as many pairs as the text supports, each answer self-contained and grounded in the text.
Use exactly this format and nothing else:
Q1: <question>
A1: <answer>
Q2: <question>
A2: <answer>`

// QAPair is one synthesized question with its answer
type QAPair struct {
	Q string
	A string
}

type QAResult struct {
	Pairs  []QAPair
	Tokens int
}

// GenerateQA asks the chat model for question/answer pairs covering text.
// A reply with no parsable pairs yields an empty Pairs slice and no error.
func (c *Client) GenerateQA(ctx context.Context, text, modelName string) (*QAResult, error) {
	m, err := c.models.Chat(modelName)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, domain.Wrap(domain.ErrInvalidInput, errors.New("text is empty"))
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: m.Name,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: qaSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		MaxCompletionTokens: m.MaxResponse,
		Temperature:         0.3,
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, domain.Wrap(domain.ErrUpstream, fmt.Errorf("chat model %s returned no choices", m.Name))
	}

	return &QAResult{
		Pairs:  ParseQA(resp.Choices[0].Message.Content),
		Tokens: resp.Usage.TotalTokens,
	}, nil
}

var qaMarker = regexp.MustCompile(`(?m)^[ \t]*([QA])(\d+)[ \t]*[:：]`)

// ParseQA extracts "Qn: ... An: ..." pairs. A question is paired with the
// answer carrying the same number; unpaired or empty questions are skipped.
func ParseQA(text string) []QAPair {
	locs := qaMarker.FindAllStringSubmatchIndex(text, -1)
	pairs := []QAPair{}

	var pending *QAPair
	pendingNum := ""
	for i, loc := range locs {
		kind := text[loc[2]:loc[3]]
		num := text[loc[4]:loc[5]]
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(text[loc[1]:end])

		switch kind {
		case "Q":
			pending = &QAPair{Q: body}
			pendingNum = num
		case "A":
			if pending != nil && num == pendingNum && pending.Q != "" {
				pending.A = body
				pairs = append(pairs, *pending)
			}
			pending = nil
		}
	}
	return pairs
}
