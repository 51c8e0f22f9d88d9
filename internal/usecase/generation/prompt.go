package generation

import (
	"strconv"
	"strings"

	"github.com/kailas-cloud/ragstream/internal/domain"
	"github.com/kailas-cloud/ragstream/internal/domain/candidate"
)

// BuildPrompt packs ranked documents, in order, into the context budget.
// Packing stops at the first document that does not fit. When even the
// first document is over budget it is trimmed to fit.
func (s *Service) BuildPrompt(question string, ranked []candidate.Ranked) domain.PromptContext {
	pc := domain.PromptContext{System: s.cfg.SystemPrompt, Question: question}
	budget := s.cfg.ContextBudget

	for i, r := range ranked {
		text := r.Text()
		cost := s.counter.Count(text)
		if budget > 0 && pc.Used+cost > budget {
			if i == 0 {
				text = s.counter.Trim(text, budget)
				pc.Documents = append(pc.Documents, text)
				pc.DocIDs = append(pc.DocIDs, r.ID())
				pc.Used = s.counter.Count(text)
			}
			pc.Truncated = true
			break
		}
		pc.Documents = append(pc.Documents, text)
		pc.DocIDs = append(pc.DocIDs, r.ID())
		pc.Used += cost
	}
	return pc
}

// Render turns a packed context into the generation request.
// model overrides the backend's default model when non-empty.
func (s *Service) Render(pc domain.PromptContext, model string) domain.Prompt {
	var sb strings.Builder
	sb.WriteString("Context:\n")
	for i, doc := range pc.Documents {
		sb.WriteString("[")
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteString("] ")
		sb.WriteString(doc)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(pc.Question)

	return domain.Prompt{System: pc.System, User: sb.String(), Model: model}
}
