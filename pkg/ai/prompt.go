package ai

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"chapterwise/pkg/domain"
)

// DefaultContextBudget caps the chapter text placed in one prompt, in runes.
const DefaultContextBudget = 24000

const systemPromptTemplate = `You are a reading companion answering questions about a book.
The reader has finished chapter %d. Use only the chapter excerpts provided.
Never reveal, hint at or speculate about events, characters or twists after chapter %d.
If the excerpts do not answer the question, say so without guessing ahead.
Answer in the language of the question, in a few short paragraphs.`

// Prompt is a ready-to-send prompt plus the chapters it quotes.
type Prompt struct {
	System  string
	User    string
	Sources []domain.Source
}

// BuildPrompt keeps only chapters at or below limit. When the text exceeds
// budget, the most recent chapters are kept and older ones dropped, since
// they matter most to "what just happened" questions.
func BuildPrompt(question string, limit int, chapters []domain.Chapter, budget int) (Prompt, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Prompt{}, fmt.Errorf("question required")
	}
	if limit <= 0 {
		return Prompt{}, fmt.Errorf("chapter limit must be positive")
	}
	if budget <= 0 {
		budget = DefaultContextBudget
	}

	var kept []domain.Chapter
	used := 0
	for i := len(chapters) - 1; i >= 0; i-- {
		ch := chapters[i]
		if ch.Order < 1 || ch.Order > limit {
			continue
		}
		size := utf8.RuneCountInString(ch.Content)
		if used+size > budget {
			if len(kept) > 0 {
				break
			}
			ch.Content = truncateRunes(ch.Content, budget)
			size = budget
		}
		used += size
		kept = append(kept, ch)
	}

	var b strings.Builder
	sources := make([]domain.Source, 0, len(kept))
	for i := len(kept) - 1; i >= 0; i-- {
		ch := kept[i]
		fmt.Fprintf(&b, "## Chapter %d", ch.Order)
		if ch.Name != "" {
			fmt.Fprintf(&b, ": %s", ch.Name)
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(ch.Content))
		b.WriteString("\n\n")
		sources = append(sources, domain.Source{Chapter: ch.Order, Name: ch.Name})
	}
	if len(kept) == 0 {
		b.WriteString("(No chapter text is available.)\n\n")
	}
	fmt.Fprintf(&b, "Question: %s", question)

	return Prompt{
		System:  fmt.Sprintf(systemPromptTemplate, limit, limit),
		User:    b.String(),
		Sources: sources,
	}, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[len(r)-n:])
}
