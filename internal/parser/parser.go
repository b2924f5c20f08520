// Package parser reads flashcard decks written in markdown.
//
// A card starts with a "Q:" line, followed by an "A:" line and an optional
// "C:" line listing comma-separated tags. Any field may continue over
// several lines. "---" on its own line ends the current card.
package parser

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/conorfennell/knolroom/internal/domain"
)

const (
	questionPrefix = "Q:"
	answerPrefix   = "A:"
	tagsPrefix     = "C:"
	separator      = "---"
)

type state int

const (
	seeking state = iota
	readingQuestion
	readingAnswer
	readingTags
)

// ParseFile reads a file from the given path and extracts all entries.
func ParseFile(path string) ([]domain.DeckEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	entries, err := Parse(file)
	for i := range entries {
		entries[i].Source = path
	}
	return entries, err
}

// Parse reads from an io.Reader and extracts all entries that have both a
// question and an answer.
func Parse(r io.Reader) ([]domain.DeckEntry, error) {
	p := &deckParser{}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.line(scanner.Text())
	}
	p.finishCard() // Finish the very last card in the file

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return p.entries, nil
}

type deckParser struct {
	entries  []domain.DeckEntry
	question string
	answer   string
	tags     []string
	block    []string
	state    state
}

func (p *deckParser) line(line string) {
	if line == separator {
		p.finishCard()
		return
	}

	next, content, ok := fieldStart(line)
	if !ok {
		if p.state != seeking {
			p.block = append(p.block, line)
		}
		return
	}

	p.flushBlock()
	if next == readingQuestion && p.state != seeking {
		p.finishCard() // A new question always starts a new card
	}
	p.state = next
	p.block = append(p.block, content)
}

// fieldStart reports whether line opens a Q:, A: or C: field.
func fieldStart(line string) (state, string, bool) {
	for _, f := range []struct {
		prefix string
		state  state
	}{
		{questionPrefix, readingQuestion},
		{answerPrefix, readingAnswer},
		{tagsPrefix, readingTags},
	} {
		if strings.HasPrefix(line, f.prefix) {
			return f.state, strings.TrimPrefix(line[len(f.prefix):], " "), true
		}
	}
	return seeking, "", false
}

func (p *deckParser) flushBlock() {
	if len(p.block) == 0 {
		return
	}
	content := strings.TrimSpace(strings.Join(p.block, "\n"))
	switch p.state {
	case readingQuestion:
		p.question = content
	case readingAnswer:
		p.answer = content
	case readingTags:
		p.tags = splitTags(content)
	}
	p.block = nil
}

func (p *deckParser) finishCard() {
	p.flushBlock()
	if p.question != "" && p.answer != "" {
		p.entries = append(p.entries, domain.DeckEntry{
			Question: p.question,
			Answer:   p.answer,
			Tags:     p.tags,
		})
	}
	p.question, p.answer, p.tags = "", "", nil
	p.state = seeking
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' }) {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
