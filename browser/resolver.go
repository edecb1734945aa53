package browser

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/hazyhaar/pagecheck/actioncache"
)

// ErrNoTarget is returned when no element matches an instruction.
var ErrNoTarget = errors.New("browser: no element matches instruction")

// Target is a resolved action: which element and what to do with it.
type Target struct {
	Selector    string
	Operation   string
	Value       string
	Description string
}

// Resolver turns an instruction into a Target among the observed elements.
// Natural-language understanding lives behind this interface.
type Resolver interface {
	Resolve(ctx context.Context, instruction string, elements []Element) (Target, error)
}

// KeywordResolver ranks elements by how many instruction words their
// visible text, label or link contains. "fill <field> with "value"" and
// "type "value" into <field>" produce fill operations; anything else is a
// click.
type KeywordResolver struct{}

var (
	quoted    = regexp.MustCompile(`"([^"]*)"|'([^']*)'`)
	wordSplit = regexp.MustCompile(`[^\p{L}\p{N}]+`)
)

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "on": true, "in": true, "into": true,
	"to": true, "of": true, "with": true, "and": true, "at": true, "for": true,
	"click": true, "press": true, "tap": true, "select": true, "open": true,
	"fill": true, "type": true, "enter": true, "field": true, "please": true,
}

func (KeywordResolver) Resolve(_ context.Context, instruction string, elements []Element) (Target, error) {
	op, value, rest := parseInstruction(instruction)
	words := keywords(rest)
	if len(words) == 0 {
		return Target{}, ErrNoTarget
	}

	best, bestScore := -1, 0
	for i, el := range elements {
		if op == actioncache.OpFill && !fillable(el) {
			continue
		}
		score := scoreElement(el, words)
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return Target{}, ErrNoTarget
	}

	el := elements[best]
	return Target{
		Selector:    el.Selector,
		Operation:   op,
		Value:       value,
		Description: "<" + el.Tag + "> " + el.Text,
	}, nil
}

// parseInstruction extracts the operation, the quoted value (fill only) and
// the remaining words that describe the element.
func parseInstruction(instruction string) (op, value, rest string) {
	lower := strings.ToLower(strings.TrimSpace(instruction))
	if !strings.HasPrefix(lower, "fill") && !strings.HasPrefix(lower, "type") && !strings.HasPrefix(lower, "enter") {
		// Quotes around a click target are part of its description.
		return actioncache.OpClick, "", instruction
	}
	if m := quoted.FindStringSubmatch(instruction); m != nil {
		value = m[1] + m[2]
	}
	return actioncache.OpFill, value, quoted.ReplaceAllString(instruction, " ")
}

func keywords(s string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, w := range wordSplit.Split(strings.ToLower(s), -1) {
		if w == "" || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// scoreElement weights text matches above attribute matches, and link or
// button words ("link", "button") toward the matching tag.
func scoreElement(el Element, words []string) int {
	text := strings.ToLower(el.Text + " " + el.Placeholder)
	href := strings.ToLower(el.Href)
	score := 0
	for _, w := range words {
		switch {
		case w == "link" && el.Tag == "a":
			score++
		case w == "button" && (el.Tag == "button" || el.Role == "button"):
			score++
		case strings.Contains(text, w):
			score += 3
		case href != "" && strings.Contains(href, w):
			score++
		}
	}
	return score
}

func fillable(el Element) bool {
	switch el.Tag {
	case "input", "textarea", "select":
		return true
	}
	return el.Role == "textbox"
}
