package voice

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/MrWong99/pokercoach/pkg/poker"
	"github.com/antzucaro/matchr"
)

const (
	minTranscriptLen = 3
	maxCommandWords  = 6

	// fuzzyThreshold is the minimum Jaro-Winkler similarity for a first word
	// to stand in for a keyword it does not spell exactly.
	fuzzyThreshold = 0.88
)

// Command is a parsed voice command.
type Command struct {
	Action poker.Action

	// Amount is the spoken amount, or nil when none was given.
	Amount *float64

	// AllIn marks a spoken all-in. It is submitted as a raise without an
	// amount so the table service applies its own sizing.
	AllIn bool

	// Text is the transcript the command was parsed from.
	Text string
}

// Key identifies a command for deduplication: two commands with the same
// action and amount share a key.
func (c Command) Key() string {
	switch {
	case c.AllIn:
		return "raise:all-in"
	case c.Amount == nil:
		return string(c.Action)
	default:
		return string(c.Action) + ":" + strconv.FormatFloat(*c.Amount, 'f', 2, 64)
	}
}

// String renders the command the way the status stream shows it.
func (c Command) String() string {
	switch {
	case c.AllIn:
		return "all-in"
	case c.Amount == nil:
		return string(c.Action)
	default:
		return string(c.Action) + " " + strconv.FormatFloat(*c.Amount, 'f', -1, 64)
	}
}

var keywords = []poker.Action{poker.ActionFold, poker.ActionCheck, poker.ActionCall, poker.ActionRaise}

// Vocabulary lists the words commands start with, for transcribers that
// accept recognition hints.
func Vocabulary() []string {
	words := make([]string, 0, len(keywords)+1)
	for _, k := range keywords {
		words = append(words, string(k))
	}
	return append(words, "all in")
}

// Parse turns a transcript into a command. The transcript must begin with a
// keyword, optionally preceded by "I" or "I'll":
//
//	fold
//	check
//	call [amount]
//	raise [to] amount
//	all-in
//
// Transcripts shorter than three characters or longer than six words are
// treated as noise or table talk and rejected.
func Parse(text string) (Command, bool) {
	trimmed := strings.TrimSpace(text)
	if len([]rune(trimmed)) < minTranscriptLen {
		return Command{}, false
	}
	words := tokenize(trimmed)
	if len(words) == 0 || len(words) > maxCommandWords {
		return Command{}, false
	}

	if words[0] == "i" || words[0] == "ill" {
		words = words[1:]
	}
	if len(words) == 0 {
		return Command{}, false
	}

	if isAllIn(words) {
		return Command{Action: poker.ActionRaise, AllIn: true, Text: trimmed}, true
	}

	action, ok := matchKeyword(words[0])
	if !ok {
		return Command{}, false
	}
	cmd := Command{Action: action, Text: trimmed}
	rest := words[1:]

	switch action {
	case poker.ActionCall:
		if amt, ok := parseAmount(rest); ok {
			cmd.Amount = &amt
		}
	case poker.ActionRaise:
		if len(rest) > 0 && rest[0] == "to" {
			rest = rest[1:]
		}
		amt, ok := parseAmount(rest)
		if !ok {
			return Command{}, false
		}
		cmd.Amount = &amt
	}
	return cmd, true
}

// tokenize lowercases text and splits it into words. Apostrophes are
// removed so "I'll" becomes "ill"; other punctuation separates words except
// for a decimal point between digits.
func tokenize(text string) []string {
	var b strings.Builder
	runes := []rune(strings.ToLower(text))
	for i, r := range runes {
		switch {
		case r == '\'' || r == '’':
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '.' && i > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]):
			b.WriteRune(r)
		case r == ',' && i > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]):
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

func isAllIn(words []string) bool {
	if words[0] == "allin" {
		return true
	}
	return len(words) >= 2 && words[0] == "all" && words[1] == "in"
}

// matchKeyword resolves the first word to an action. An exact match wins;
// otherwise the most similar keyword is taken when it clears the fuzzy
// threshold, which absorbs transcriptions such as "folds" or "raised".
func matchKeyword(word string) (poker.Action, bool) {
	var (
		best      poker.Action
		bestScore float64
	)
	for _, kw := range keywords {
		if word == string(kw) {
			return kw, true
		}
		if s := matchr.JaroWinkler(word, string(kw), false); s > bestScore {
			best, bestScore = kw, s
		}
	}
	if bestScore >= fuzzyThreshold {
		return best, true
	}
	return "", false
}
