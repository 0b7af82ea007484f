package synthesis

import (
	"strings"
	"unicode"
)

// minSegmentRunes drops fragments too short to stand alone as a suggestion.
const minSegmentRunes = 12

// SegmentResponse splits raw provider text into candidate suggestions.
// Providers return prose, bullet lists or numbered lists; each sentence or
// list item becomes one candidate.
func SegmentResponse(text string) []string {
	var segments []string
	for _, line := range strings.Split(text, "\n") {
		line = stripListMarker(strings.TrimSpace(line))
		if line == "" {
			continue
		}
		for _, sentence := range splitSentences(line) {
			sentence = strings.TrimSpace(sentence)
			if len([]rune(sentence)) < minSegmentRunes {
				continue
			}
			segments = append(segments, sentence)
		}
	}
	return segments
}

// stripListMarker removes leading bullet and numbered-list prefixes.
func stripListMarker(line string) string {
	for _, marker := range []string{"- ", "* ", "• "} {
		if strings.HasPrefix(line, marker) {
			return strings.TrimSpace(line[len(marker):])
		}
	}
	// Numbered lists: "1. " or "2) ".
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')') {
		return strings.TrimSpace(line[i+1:])
	}
	return line
}

// splitSentences splits on terminal punctuation, keeping the terminator.
// Quoted sentences ("Try saying: 'I feel...'") stay intact because we only
// break at the top level, after a closing quote if one follows.
func splitSentences(line string) []string {
	var (
		sentences []string
		start     int
		inQuote   rune
	)
	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case inQuote != 0:
			if r == inQuote {
				inQuote = 0
			}
		case r == '"' || r == '\'' || r == '“' || r == '‘':
			// Apostrophes inside words are not quote openers.
			if r == '\'' && i > 0 && unicode.IsLetter(runes[i-1]) {
				continue
			}
			inQuote = closingQuote(r)
		case r == '.' || r == '!' || r == '?':
			end := i + 1
			// Swallow runs like "?!" or "...".
			for end < len(runes) && (runes[end] == '.' || runes[end] == '!' || runes[end] == '?') {
				end++
			}
			sentences = append(sentences, string(runes[start:end]))
			i = end - 1
			start = end
		}
	}
	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}
	return sentences
}

func closingQuote(open rune) rune {
	switch open {
	case '“':
		return '”'
	case '‘':
		return '’'
	default:
		return open
	}
}

// leadSentence returns the first sentence of a chunk, used when falling back
// to raw knowledge text.
func leadSentence(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return text
	}
	lead := strings.TrimSpace(sentences[0])
	if len([]rune(lead)) < minSegmentRunes && len(sentences) > 1 {
		lead = strings.TrimSpace(sentences[0] + " " + sentences[1])
	}
	return lead
}
