// Package postcall implements the Post-Call Pipeline (C4): turning a
// finished session's transcript into structured results and side effects
// (§4.4).
package postcall

import (
	"regexp"
	"strings"

	"github.com/pailflow/pailflow/pkg/models"
)

// transcriptLinePattern matches the "[<ISO8601>] <speaker>: <content>" line
// format produced by the Transcript Handler (§4.2.1).
var transcriptLinePattern = regexp.MustCompile(`^\[[^\]]*\]\s*([^:]+):\s*(.*)$`)

type transcriptLine struct {
	speaker string
	content string
}

func parseLines(transcript string) []transcriptLine {
	var lines []transcriptLine
	for _, raw := range strings.Split(transcript, "\n") {
		raw = strings.TrimRight(raw, "\r")
		if raw == "" {
			continue
		}
		m := transcriptLinePattern.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		lines = append(lines, transcriptLine{speaker: strings.TrimSpace(m[1]), content: strings.TrimSpace(m[2])})
	}
	return lines
}

// isBotSpeaker reports whether a speaker name matches the bot's own name,
// used to attribute questions to the assistant side of the transcript.
func isBotSpeaker(speaker, botName string) bool {
	if botName == "" {
		return strings.Contains(strings.ToLower(speaker), "bot") || strings.Contains(strings.ToLower(speaker), "assistant") || strings.Contains(strings.ToLower(speaker), "interview")
	}
	return strings.EqualFold(speaker, botName)
}

// ParseQAPairs tokenizes a transcript by speaker-alternation markers into
// an ordered sequence of {question, answer} pairs, attributing questions
// to the bot/assistant speaker and answers to the immediately following
// non-bot speaker's content (§4.4 step 2). If no discernible pairs exist,
// it produces a single fallback pair carrying the entire transcript.
func ParseQAPairs(transcript, botName string) []models.QAPair {
	lines := parseLines(transcript)
	if len(lines) == 0 {
		return fallbackPair(transcript)
	}

	var pairs []models.QAPair
	var pendingQuestion string
	haveQuestion := false

	for _, line := range lines {
		if isBotSpeaker(line.speaker, botName) {
			pendingQuestion = line.content
			haveQuestion = true
			continue
		}
		if haveQuestion {
			pairs = append(pairs, models.QAPair{Question: pendingQuestion, Answer: line.content})
			haveQuestion = false
			pendingQuestion = ""
		}
	}

	if len(pairs) == 0 {
		return fallbackPair(transcript)
	}
	return pairs
}

func fallbackPair(transcript string) []models.QAPair {
	return []models.QAPair{{Question: "Full Interview Transcript", Answer: transcript, QuestionID: nil}}
}
