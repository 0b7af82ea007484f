package session

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/attuneai/attune/server/ai"
	"github.com/attuneai/attune/server/convo"
	"github.com/attuneai/attune/store"
)

const coachSystemPrompt = `You are a relationship communication coach listening to a live conversation between partners.
Suggest short, concrete things the user could say or do next. One suggestion per line.
Ground suggestions in the reference material when it is relevant. Never mention that you are an AI or that reference material exists.`

// maxGroundingExcerpt bounds how much of a chunk is quoted into the prompt.
const maxGroundingExcerpt = 400

// buildRequest assembles the completion request from the context snapshot and
// the retrieved grounding. With no chunks the prompt simply carries no
// reference section (ungrounded mode).
func buildRequest(snap convo.Snapshot, chunks []*store.KnowledgeChunk) *ai.CompletionRequest {
	var sb strings.Builder
	sb.WriteString(coachSystemPrompt)
	fmt.Fprintf(&sb, "\n\nConversation topic: %s. Sentiment trend: %s.", snap.Topic, snap.SentimentTrend)

	if len(chunks) > 0 {
		sb.WriteString("\n\nReference material:")
		for _, c := range chunks {
			excerpt := c.Text
			if len(excerpt) > maxGroundingExcerpt {
				cut := maxGroundingExcerpt
				// Never split a multibyte rune.
				for cut > 0 && !utf8.RuneStart(excerpt[cut]) {
					cut--
				}
				excerpt = excerpt[:cut]
			}
			fmt.Fprintf(&sb, "\n- %s", excerpt)
		}
	}

	return &ai.CompletionRequest{
		System:   sb.String(),
		Messages: []ai.Message{{Role: "user", Content: transcript(snap)}},
	}
}

// transcript renders the window as "sender: text" lines, most recent last.
func transcript(snap convo.Snapshot) string {
	var sb strings.Builder
	for i, msg := range snap.Messages {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sender := msg.Sender
		if sender == "" {
			sender = "user"
		}
		fmt.Fprintf(&sb, "%s: %s", sender, msg.Text)
	}
	return sb.String()
}
