package synthesis

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSegmentResponseSplitsListsAndSentences(t *testing.T) {
	text := "- Reflect their feelings back to them.\n" +
		"2) Suggest a short walk together to reset the mood.\n" +
		"Ask what has been on their mind lately. Then just listen without fixing."

	segments := SegmentResponse(text)
	require.Equal(t, []string{
		"Reflect their feelings back to them.",
		"Suggest a short walk together to reset the mood.",
		"Ask what has been on their mind lately.",
		"Then just listen without fixing.",
	}, segments)
}

func TestSegmentResponseKeepsQuotedSentencesIntact(t *testing.T) {
	text := "Try saying: \"I miss you. Can we talk tonight?\" and then wait."

	segments := SegmentResponse(text)
	require.Len(t, segments, 1)
	require.Contains(t, segments[0], "Can we talk tonight?")
}

func TestSegmentResponseDropsFragments(t *testing.T) {
	segments := SegmentResponse("Sure.\nHere is one idea worth trying today.")
	require.Equal(t, []string{"Here is one idea worth trying today."}, segments)
}

func TestTokenJaccard(t *testing.T) {
	require.Equal(t, 1.0, TokenJaccard("take a deep breath", "Take a deep breath!"))
	require.Equal(t, 0.0, TokenJaccard("completely different words", "nothing shared here"))
	require.Equal(t, 0.0, TokenJaccard("", "anything"))
}

func TestClassify(t *testing.T) {
	require.Equal(t, CategoryTone, Classify("Acknowledge their feelings first.", ""))
	require.Equal(t, CategoryTiming, Classify("Wait until tonight to bring it up.", ""))
	require.Equal(t, CategoryContent, Classify("Ask an open question about their day.", ""))
	require.Equal(t, CategoryTiming, Classify("Bring up the budget discussion.", "time"))
}
