package dialogue

// Sentiment is the overall tone of a concluded conversation.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Fixed emotion classification. Tags outside both sets count as neutral.
var (
	positiveEmotions = map[string]bool{
		"happy":    true,
		"excited":  true,
		"friendly": true,
		"grateful": true,
		"amused":   true,
		"warm":     true,
		"curious":  true,
	}
	negativeEmotions = map[string]bool{
		"angry":      true,
		"sad":        true,
		"annoyed":    true,
		"hostile":    true,
		"fearful":    true,
		"frustrated": true,
		"dismissive": true,
	}
)

// Classify derives conversation sentiment by majority vote over the
// message-level emotion tags. Ties are neutral.
func Classify(messages []Message) Sentiment {
	var pos, neg int
	for _, m := range messages {
		switch {
		case positiveEmotions[m.Emotion]:
			pos++
		case negativeEmotions[m.Emotion]:
			neg++
		}
	}
	switch {
	case pos > neg:
		return SentimentPositive
	case neg > pos:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}
