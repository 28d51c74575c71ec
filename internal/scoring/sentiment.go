package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Sentiment is the tone of a customer message.
type Sentiment string

const (
	Positive         Sentiment = "positive"
	Neutral          Sentiment = "neutral"
	Negative         Sentiment = "negative"
	SentimentUnknown Sentiment = "unknown"
)

// Sentiment classifies text. Replies mentioning neither positive nor
// negative read as neutral; provider errors yield SentimentUnknown.
func (s *Scorer) Sentiment(ctx context.Context, text string) Sentiment {
	prompt := fmt.Sprintf("You are a sentiment analysis expert. Classify the following customer support message "+
		"as one of the following: Positive, Neutral, or Negative.\n\nMessage: %q\nRespond with one word only.", text)

	resp, err := s.provider.Chat(ctx, prompt)
	if err != nil {
		slog.Warn("scoring: sentiment provider error", "error", err)
		return SentimentUnknown
	}

	r := strings.ToLower(resp)
	switch {
	case strings.Contains(r, "positive"):
		return Positive
	case strings.Contains(r, "negative"):
		return Negative
	default:
		return Neutral
	}
}
