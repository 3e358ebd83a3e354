package main

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorProducesValidPosts(t *testing.T) {
	gen := &generator{rng: rand.New(rand.NewSource(42))}

	for i := 0; i < 1000; i++ {
		ev := gen.next()

		assert.NotEmpty(t, ev.PostID)
		assert.Contains(t, platforms, ev.Platform)
		assert.Positive(t, ev.EventTS)
		assert.GreaterOrEqual(t, ev.Sentiment, -1.0)
		assert.LessOrEqual(t, ev.Sentiment, 1.0)
		assert.GreaterOrEqual(t, ev.Engagement, int64(0))

		require.NotEmpty(t, ev.Topics)
		require.LessOrEqual(t, len(ev.Topics), 3)
		seen := map[string]struct{}{}
		for _, topic := range ev.Topics {
			assert.Contains(t, topicPool, topic)
			_, dup := seen[topic]
			assert.False(t, dup, "topics must be unique within a post")
			seen[topic] = struct{}{}
		}
	}
}

func TestGeneratorSentimentMix(t *testing.T) {
	gen := &generator{rng: rand.New(rand.NewSource(7))}

	var positive, negative, neutral int
	const n = 10000
	for i := 0; i < n; i++ {
		switch ev := gen.next(); {
		case ev.Sentiment > 0.1:
			positive++
		case ev.Sentiment < -0.1:
			negative++
		default:
			neutral++
		}
	}

	assert.InDelta(t, 0.4, float64(positive)/n, 0.03)
	assert.InDelta(t, 0.3, float64(negative)/n, 0.03)
	assert.InDelta(t, 0.3, float64(neutral)/n, 0.03)
}
