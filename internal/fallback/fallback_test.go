package fallback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	cases := map[string]Category{
		"Please score this lead":                 CategoryScoring,
		"Write a newsletter for the spring sale": CategoryMarketing,
		"Reply to the customer":                  CategoryChat,
		"Summarise the weather":                  CategoryDefault,
		"":                                       CategoryDefault,
	}
	for prompt, want := range cases {
		assert.Equal(t, want, Detect(prompt), prompt)
	}
}

func TestForIsDeterministic(t *testing.T) {
	c1, t1 := For("", "draft a campaign headline")
	c2, t2 := For("", "draft a campaign headline")
	assert.Equal(t, CategoryMarketing, c1)
	assert.Equal(t, c1, c2)
	assert.Equal(t, t1, t2)
	assert.NotEmpty(t, t1)
}

func TestForHonoursKnownHint(t *testing.T) {
	category, text := For(CategoryChat, "score this")
	assert.Equal(t, CategoryChat, category)
	assert.Equal(t, Text(CategoryChat), text)

	category, _ = For("bogus", "score this")
	assert.Equal(t, CategoryScoring, category)
}

func TestTextUnknownCategory(t *testing.T) {
	assert.Equal(t, Text(CategoryDefault), Text("nope"))
}
