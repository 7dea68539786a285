package summarize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/reposcan/pkg/logging"
)

func TestParseNarrative(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr bool
	}{
		{
			"plain json",
			`{"summary": "Looks risky.", "effort": "High", "steps": ["Upgrade flask"]}`,
			false,
		},
		{
			"fenced json",
			"```json\n{\"summary\": \"Fine.\", \"effort\": \"Low\", \"steps\": [\"Nothing\"]}\n```",
			false,
		},
		{
			"bare fence",
			"```\n{\"summary\": \"Fine.\", \"effort\": \"Low\", \"steps\": []}\n```",
			false,
		},
		{
			"not json",
			"The repository looks fine to me!",
			true,
		},
		{
			"missing summary",
			`{"effort": "Low", "steps": []}`,
			true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			narrative, err := parseNarrative(tc.content)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, narrative.Summary)
		})
	}
}

func TestNewOpenAISummarizerRequiresKey(t *testing.T) {
	_, err := NewOpenAISummarizer("", logging.Discard())
	require.Error(t, err)

	s, err := NewOpenAISummarizer("sk-test", logging.Discard(), WithModel("gpt-4o"))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", s.model)
}
