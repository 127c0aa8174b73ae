package extraction_test

import (
	"testing"
	"time"

	"github.com/renewalhq/crt/extraction"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPrompt(t *testing.T) {
	t.Parallel()

	prompt := extraction.BuildPrompt("This Agreement is between Acme Cloud and Customer.")
	assert.Contains(t, prompt, "noticePeriodDays")
	assert.Contains(t, prompt, "price-escalation")
	assert.Contains(t, prompt, "This Agreement is between Acme Cloud and Customer.")
}

func TestParseReply(t *testing.T) {
	t.Parallel()

	valid := `{
		"vendor": "Acme Cloud",
		"startDate": "2026-01-01",
		"endDate": "2026-12-31",
		"noticePeriodDays": 60,
		"autoRenews": true,
		"annualValueCents": 1200000,
		"currency": "USD",
		"clauses": [
			{"kind": "termination", "summary": "60 days written notice"}
		]
	}`

	t.Run("PlainJSON", func(t *testing.T) {
		t.Parallel()
		e, err := extraction.ParseReply(valid)
		require.NoError(t, err)
		assert.Equal(t, "Acme Cloud", e.Vendor)
		assert.Equal(t, 60, e.NoticePeriodDays)
		assert.True(t, e.AutoRenews)
		assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), e.ParsedStartDate())
		assert.Equal(t, time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), e.ParsedEndDate())
		require.Len(t, e.Clauses, 1)
		assert.Equal(t, "termination", e.Clauses[0].Kind)
	})

	t.Run("FencedJSON", func(t *testing.T) {
		t.Parallel()
		e, err := extraction.ParseReply("```json\n" + valid + "\n```")
		require.NoError(t, err)
		assert.Equal(t, "Acme Cloud", e.Vendor)
	})

	t.Run("BareFence", func(t *testing.T) {
		t.Parallel()
		e, err := extraction.ParseReply("```\n" + valid + "\n```")
		require.NoError(t, err)
		assert.Equal(t, "Acme Cloud", e.Vendor)
	})

	t.Run("OmittedFieldsAreZero", func(t *testing.T) {
		t.Parallel()
		e, err := extraction.ParseReply(`{"vendor": "Acme Cloud"}`)
		require.NoError(t, err)
		assert.True(t, e.ParsedStartDate().IsZero())
		assert.Zero(t, e.AnnualValueCents)
	})

	t.Run("ProseRejected", func(t *testing.T) {
		t.Parallel()
		_, err := extraction.ParseReply("Sure! Here is the extraction you asked for.")
		assert.Error(t, err)
	})

	t.Run("UnknownFieldsRejected", func(t *testing.T) {
		t.Parallel()
		_, err := extraction.ParseReply(`{"vendor": "Acme", "confidence": 0.9}`)
		assert.Error(t, err)
	})

	t.Run("InvalidDateRejected", func(t *testing.T) {
		t.Parallel()
		_, err := extraction.ParseReply(`{"startDate": "January 1st, 2026"}`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "startDate")

		_, err = extraction.ParseReply(`{"endDate": "2026-13-40"}`)
		assert.Error(t, err)
	})
}
