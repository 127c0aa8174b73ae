package extraction

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ExtractedClause is one clause the model surfaced from the document
type ExtractedClause struct {
	Kind    string `json:"kind"`
	Summary string `json:"summary"`
}

// Extraction is the structured result pulled out of a contract document.
// Zero values mean the model could not find the field.
type Extraction struct {
	Vendor           string            `json:"vendor"`
	StartDate        string            `json:"startDate"` // YYYY-MM-DD
	EndDate          string            `json:"endDate"`   // YYYY-MM-DD
	NoticePeriodDays int               `json:"noticePeriodDays"`
	AutoRenews       bool              `json:"autoRenews"`
	AnnualValueCents int64             `json:"annualValueCents"`
	Currency         string            `json:"currency"`
	Clauses          []ExtractedClause `json:"clauses"`
}

const dateLayout = "2006-01-02"

// ParsedStartDate returns the start date as a time, or zero if absent/invalid
func (e *Extraction) ParsedStartDate() time.Time {
	t, _ := time.Parse(dateLayout, e.StartDate)
	return t
}

// ParsedEndDate returns the end date as a time, or zero if absent/invalid
func (e *Extraction) ParsedEndDate() time.Time {
	t, _ := time.Parse(dateLayout, e.EndDate)
	return t
}

const systemPrompt = "You are a contract analysis assistant. " +
	"You reply with a single JSON object and nothing else. " +
	"Dates use YYYY-MM-DD. Monetary amounts are integer cents. " +
	"Omit fields you cannot determine from the document."

// BuildPrompt renders the extraction prompt for one contract document
func BuildPrompt(documentText string) string {
	var b strings.Builder
	b.WriteString("Extract the following from the vendor contract below:\n")
	b.WriteString("- vendor: the counterparty company name\n")
	b.WriteString("- startDate, endDate: the contract term\n")
	b.WriteString("- noticePeriodDays: days of notice required to prevent renewal\n")
	b.WriteString("- autoRenews: whether the contract renews automatically\n")
	b.WriteString("- annualValueCents, currency: the annual contract value\n")
	b.WriteString("- clauses: notable clauses as {kind, summary}, where kind is one of ")
	b.WriteString("termination, price-escalation, liability, data-protection, exclusivity\n")
	b.WriteString("\nContract document:\n---\n")
	b.WriteString(documentText)
	b.WriteString("\n---\n")
	return b.String()
}

// ParseReply decodes the model's reply into an Extraction. Models sometimes
// wrap the JSON in a code fence; tolerate that, but nothing looser.
func ParseReply(reply string) (*Extraction, error) {
	trimmed := strings.TrimSpace(reply)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var e Extraction
	decoder := json.NewDecoder(strings.NewReader(trimmed))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&e); err != nil {
		return nil, fmt.Errorf("model reply is not the expected JSON object: %w", err)
	}
	if e.StartDate != "" {
		if _, err := time.Parse(dateLayout, e.StartDate); err != nil {
			return nil, fmt.Errorf("model reply has invalid startDate %q", e.StartDate)
		}
	}
	if e.EndDate != "" {
		if _, err := time.Parse(dateLayout, e.EndDate); err != nil {
			return nil, fmt.Errorf("model reply has invalid endDate %q", e.EndDate)
		}
	}
	return &e, nil
}
