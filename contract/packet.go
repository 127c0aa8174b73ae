package contract

import (
	"bytes"
	"time"

	extErrors "github.com/pkg/errors"

	"text/template"
)

// The packet is deliberately plain text: it gets attached to e-signature
// flows and pasted into procurement tools that mangle rich formatting.
var packetTemplate = template.Must(template.New("packet").Parse(
	`RENEWAL PACKET
Generated {{ .GeneratedAt.Format "2006-01-02" }}

Contract:        {{ .Contract.Title }}
Vendor:          {{ .Contract.Vendor }}
Term:            {{ .Contract.StartDate.Format "2006-01-02" }} through {{ .Contract.EndDate.Format "2006-01-02" }}
Annual value:    {{ .Contract.AnnualValueCents }} ({{ .Contract.Currency }}, in cents)
Auto-renews:     {{ if .Contract.AutoRenews }}yes{{ else }}no{{ end }}
Notice period:   {{ .Contract.NoticePeriodDays }} days
Renewal deadline: {{ .Deadline.Format "2006-01-02" }}

Clauses to review:
{{ range .Contract.Clauses }}  [{{ .Kind }}] {{ .Summary }}
{{ else }}  (no clauses extracted)
{{ end }}
Signature:

  Authorized signer: _______________________    Date: ___________

  Vendor signer:     _______________________    Date: ___________
`))

type packetData struct {
	Contract    *Contract
	Deadline    time.Time
	GeneratedAt time.Time
}

// RenderPacket produces the renewal/e-signature packet for a contract
func RenderPacket(c *Contract, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	err := packetTemplate.Execute(&buf, packetData{
		Contract:    c,
		Deadline:    c.RenewalDeadline(),
		GeneratedAt: now,
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot render renewal packet")
	}
	return buf.Bytes(), nil
}
