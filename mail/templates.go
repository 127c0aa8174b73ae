package mail

import (
	"fmt"
	"time"

	"github.com/renewalhq/crt/spec"
)

const dateLayout = "January 2, 2006"

// RenewalReminder renders the reminder email for a contract entering a
// reminder window
func RenewalReminder(vendor, title string, window spec.ReminderWindow, deadline time.Time) Email {
	subject := fmt.Sprintf("%s contract: renewal decision due in %d days", vendor, int(window))
	when := deadline.Format(dateLayout)

	text := fmt.Sprintf(
		"The renewal deadline for %q with %s is %s.\n\n"+
			"After that date the contract renews (or lapses) on its own terms. "+
			"Review the extracted clauses and pricing in your dashboard and decide "+
			"whether to renew, renegotiate, or send notice of termination.\n",
		title, vendor, when,
	)
	html := fmt.Sprintf(
		"<!doctype html><html><body>"+
			"<p>The renewal deadline for <b>%s</b> with <b>%s</b> is <b>%s</b>.</p>"+
			"<p>After that date the contract renews (or lapses) on its own terms. "+
			"Review the extracted clauses and pricing in your dashboard and decide "+
			"whether to renew, renegotiate, or send notice of termination.</p>"+
			"</body></html>",
		title, vendor, when,
	)

	return Email{
		Subject:  subject,
		TextBody: text,
		HTMLBody: html,
		Tag:      "renewal-reminder",
	}
}

// RenewalPacket renders the email that accompanies a generated renewal packet
func RenewalPacket(vendor, title, downloadURL string) Email {
	subject := fmt.Sprintf("Renewal packet ready: %s (%s)", title, vendor)

	text := fmt.Sprintf(
		"Your renewal packet for %q with %s is ready.\n\n"+
			"Download (link expires in 7 days): %s\n",
		title, vendor, downloadURL,
	)
	html := fmt.Sprintf(
		"<!doctype html><html><body>"+
			"<p>Your renewal packet for <b>%s</b> with <b>%s</b> is ready.</p>"+
			"<p><a href=\"%s\">Download the packet</a> (link expires in 7 days).</p>"+
			"</body></html>",
		title, vendor, downloadURL,
	)

	return Email{
		Subject:  subject,
		TextBody: text,
		HTMLBody: html,
		Tag:      "renewal-packet",
	}
}
