package ingest

import (
	"strings"

	"mail_worker/core/domain"
)

// maxBodyChars bounds the body excerpt in a delivered instruction.
const maxBodyChars = 2000

// FormatInstruction renders one email plus the user's instruction template
// into the chat block delivered to the agent.
func FormatInstruction(email *domain.Email, account *domain.Account, instruction string) string {
	var b strings.Builder

	b.WriteString("[New Email]\n")
	b.WriteString("From: ")
	b.WriteString(email.From())
	b.WriteString("\n")

	b.WriteString("To: ")
	b.WriteString(strings.Join(email.To, ", "))
	if account.Name != "" {
		b.WriteString(" (")
		b.WriteString(account.Name)
		b.WriteString(")")
	}
	b.WriteString("\n")

	subject := email.Subject
	if strings.TrimSpace(subject) == "" {
		subject = "(No subject)"
	}
	b.WriteString("Subject: ")
	b.WriteString(subject)
	b.WriteString("\n")

	b.WriteString("Date: ")
	b.WriteString(email.Date.Local().Format("Mon, 02 Jan 2006 15:04:05 MST"))
	b.WriteString("\n")

	b.WriteString("Email content:\n---\n")
	b.WriteString(truncateBody(email.Body))
	b.WriteString("\n---")

	if instruction != "" {
		b.WriteString("\n")
		b.WriteString(instruction)
	}
	return b.String()
}

func truncateBody(body string) string {
	runes := []rune(body)
	if len(runes) <= maxBodyChars {
		return body
	}
	return string(runes[:maxBodyChars]) + "…"
}
