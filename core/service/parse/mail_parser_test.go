package parse

import (
	"strings"
	"testing"
)

const plainMessage = "From: Alice Example <alice@example.com>\r\n" +
	"To: bob@example.com, carol@example.com\r\n" +
	"Subject: Lunch?\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
	"Message-ID: <m1@example.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Are you free at noon?\r\n"

const htmlMessage = "From: noreply@shop.example\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: Receipt\r\n" +
	"Message-ID: <r9@shop.example>\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<html><body><p>Thanks &amp; see you!</p><div>Total: $5</div></body></html>\r\n"

func TestParseMessage_Plain(t *testing.T) {
	email, err := ParseMessage([]byte(plainMessage), 42)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}

	if email.UID != 42 {
		t.Errorf("UID = %d", email.UID)
	}
	if email.MessageID != "<m1@example.com>" {
		t.Errorf("MessageID = %q", email.MessageID)
	}
	if email.FromName != "Alice Example" || email.FromAddr != "alice@example.com" {
		t.Errorf("From = %q <%q>", email.FromName, email.FromAddr)
	}
	if len(email.To) != 2 {
		t.Errorf("To = %v", email.To)
	}
	if email.Subject != "Lunch?" {
		t.Errorf("Subject = %q", email.Subject)
	}
	if email.Body != "Are you free at noon?" {
		t.Errorf("Body = %q", email.Body)
	}
	if email.Date.IsZero() {
		t.Error("Date not parsed")
	}
}

func TestParseMessage_HTMLOnly(t *testing.T) {
	email, err := ParseMessage([]byte(htmlMessage), 7)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if !strings.Contains(email.Body, "Thanks & see you!") {
		t.Errorf("Body = %q", email.Body)
	}
	if strings.Contains(email.Body, "<") {
		t.Errorf("Body still contains tags: %q", email.Body)
	}
}

func TestParseMessage_MissingMessageID(t *testing.T) {
	raw := "From: a@b.c\r\nSubject: x\r\nContent-Type: text/plain\r\n\r\nhi\r\n"
	email, err := ParseMessage([]byte(raw), 3)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if email.MessageID == "" {
		t.Error("expected synthesized message id")
	}
}

func TestParseMessage_Garbage(t *testing.T) {
	if _, err := ParseMessage([]byte("\x00\x01\x02"), 1); err == nil {
		// a parse error is fine; a panic is not. Some garbage parses to an
		// empty message, which is also acceptable.
		t.Log("garbage parsed to empty message")
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text passthrough", "hello", "hello"},
		{"tags removed", "<b>bold</b> text", "bold text"},
		{"blocks become lines", "<p>one</p><p>two</p>", "one\n\ntwo"},
		{"entities decoded", "a &lt;b&gt; &amp; c", "a <b> & c"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripHTML(tt.in); got != tt.want {
				t.Errorf("StripHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
