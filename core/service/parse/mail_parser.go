// Package parse provides the default RFC-822 parser handed to the IMAP
// connector. It extracts headers and a plain-text body; the connector treats
// it as a swappable function value.
package parse

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	_ "github.com/emersion/go-message/charset" // register non-UTF8 decoders
	"github.com/emersion/go-message/mail"

	"mail_worker/core/domain"
	"mail_worker/core/port/out"
)

// Parser returns the default MailParser.
func Parser() out.MailParser {
	return ParseMessage
}

// ParseMessage parses one raw RFC-822 message. The first text/plain part
// wins; an HTML-only message is tag-stripped.
func ParseMessage(raw []byte, uid uint32) (*domain.Email, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	email := &domain.Email{UID: uid}

	header := mr.Header
	if subject, err := header.Subject(); err == nil {
		email.Subject = subject
	}
	if date, err := header.Date(); err == nil {
		email.Date = date
	}
	if msgID, err := header.MessageID(); err == nil && msgID != "" {
		email.MessageID = "<" + msgID + ">"
	} else {
		// Dedup is per account, so a UID-derived key is unique enough for
		// servers that omit Message-ID.
		email.MessageID = fmt.Sprintf("<uid-%d@missing-message-id>", uid)
	}
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		email.FromName = from[0].Name
		email.FromAddr = from[0].Address
	}
	if to, err := header.AddressList("To"); err == nil {
		for _, addr := range to {
			email.To = append(email.To, addr.Address)
		}
	}

	var plain, html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break // keep whatever parts were readable
		}
		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := inline.ContentType()
		if err != nil {
			continue
		}
		switch contentType {
		case "text/plain":
			if plain == "" {
				body, _ := io.ReadAll(part.Body)
				plain = string(body)
			}
		case "text/html":
			if html == "" {
				body, _ := io.ReadAll(part.Body)
				html = string(body)
			}
		}
	}

	if plain != "" {
		email.Body = strings.TrimSpace(plain)
	} else {
		email.Body = strings.TrimSpace(StripHTML(html))
	}
	return email, nil
}

// StripHTML reduces an HTML body to readable text: tags removed, block
// elements become newlines, common entities decoded.
func StripHTML(html string) string {
	var b strings.Builder
	b.Grow(len(html))

	inTag := false
	var tag strings.Builder
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
			tag.Reset()
		case r == '>' && inTag:
			inTag = false
			switch strings.ToLower(strings.TrimPrefix(strings.Fields(tag.String()+" ")[0], "/")) {
			case "p", "br", "div", "tr", "li", "h1", "h2", "h3", "h4":
				b.WriteByte('\n')
			}
		case inTag:
			tag.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}

	text := b.String()
	for entity, repl := range map[string]string{
		"&nbsp;": " ",
		"&amp;":  "&",
		"&lt;":   "<",
		"&gt;":   ">",
		"&quot;": `"`,
		"&#39;":  "'",
	} {
		text = strings.ReplaceAll(text, entity, repl)
	}

	// collapse blank-line runs
	lines := strings.Split(text, "\n")
	out := lines[:0]
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
