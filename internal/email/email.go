// Package email composes and delivers the administrator report. The
// SMTP delivery library itself is an external collaborator (the
// specification describes only the message shape); none of the
// retrieved examples pull in a third-party SMTP client, so Sender's
// default implementation is built on the standard library's net/smtp
// and mime/multipart behind the small Sender interface.
package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"time"
)

// Message is a fully composed report, ready to hand to a Sender.
type Message struct {
	From               string
	To                 string
	Subject            string
	HTMLBody           string
	AttachmentFilename string
	AttachmentJSON     []byte
	StartDate          int64
	ServiceVersion     string
}

// Compose builds the administrator email for a run. It requires both
// a from-address and an administrator-address; if either is missing
// it returns ok=false so the caller can abort quietly, per the
// reporting gate's "requires configured from-address and
// administrator-address; if either missing, abort quietly" rule.
func Compose(from, to, serviceName, hostname, serviceVersion string, errorCount int, serialized []byte, startDate int64) (Message, bool) {
	if from == "" || to == "" {
		return Message{}, false
	}

	plural := ""
	if errorCount != 1 {
		plural = "s"
	}

	return Message{
		From:               from,
		To:                 to,
		Subject:            fmt.Sprintf("%s: found %d error%s on %s", serviceName, errorCount, plural, hostname),
		HTMLBody:           fmt.Sprintf("<p>%s</p>", string(serialized)),
		AttachmentFilename: fmt.Sprintf("%s.json", serviceName),
		AttachmentJSON:     serialized,
		StartDate:          startDate,
		ServiceVersion:     serviceVersion,
	}, true
}

// Sender delivers a composed Message. It is the seam the reporting
// gate hands off to; production wires it to SMTPSender, tests wire it
// to a stub that records Messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender delivers Message via a plain SMTP relay, building a
// multipart/mixed body: an HTML part followed by the serialized
// document as a JSON attachment, with the run's start date and the
// daemon's version recorded in custom headers so a downstream mail
// filter can sort reports without parsing the attachment.
type SMTPSender struct {
	Addr string
	Auth smtp.Auth
}

// NewSMTPSender creates a Sender that relays through addr (host:port).
// auth may be nil for an unauthenticated local relay.
func NewSMTPSender(addr string, auth smtp.Auth) *SMTPSender {
	return &SMTPSender{Addr: addr, Auth: auth}
}

// Send implements Sender.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	raw, err := buildMIME(msg)
	if err != nil {
		return fmt.Errorf("build email: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(s.Addr, s.Auth, msg.From, []string{msg.To}, raw)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildMIME(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("From", msg.From)
	header.Set("To", msg.To)
	header.Set("Subject", msg.Subject)
	header.Set("X-Priority", "1")
	header.Set("Importance", "urgent")
	header.Set("X-Sitterd-Version", msg.ServiceVersion)
	header.Set("X-Start-Date", fmt.Sprintf("%d", msg.StartDate))
	header.Set("Date", time.Now().UTC().Format(time.RFC1123Z))
	header.Set("MIME-Version", "1.0")
	header.Set("Content-Type", fmt.Sprintf("multipart/mixed; boundary=%q", writer.Boundary()))

	var out bytes.Buffer
	for k, vs := range header {
		for _, v := range vs {
			fmt.Fprintf(&out, "%s: %s\r\n", k, v)
		}
	}
	out.WriteString("\r\n")

	htmlHeader := textproto.MIMEHeader{}
	htmlHeader.Set("Content-Type", "text/html; charset=utf-8")
	htmlPart, err := writer.CreatePart(htmlHeader)
	if err != nil {
		return nil, err
	}
	if _, err := htmlPart.Write([]byte(msg.HTMLBody)); err != nil {
		return nil, err
	}

	attachHeader := textproto.MIMEHeader{}
	attachHeader.Set("Content-Type", "application/json")
	attachHeader.Set("Content-Transfer-Encoding", "base64")
	attachHeader.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": msg.AttachmentFilename}))
	attachPart, err := writer.CreatePart(attachHeader)
	if err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(msg.AttachmentJSON)
	if _, err := attachPart.Write([]byte(encoded)); err != nil {
		return nil, err
	}

	if err := writer.Close(); err != nil {
		return nil, err
	}

	out.Write(buf.Bytes())
	return out.Bytes(), nil
}
