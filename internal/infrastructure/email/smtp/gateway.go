package smtp

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/fundlane/mca-backend/internal/core/domain"
)

// Gateway sends outbound mail over plain SMTP with optional AUTH. It
// implements ports.EmailGateway.
type Gateway struct {
	host     string
	port     string
	username string
	password string
}

func NewGateway(host, port, username, password string) *Gateway {
	return &Gateway{
		host:     host,
		port:     port,
		username: username,
		password: password,
	}
}

func (g *Gateway) Send(ctx context.Context, email *domain.Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(g.host, g.port)
	var auth smtp.Auth
	if g.username != "" {
		auth = smtp.PlainAuth("", g.username, g.password, g.host)
	}

	msg := buildMessage(email)
	if err := smtp.SendMail(addr, auth, email.Sender, []string{email.Recipient}, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", email.Recipient, err)
	}
	return nil
}

func buildMessage(email *domain.Email) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", email.Sender)
	fmt.Fprintf(&b, "To: %s\r\n", email.Recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(email.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(email.Body)
	return []byte(b.String())
}

// sanitizeHeader strips CR/LF so subject content cannot inject headers.
func sanitizeHeader(value string) string {
	value = strings.ReplaceAll(value, "\r", " ")
	return strings.ReplaceAll(value, "\n", " ")
}
