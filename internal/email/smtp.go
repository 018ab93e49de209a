package email

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/google/uuid"

	"github.com/stratix-hq/control-plane/internal/config"
)

// SMTPGateway sends mail over SMTP with PLAIN auth. SMTP has no native
// message-id acknowledgement, so the gateway assigns one; providers that
// report engagement events echo it back through their webhook feed.
type SMTPGateway struct {
	cfg config.SMTPConfig
}

// NewSMTPGateway creates an SMTP-backed email gateway.
func NewSMTPGateway(cfg config.SMTPConfig) *SMTPGateway {
	return &SMTPGateway{cfg: cfg}
}

// Send dispatches one message. The blocking smtp call runs in a goroutine so
// ctx deadlines are honored; a timed-out send returns ctx.Err.
func (g *SMTPGateway) Send(ctx context.Context, msg Message) (*SendResult, error) {
	messageID := uuid.NewString()

	body := []byte(fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"Message-ID: <%s@stratix>\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=\"utf-8\"\r\n"+
			"\r\n%s\r\n",
		g.cfg.From, msg.To, msg.Subject, messageID, msg.HTMLBody,
	))

	done := make(chan error, 1)
	go func() {
		var auth smtp.Auth
		if g.cfg.User != "" {
			auth = smtp.PlainAuth("", g.cfg.User, g.cfg.Password, g.cfg.Host)
		}
		done <- smtp.SendMail(g.cfg.Addr(), auth, g.cfg.From, []string{msg.To}, body)
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("smtp send to %s: %w", msg.To, err)
		}
		return &SendResult{MessageID: messageID}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var _ Gateway = (*SMTPGateway)(nil)
