package service

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/stratix-hq/control-plane/internal/config"
	"github.com/stratix-hq/control-plane/internal/email"
	"github.com/stratix-hq/control-plane/internal/models"
)

// mailKind selects the subject line and copy of an outbound invitation email.
type mailKind string

const (
	mailInvite   mailKind = "invite"
	mailResend   mailKind = "resend"
	mailReminder mailKind = "reminder"
)

// Dispatcher builds and sends invitation emails through the gateway with a
// bounded per-send timeout. It is the single-item send path shared by the
// invitation service, the batch processor and the reminder scheduler.
type Dispatcher struct {
	gateway     email.Gateway
	inviteBase  string
	sendTimeout time.Duration
}

// NewDispatcher creates a dispatcher over an email gateway.
func NewDispatcher(gateway email.Gateway, cfg config.SMTPConfig) *Dispatcher {
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		gateway:     gateway,
		inviteBase:  cfg.InviteBaseURL,
		sendTimeout: timeout,
	}
}

// Send dispatches one invitation email. A gateway timeout resolves to an
// error here, never to an indefinitely pending invitation.
func (d *Dispatcher) Send(ctx context.Context, inv *models.Invitation, kind mailKind) (*email.SendResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	link := fmt.Sprintf("%s/accept?token=%s", d.inviteBase, inv.Token)

	var subject, intro string
	switch kind {
	case mailResend:
		subject = "Your invitation has been renewed"
		intro = "Your invitation link has been renewed. Use the button below to join."
	case mailReminder:
		subject = "Reminder: your invitation is waiting"
		intro = "You have a pending invitation waiting for you."
	default:
		subject = "You've been invited"
		intro = fmt.Sprintf("You've been invited to join as %s.", inv.Role)
	}

	body := fmt.Sprintf(`<p>%s</p>`, html.EscapeString(intro))
	if inv.CustomMessage != nil && *inv.CustomMessage != "" {
		body += fmt.Sprintf(`<blockquote>%s</blockquote>`, html.EscapeString(*inv.CustomMessage))
	}
	body += fmt.Sprintf(`<p><a href="%s">Accept invitation</a></p>`, link)
	body += fmt.Sprintf(`<p>This invitation expires on %s.</p>`, inv.ExpiresAt.Format("January 2, 2006"))

	msg := email.Message{
		To:       inv.Email,
		Subject:  subject,
		HTMLBody: body,
		Context: map[string]string{
			"role":       string(inv.Role),
			"invite_url": link,
		},
	}
	if inv.TemplateID != nil {
		msg.Context["template_id"] = *inv.TemplateID
	}

	return d.gateway.Send(ctx, msg)
}
