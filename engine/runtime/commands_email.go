package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/cloudsidekick/cato/engine/task"
	"github.com/cloudsidekick/cato/pkg/logger"
)

// sendMail delivers one message through the configured SMTP relay.
func (rt *Runtime) sendMail(ctx context.Context, to []string, cc []string, subject, body string) error {
	smtp := rt.cfg.SMTP
	if smtp.Host == "" {
		return fmt.Errorf("no smtp relay configured")
	}
	msg := mail.NewMsg()
	if err := msg.From(smtp.From); err != nil {
		return fmt.Errorf("smtp from address [%s]: %w", smtp.From, err)
	}
	if err := msg.To(to...); err != nil {
		return fmt.Errorf("recipient address: %w", err)
	}
	if len(cc) > 0 {
		if err := msg.Cc(cc...); err != nil {
			return fmt.Errorf("cc address: %w", err)
		}
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	opts := []mail.Option{mail.WithPort(smtp.Port)}
	if smtp.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(smtp.User),
			mail.WithPassword(smtp.Password))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	client, err := mail.NewClient(smtp.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

func splitAddresses(s string) []string {
	var out []string
	for _, a := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func cmdSendEmail(ctx context.Context, rt *Runtime, st *task.Step) error {
	to, err := rt.resolveRequiredParam(st, "to")
	if err != nil {
		return err
	}
	subject, err := rt.resolveParam(st, "subject")
	if err != nil {
		return err
	}
	body, err := rt.resolveParam(st, "body")
	if err != nil {
		return err
	}
	cc, err := rt.resolveParam(st, "cc")
	if err != nil {
		return err
	}
	if err := rt.sendMail(ctx, splitAddresses(to), splitAddresses(cc), subject, body); err != nil {
		return err
	}
	rt.log.Write(ctx, st.ID, "", st.Function, fmt.Sprintf("Email sent to [%s]: %s", to, subject))
	return nil
}

// notifyFailure mails the admin contact about a failed instance. Best-effort:
// the instance is already in Error, a second failure here is only logged.
func (rt *Runtime) notifyFailure(ctx context.Context, cause error) {
	if rt.cfg.SMTP.AdminTo == "" {
		return
	}
	subject := fmt.Sprintf("Task instance [%d] (%s) failed", rt.instance.ID, rt.task.Name)
	body := fmt.Sprintf("Task [%s] version [%s] instance [%d] ended in error:\n\n%s\n",
		rt.task.Name, rt.task.Version, rt.instance.ID, rt.log.Redact(cause.Error()))
	if err := rt.sendMail(ctx, splitAddresses(rt.cfg.SMTP.AdminTo), nil, subject, body); err != nil {
		logger.FromContext(ctx).Warn("failure notification not sent", "error", err)
	}
}
