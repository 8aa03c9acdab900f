package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"github.com/linklethq/linklet/pkg/planchange"
)

// Notifier sends lifecycle emails for scheduled subscription changes.
// The recipient address is the one captured on the change record at
// scheduling time. Implements planchange.Notifier.
type Notifier struct {
	sender Sender
	log    *slog.Logger
}

// NotifierOption configures optional Notifier dependencies.
type NotifierOption func(*Notifier)

// WithLogger sets the notifier logger.
func WithLogger(log *slog.Logger) NotifierOption {
	return func(n *Notifier) {
		if log != nil {
			n.log = log
		}
	}
}

// NewNotifier creates a change notifier. Panics if sender is nil.
func NewNotifier(sender Sender, opts ...NotifierOption) *Notifier {
	if sender == nil {
		panic("email: sender is required")
	}

	n := &Notifier{
		sender: sender,
		log:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

type changeEmailData struct {
	ChangeType   string
	CurrentPlan  string
	TargetPlan   string
	ScheduledFor string
	Reason       string
}

var changeScheduledTmpl = template.Must(template.New("change_scheduled").Parse(`<html><body>
<p>Hi,</p>
{{if eq .ChangeType "cancellation"}}
<p>Your subscription is scheduled to be cancelled on <strong>{{.ScheduledFor}}</strong>.
You keep full access to your current plan until then.</p>
{{else}}
<p>Your plan change from <strong>{{.CurrentPlan}}</strong> to <strong>{{.TargetPlan}}</strong>
is scheduled for <strong>{{.ScheduledFor}}</strong>. You keep your current plan's features
until the end of the billing period.</p>
{{end}}
<p>Changed your mind? You can revert this from your billing settings any time before it takes effect.</p>
</body></html>`))

var changeExecutedTmpl = template.Must(template.New("change_executed").Parse(`<html><body>
<p>Hi,</p>
{{if eq .ChangeType "cancellation"}}
<p>Your subscription has been cancelled. Your account is now on the <strong>{{.TargetPlan}}</strong> plan.</p>
{{else}}
<p>Your plan change has been applied. Your account is now on the <strong>{{.TargetPlan}}</strong> plan.</p>
{{end}}
<p>You can upgrade again from your billing settings whenever you need more.</p>
</body></html>`))

var changeRevertedTmpl = template.Must(template.New("change_reverted").Parse(`<html><body>
<p>Hi,</p>
{{if eq .ChangeType "cancellation"}}
<p>Your scheduled cancellation has been reverted. Your subscription continues on the
<strong>{{.CurrentPlan}}</strong> plan as before.</p>
{{else}}
<p>Your scheduled change to the <strong>{{.TargetPlan}}</strong> plan has been reverted.
You stay on the <strong>{{.CurrentPlan}}</strong> plan.</p>
{{end}}
</body></html>`))

// ChangeScheduled emails the owner when a downgrade or cancellation is scheduled.
func (n *Notifier) ChangeScheduled(ctx context.Context, change *planchange.ScheduledChange) error {
	subject := "Your plan change is scheduled"
	if change.ChangeType == planchange.TypeCancellation {
		subject = "Your subscription cancellation is scheduled"
	}
	return n.send(ctx, change, subject, "change-scheduled", changeScheduledTmpl)
}

// ChangeExecuted emails the owner when a scheduled change takes effect.
func (n *Notifier) ChangeExecuted(ctx context.Context, change *planchange.ScheduledChange) error {
	subject := "Your plan change has been applied"
	if change.ChangeType == planchange.TypeCancellation {
		subject = "Your subscription has been cancelled"
	}
	return n.send(ctx, change, subject, "change-executed", changeExecutedTmpl)
}

// ChangeReverted emails the owner when a scheduled change is reverted.
func (n *Notifier) ChangeReverted(ctx context.Context, change *planchange.ScheduledChange) error {
	return n.send(ctx, change, "Your scheduled change has been reverted", "change-reverted", changeRevertedTmpl)
}

func (n *Notifier) send(ctx context.Context, change *planchange.ScheduledChange, subject, tag string, tmpl *template.Template) error {
	if change.OwnerEmail == "" {
		return fmt.Errorf("%w: change %s has no recipient", ErrInvalidParams, change.ID)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, changeEmailData{
		ChangeType:   string(change.ChangeType),
		CurrentPlan:  string(change.CurrentPlan),
		TargetPlan:   string(change.TargetPlan),
		ScheduledFor: change.ScheduledFor.UTC().Format(time.RFC1123),
		Reason:       change.Reason,
	}); err != nil {
		return fmt.Errorf("render %s email: %w", tag, err)
	}

	if err := n.sender.Send(ctx, Message{
		To:       change.OwnerEmail,
		Subject:  subject,
		BodyHTML: body.String(),
		Tag:      tag,
	}); err != nil {
		return err
	}

	n.log.InfoContext(ctx, "change notification sent",
		slog.String("tag", tag),
		slog.String("change_id", change.ID.String()),
	)
	return nil
}
