package notification

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const sendTimeout = 30 * time.Second

// Notifier renders templates and hands the result to an EmailSender.
type Notifier struct {
	sender    EmailSender
	templates *TemplateEngine
	logger    zerolog.Logger
	wg        sync.WaitGroup
}

func NewNotifier(sender EmailSender, templates *TemplateEngine, logger zerolog.Logger) *Notifier {
	if templates == nil {
		templates = NewTemplateEngine()
	}
	return &Notifier{sender: sender, templates: templates, logger: logger}
}

// Send renders and delivers synchronously.
func (n *Notifier) Send(ctx context.Context, templateID, to string, data map[string]string) error {
	subject, body, err := n.templates.Render(templateID, data)
	if err != nil {
		return err
	}
	return n.sender.SendEmail(ctx, to, subject, body)
}

// Notify delivers in the background. Failures are logged and dropped. An
// empty recipient is a no-op.
func (n *Notifier) Notify(templateID, to string, data map[string]string) {
	if n == nil || to == "" {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := n.Send(ctx, templateID, to, data); err != nil {
			n.logger.Warn().Err(err).Str("template", templateID).Str("to", to).Msg("notification failed")
		}
	}()
}

// Wait blocks until background deliveries have finished.
func (n *Notifier) Wait() {
	if n != nil {
		n.wg.Wait()
	}
}
