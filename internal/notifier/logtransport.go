package notifier

import (
	"context"

	logx "ebbinghaus/pkg/logx"
)

// logTransport records messages in the log instead of sending them.
type logTransport struct {
	log logx.Logger
}

func (t logTransport) Name() string { return "log" }

func (t logTransport) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.log.Info("mail (dry run)",
		logx.String("to", m.To),
		logx.String("subject", m.Subject),
		logx.Int("body_len", len(m.Body)),
	)
	return nil
}

func (t logTransport) Close() error { return nil }
