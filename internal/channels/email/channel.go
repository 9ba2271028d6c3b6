// Package email polls IMAP mailboxes for new customer mail and sends
// replies over SMTP. Unlike the socket channels there is no persistent
// connection: each account is polled on its own cron schedule.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/wneessen/go-mail"

	"github.com/omnidesk-io/omnidesk/internal/bus"
	"github.com/omnidesk-io/omnidesk/internal/channels"
	"github.com/omnidesk-io/omnidesk/internal/config"
	"github.com/omnidesk-io/omnidesk/internal/store"
)

const defaultSchedule = "* * * * *"

// Channel is the mailbox adapter. Inbound mail is deduplicated against the
// message store by provider message id before it reaches the pipeline.
type Channel struct {
	*channels.BaseChannel
	accounts []config.EmailAccount
	messages store.MessageStore
	gron     *gronx.Gronx

	// busy guards against overlapping polls of the same account when a
	// slow mailbox outlives its schedule interval.
	busy sync.Map // account name → *atomicFlag

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an email channel from config.
func New(cfg config.EmailConfig, messages store.MessageStore, msgBus *bus.MessageBus) (*Channel, error) {
	if len(cfg.Accounts) == 0 {
		return nil, fmt.Errorf("email channel enabled but no accounts configured")
	}
	gron := gronx.New()
	for i := range cfg.Accounts {
		if cfg.Accounts[i].Schedule == "" {
			cfg.Accounts[i].Schedule = defaultSchedule
		}
		if !gron.IsValid(cfg.Accounts[i].Schedule) {
			return nil, fmt.Errorf("email account %q: invalid schedule %q",
				cfg.Accounts[i].Name, cfg.Accounts[i].Schedule)
		}
	}

	return &Channel{
		BaseChannel: channels.NewBaseChannel(store.ChannelEmail, msgBus),
		accounts:    cfg.Accounts,
		messages:    messages,
		gron:        gron,
	}, nil
}

// Start launches the schedule loop.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting email channel", "accounts", len(c.accounts))

	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.scheduleLoop()

	c.SetRunning(true)
	return nil
}

// Stop cancels the schedule loop and waits for in-flight polls.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping email channel")
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.SetRunning(false)
	return nil
}

// scheduleLoop fires due accounts once per minute.
func (c *Channel) scheduleLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	var lastMinute time.Time
	for {
		select {
		case <-c.ctx.Done():
			return
		case now := <-ticker.C:
			minute := now.Truncate(time.Minute)
			if minute.Equal(lastMinute) {
				continue
			}
			lastMinute = minute

			for i := range c.accounts {
				acct := c.accounts[i]
				due, err := c.gron.IsDue(acct.Schedule, minute)
				if err != nil || !due {
					continue
				}
				c.wg.Add(1)
				go func() {
					defer c.wg.Done()
					c.pollAccount(c.ctx, acct)
				}()
			}
		}
	}
}

// Send delivers an outbound email over the first configured account's SMTP
// identity. NativeID is the recipient address.
func (c *Channel) Send(ctx context.Context, msg channels.OutboundMessage) error {
	acct := c.accounts[0]

	m := mail.NewMsg()
	if err := m.From(acct.From); err != nil {
		return fmt.Errorf("set from: %w", err)
	}
	if err := m.To(msg.NativeID); err != nil {
		return fmt.Errorf("set to: %w", err)
	}
	subject := msg.Subject
	if subject == "" {
		subject = "Re: your message"
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Content)
	if msg.Media != "" {
		m.AttachFile(msg.Media)
	}

	client, err := mail.NewClient(acct.SMTPHost,
		mail.WithPort(acct.SMTPPort),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(acct.SMTPUser),
		mail.WithPassword(acct.SMTPPass),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
