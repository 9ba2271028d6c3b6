package email

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"github.com/omnidesk-io/omnidesk/internal/bus"
	"github.com/omnidesk-io/omnidesk/internal/config"
	"github.com/omnidesk-io/omnidesk/internal/store"
)

const fetchBatch = 50

// pollAccount runs one poll cycle: search unseen, fetch, normalize,
// publish. A connection failure aborts the cycle; a single unparseable
// message is skipped.
func (c *Channel) pollAccount(ctx context.Context, acct config.EmailAccount) {
	if _, loaded := c.busy.LoadOrStore(acct.Name, struct{}{}); loaded {
		slog.Debug("email poll already running, skipping", "account", acct.Name)
		return
	}
	defer c.busy.Delete(acct.Name)

	start := time.Now()

	cl, err := client.DialTLS(acct.IMAPAddr, nil)
	if err != nil {
		slog.Warn("imap dial failed", "account", acct.Name, "error", err)
		return
	}
	defer cl.Logout()

	if err := cl.Login(acct.IMAPUser, acct.IMAPPass); err != nil {
		slog.Warn("imap login failed", "account", acct.Name, "error", err)
		return
	}

	if _, err := cl.Select("INBOX", false); err != nil {
		slog.Warn("imap select failed", "account", acct.Name, "error", err)
		return
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := cl.Search(criteria)
	if err != nil {
		slog.Warn("imap search failed", "account", acct.Name, "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}
	if len(ids) > fetchBatch {
		ids = ids[:fetchBatch]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}

	messages := make(chan *imap.Message, fetchBatch)
	done := make(chan error, 1)
	go func() {
		done <- cl.Fetch(seqset, items, messages)
	}()

	ingested := 0
	for msg := range messages {
		if ctx.Err() != nil {
			break
		}
		if c.ingestMail(acct, msg, section) {
			ingested++
		}
	}
	if err := <-done; err != nil {
		slog.Warn("imap fetch failed", "account", acct.Name, "error", err)
	}

	slog.Info("email poll finished",
		"account", acct.Name, "found", len(ids), "ingested", ingested,
		"took", time.Since(start))
}

// ingestMail normalizes one fetched mail into an inbound message. Returns
// false when the mail is skipped (duplicate, unparseable, no sender).
func (c *Channel) ingestMail(acct config.EmailAccount, msg *imap.Message, section *imap.BodySectionName) bool {
	env := msg.Envelope
	if env == nil || len(env.From) == 0 {
		return false
	}

	externalID := strings.Trim(env.MessageId, "<>")
	if externalID == "" {
		return false
	}

	// Redeliveries happen when a previous cycle died before the Seen flag
	// stuck; the provider message id is the dedup key.
	exists, err := c.messages.ExistsByExternalID(context.Background(), store.ChannelEmail, externalID)
	if err != nil {
		slog.Warn("email dedup lookup failed", "account", acct.Name, "error", err)
		return false
	}
	if exists {
		slog.Debug("skipping duplicate email", "account", acct.Name, "message_id", externalID)
		return false
	}

	from := env.From[0]
	address := strings.ToLower(from.Address())

	body := msg.GetBody(section)
	if body == nil {
		slog.Warn("email fetched without body", "account", acct.Name, "message_id", externalID)
		return false
	}
	text, err := extractText(body)
	if err != nil {
		slog.Warn("email parse failed, skipping", "account", acct.Name, "message_id", externalID, "error", err)
		return false
	}

	ts := env.Date
	if ts.IsZero() {
		ts = time.Now()
	}

	c.Publish(bus.InboundMessage{
		NativeID:   address,
		SenderName: from.PersonalName,
		Kind:       store.KindText,
		Content:    text,
		ExternalID: externalID,
		Timestamp:  ts,
	})
	return true
}

// extractText pulls the first text/plain part out of a MIME message,
// falling back to text/html stripped of nothing (stored as-is) when no
// plain part exists.
func extractText(r io.Reader) (string, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", err
	}

	var html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := header.ContentType()
		if err != nil {
			continue
		}

		switch contentType {
		case "text/plain":
			data, err := io.ReadAll(part.Body)
			if err != nil {
				return "", err
			}
			return strings.TrimSpace(string(data)), nil
		case "text/html":
			if html == "" {
				data, err := io.ReadAll(part.Body)
				if err == nil {
					html = strings.TrimSpace(string(data))
				}
			}
		}
	}
	return html, nil
}
