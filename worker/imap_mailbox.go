package worker

import (
	"crypto/tls"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"leadforge/models"
)

// Mailbox is an open, read-only inbox session.
type Mailbox interface {
	// Fetch returns raw messages received since the given time, newest
	// last, at most limit of them.
	Fetch(since time.Time, limit int) ([][]byte, error)
	Close() error
}

// MailboxDialer opens the inbox described by a company's settings.
type MailboxDialer func(settings models.CompanySettings, password string) (Mailbox, error)

type imapMailbox struct {
	c *client.Client
}

// DialIMAP logs into the company inbox and selects its mailbox read-only so
// fetched messages keep their unseen flag.
func DialIMAP(settings models.CompanySettings, password string) (Mailbox, error) {
	port := settings.InboxPort
	if port == 0 {
		port = 143
		if settings.InboxUseTLS {
			port = 993
		}
	}
	addr := fmt.Sprintf("%s:%d", settings.InboxHost, port)

	var (
		c   *client.Client
		err error
	)
	if settings.InboxUseTLS {
		c, err = client.DialTLS(addr, &tls.Config{ServerName: settings.InboxHost})
	} else {
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	c.Timeout = 30 * time.Second

	if err := c.Login(settings.InboxUsername, password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	mailbox := settings.InboxMailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := c.Select(mailbox, true); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to select mailbox %s: %w", mailbox, err)
	}
	return &imapMailbox{c: c}, nil
}

func (m *imapMailbox) Fetch(since time.Time, limit int) ([][]byte, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Since = since
	ids, err := m.c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)
	section := &imap.BodySectionName{Peek: true}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- m.c.Fetch(seqset, []imap.FetchItem{section.FetchItem()}, messages)
	}()

	var out [][]byte
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		b, err := io.ReadAll(body)
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	if err := <-done; err != nil {
		return out, fmt.Errorf("error during fetch: %w", err)
	}
	return out, nil
}

func (m *imapMailbox) Close() error {
	return m.c.Logout()
}
