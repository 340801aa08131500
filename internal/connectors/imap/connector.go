package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"

	"catmatch/internal"
	"catmatch/internal/config"
	"catmatch/internal/connectors"
)

type Connector struct {
	host     string
	port     int
	secure   bool
	user     string
	password string
	markSeen bool
}

func NewConnector(cfg config.Config) (*Connector, error) {
	if err := cfg.Require("IMAP_HOST", cfg.IMAPHost); err != nil {
		return nil, err
	}
	if err := cfg.Require("IMAP_USER", cfg.IMAPUser); err != nil {
		return nil, err
	}
	if err := cfg.Require("IMAP_PASSWORD", cfg.IMAPPassword); err != nil {
		return nil, err
	}

	return &Connector{
		host:     cfg.IMAPHost,
		port:     cfg.IMAPPort,
		secure:   cfg.IMAPSecure,
		user:     cfg.IMAPUser,
		password: cfg.IMAPPassword,
		markSeen: cfg.IMAPMarkSeen,
	}, nil
}

// FetchInbox downloads up to max unseen messages that carry a spreadsheet
// attachment, oldest first. Other unseen mail is only inspected by structure
// and stays unread. Bodies are fetched with PEEK, so nothing is flagged seen
// unless markSeen is set. The IMAP client has no context support; ctx is
// checked between round trips.
func (c *Connector) FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer client.Logout()

	if _, err := client.Select(label, !c.markSeen); err != nil {
		return nil, fmt.Errorf("select %s: %w", label, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("search unseen: %w", err)
	}
	if len(uids) == 0 {
		return nil, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wanted, err := withSpreadsheets(client, uids)
	if err != nil {
		return nil, err
	}
	if max > 0 && len(wanted) > max {
		wanted = wanted[:max]
	}
	if len(wanted) == 0 {
		return nil, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := download(client, wanted, time.Now())
	if err != nil {
		return nil, err
	}

	if c.markSeen && len(out) > 0 {
		set := new(imap.SeqSet)
		set.AddNum(wanted...)
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := client.UidStore(set, item, []interface{}{imap.SeenFlag}, nil); err != nil {
			return nil, fmt.Errorf("mark seen: %w", err)
		}
	}
	return out, ctx.Err()
}

func (c *Connector) dial() (*imapclient.Client, error) {
	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	var client *imapclient.Client
	var err error
	if c.secure {
		client, err = imapclient.DialTLS(addr, &tls.Config{ServerName: c.host})
	} else {
		client, err = imapclient.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := client.Login(c.user, c.password); err != nil {
		_ = client.Logout()
		return nil, fmt.Errorf("login: %w", err)
	}
	return client, nil
}

// withSpreadsheets fetches only the body structure of uids and returns,
// ascending, those with at least one spreadsheet part.
func withSpreadsheets(client *imapclient.Client, uids []uint32) ([]uint32, error) {
	set := new(imap.SeqSet)
	set.AddNum(uids...)
	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- client.UidFetch(set, []imap.FetchItem{imap.FetchUid, imap.FetchBodyStructure}, messages)
	}()

	var wanted []uint32
	for msg := range messages {
		if msg != nil && len(spreadsheetParts(msg.BodyStructure)) > 0 {
			wanted = append(wanted, msg.Uid)
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch structure: %w", err)
	}
	sort.Slice(wanted, func(i, j int) bool { return wanted[i] < wanted[j] })
	return wanted, nil
}

func download(client *imapclient.Client, uids []uint32, now time.Time) ([]internal.FetchedMailMessage, error) {
	set := new(imap.SeqSet)
	set.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, imap.FetchUid, section.FetchItem()}
	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() { done <- client.UidFetch(set, items, messages) }()

	out := make([]internal.FetchedMailMessage, 0, len(uids))
	var readErr error
	// the channel must be drained for UidFetch to return
	for msg := range messages {
		if msg == nil || readErr != nil {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			readErr = fmt.Errorf("read message %d: %w", msg.Uid, err)
			continue
		}
		out = append(out, fetchedMessage(msg, raw, now))
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	if readErr != nil {
		return nil, readErr
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt < out[j].ReceivedAt })
	return out, nil
}

func fetchedMessage(msg *imap.Message, raw []byte, now time.Time) internal.FetchedMailMessage {
	m := internal.FetchedMailMessage{
		Provider:   "imap",
		MessageID:  fmt.Sprintf("imap-%d", msg.Uid),
		ReceivedAt: now.UTC().Format(time.RFC3339),
		Raw:        raw,
	}
	if msg.Envelope != nil {
		if msg.Envelope.MessageId != "" {
			m.MessageID = msg.Envelope.MessageId
		}
		m.Subject = msg.Envelope.Subject
		m.From = formatAddresses(msg.Envelope.From)
	}
	if !msg.InternalDate.IsZero() {
		m.ReceivedAt = msg.InternalDate.UTC().Format(time.RFC3339)
	}
	return m
}

// spreadsheetParts lists the file names of parts in bs that intake can read.
func spreadsheetParts(bs *imap.BodyStructure) []string {
	if bs == nil {
		return nil
	}
	var names []string
	if name := partFilename(bs); name != "" && connectors.IsSpreadsheetName(name) {
		names = append(names, name)
	}
	for _, p := range bs.Parts {
		names = append(names, spreadsheetParts(p)...)
	}
	return names
}

func partFilename(bs *imap.BodyStructure) string {
	if name := param(bs.DispositionParams, "filename"); name != "" {
		return name
	}
	return param(bs.Params, "name")
}

func param(params map[string]string, key string) string {
	for k, v := range params {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func formatAddresses(addrs []*imap.Address) string {
	if len(addrs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == nil {
			continue
		}
		email := strings.Trim(strings.Join([]string{a.MailboxName, a.HostName}, "@"), "@")
		if a.PersonalName != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", a.PersonalName, email))
		} else {
			parts = append(parts, email)
		}
	}
	return strings.Join(parts, ", ")
}
