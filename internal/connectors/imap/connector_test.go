package imap

import (
	"testing"
	"time"

	"github.com/emersion/go-imap"

	"catmatch/internal/config"
)

func TestFormatAddresses(t *testing.T) {
	got := formatAddresses([]*imap.Address{
		{PersonalName: "Compras", MailboxName: "compras", HostName: "obra.com.br"},
		nil,
		{MailboxName: "almox", HostName: "obra.com.br"},
	})
	if want := "Compras <compras@obra.com.br>, almox@obra.com.br"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if formatAddresses(nil) != "" {
		t.Fatal("expected empty")
	}
}

func TestNewConnectorRequiresCredentials(t *testing.T) {
	if _, err := NewConnector(config.Config{IMAPHost: "imap.obra.com.br", IMAPUser: "intake"}); err == nil {
		t.Fatal("expected missing password error")
	}
	c, err := NewConnector(config.Config{IMAPHost: "imap.obra.com.br", IMAPPort: 993, IMAPUser: "intake", IMAPPassword: "x"})
	if err != nil || c.host != "imap.obra.com.br" || c.port != 993 {
		t.Fatalf("c=%+v err=%v", c, err)
	}
}

func TestSpreadsheetPartsWalksStructure(t *testing.T) {
	bs := &imap.BodyStructure{
		MIMEType: "multipart", MIMESubType: "mixed",
		Parts: []*imap.BodyStructure{
			{MIMEType: "text", MIMESubType: "plain"},
			{MIMEType: "application", MIMESubType: "pdf", DispositionParams: map[string]string{"filename": "nota.pdf"}},
			{
				MIMEType: "multipart", MIMESubType: "mixed",
				Parts: []*imap.BodyStructure{
					{MIMEType: "application", MIMESubType: "octet-stream", Disposition: "attachment", DispositionParams: map[string]string{"FILENAME": "Pedido.XLSX"}},
				},
			},
			{MIMEType: "text", MIMESubType: "csv", Params: map[string]string{"name": "lista.csv"}},
		},
	}
	got := spreadsheetParts(bs)
	if len(got) != 2 || got[0] != "Pedido.XLSX" || got[1] != "lista.csv" {
		t.Fatalf("got %v", got)
	}
	if spreadsheetParts(nil) != nil {
		t.Fatal("nil structure has parts")
	}
	if parts := spreadsheetParts(&imap.BodyStructure{MIMEType: "text", MIMESubType: "plain"}); len(parts) != 0 {
		t.Fatalf("plain message parts=%v", parts)
	}
}

func TestFetchedMessageFallbacks(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	bare := fetchedMessage(&imap.Message{Uid: 42}, []byte("raw"), now)
	if bare.MessageID != "imap-42" || bare.ReceivedAt != "2024-03-01T12:00:00Z" || bare.Provider != "imap" {
		t.Fatalf("bare=%+v", bare)
	}

	full := fetchedMessage(&imap.Message{
		Uid:          7,
		InternalDate: time.Date(2024, 2, 28, 9, 30, 0, 0, time.FixedZone("BRT", -3*3600)),
		Envelope: &imap.Envelope{
			MessageId: "<p1@obra>",
			Subject:   "Pedido 17",
			From:      []*imap.Address{{PersonalName: "Compras", MailboxName: "compras", HostName: "obra.com.br"}},
		},
	}, []byte("raw"), now)
	if full.MessageID != "<p1@obra>" || full.Subject != "Pedido 17" || full.From != "Compras <compras@obra.com.br>" {
		t.Fatalf("full=%+v", full)
	}
	if full.ReceivedAt != "2024-02-28T12:30:00Z" {
		t.Fatalf("received=%s", full.ReceivedAt)
	}
}
