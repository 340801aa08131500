package connectors

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"catmatch/internal"
	"catmatch/internal/blobstore"
)

type part struct {
	name        string
	contentType string
	content     string
}

func mimeMessage(subject string, parts ...part) []byte {
	var b strings.Builder
	b.WriteString("From: Compras <compras@obra.com.br>\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/mixed; boundary=\"B0UND\"\r\n\r\n")
	b.WriteString("--B0UND\r\nContent-Type: text/plain; charset=utf-8\r\n\r\nSegue pedido.\r\n")
	for _, p := range parts {
		b.WriteString("--B0UND\r\n")
		b.WriteString("Content-Type: " + p.contentType + "; name=\"" + p.name + "\"\r\n")
		b.WriteString("Content-Disposition: attachment; filename=\"" + p.name + "\"\r\n")
		b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
		b.WriteString(base64.StdEncoding.EncodeToString([]byte(p.content)) + "\r\n")
	}
	b.WriteString("--B0UND--\r\n")
	return []byte(b.String())
}

func TestSpreadsheetAttachments(t *testing.T) {
	raw := mimeMessage("Pedido 42",
		part{name: "pedido.csv", contentType: "text/csv", content: "Descrição;Qtd\nLuva;2\n"},
		part{name: "nota.pdf", contentType: "application/pdf", content: "%PDF-1.4"},
		part{name: "assinatura.txt", contentType: "text/plain", content: "att"},
		part{name: "antigo.xls", contentType: "application/vnd.ms-excel", content: "\xd0\xcf\x11\xe0"},
	)
	atts, subject, err := SpreadsheetAttachments(raw)
	if err != nil {
		t.Fatal(err)
	}
	if subject != "Pedido 42" {
		t.Fatalf("subject=%q", subject)
	}
	if len(atts) != 1 || atts[0].FileName != "pedido.csv" || !strings.HasPrefix(string(atts[0].Content), "Descrição;Qtd") {
		t.Fatalf("atts=%+v", atts)
	}
}

type fakeConnector struct{ msgs []internal.FetchedMailMessage }

func (f fakeConnector) FetchInbox(context.Context, string, int) ([]internal.FetchedMailMessage, error) {
	return f.msgs, nil
}

type memRecorder struct{ rows map[string]internal.MailMessageRow }

func (m *memRecorder) UpsertMailMessage(_ context.Context, provider, messageID, subject, sender, receivedAt, hash, rawRef string) (internal.MailMessageRow, error) {
	row := internal.MailMessageRow{ID: len(m.rows) + 1, Provider: provider, MessageID: messageID, Subject: subject, Sender: sender, ReceivedAt: receivedAt, Hash: hash, RawRef: rawRef}
	if prev, ok := m.rows[provider+messageID]; ok {
		row.ID = prev.ID
	}
	m.rows[provider+messageID] = row
	return row, nil
}

func TestFetchAndStoreKeepsRawMessage(t *testing.T) {
	blobs, err := blobstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	raw := mimeMessage("Pedido", part{name: "p.csv", contentType: "text/csv", content: "a\nb\n"})
	msg := internal.FetchedMailMessage{Provider: "imap", MessageID: "<m1@obra>", Raw: raw}
	rec := &memRecorder{rows: map[string]internal.MailMessageRow{}}
	svc := NewFetchService(rec, blobs, fakeConnector{msgs: []internal.FetchedMailMessage{msg, msg}})

	res, err := svc.FetchAndStore(context.Background(), "INBOX", 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.Fetched != 2 || res.Stored != 2 || len(rec.rows) != 1 {
		t.Fatalf("res=%+v rows=%d", res, len(rec.rows))
	}
	row := rec.rows["imap<m1@obra>"]
	if row.RawRef != RawMailKey(row.Hash) {
		t.Fatalf("row=%+v", row)
	}
	got, err := blobs.Get(context.Background(), row.RawRef)
	if err != nil || string(got) != string(raw) {
		t.Fatalf("raw mismatch err=%v", err)
	}
}
