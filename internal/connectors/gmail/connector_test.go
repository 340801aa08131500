package gmail

import (
	"encoding/base64"
	"testing"
	"time"
)

func TestReceivedAt(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		header string
		want   string
	}{
		{"Tue, 27 Feb 2024 09:30:00 -0300", "2024-02-27T12:30:00Z"},
		{"27 Feb 2024 09:30:00 +0000", "2024-02-27T09:30:00Z"},
		{"", "2024-03-01T12:00:00Z"},
		{"yesterday-ish", "2024-03-01T12:00:00Z"},
	}
	for _, tc := range cases {
		if got := receivedAt(tc.header, now); got != tc.want {
			t.Fatalf("%q: got %s want %s", tc.header, got, tc.want)
		}
	}
}

func TestDecodeBase64URL(t *testing.T) {
	raw := []byte("Subject: pedido\r\n\r\nsegue planilha??>")
	for _, enc := range []*base64.Encoding{base64.RawURLEncoding, base64.URLEncoding} {
		got, err := decodeBase64URL(enc.EncodeToString(raw))
		if err != nil || string(got) != string(raw) {
			t.Fatalf("got %q err=%v", got, err)
		}
	}
	if _, err := decodeBase64URL("***"); err == nil {
		t.Fatal("expected error")
	}
}
