package connectors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"catmatch/internal"
	"catmatch/internal/blobstore"
)

type MailRecorder interface {
	UpsertMailMessage(ctx context.Context, provider, messageID, subject, sender, receivedAt, hash, rawRef string) (internal.MailMessageRow, error)
}

// MailStoreService keeps the raw message in the blob store, keyed by content
// hash, and records it for intake.
type MailStoreService struct {
	db    MailRecorder
	blobs blobstore.Store
}

func NewMailStoreService(db MailRecorder, blobs blobstore.Store) *MailStoreService {
	return &MailStoreService{db: db, blobs: blobs}
}

func RawMailKey(hash string) string {
	return fmt.Sprintf("mail/%s.eml", hash)
}

func (s *MailStoreService) Store(ctx context.Context, msg internal.FetchedMailMessage) (internal.MailMessageRow, error) {
	hashBytes := sha256.Sum256(msg.Raw)
	hash := hex.EncodeToString(hashBytes[:])

	key := RawMailKey(hash)
	if err := s.blobs.Put(ctx, key, msg.Raw, "message/rfc822"); err != nil {
		return internal.MailMessageRow{}, err
	}
	return s.db.UpsertMailMessage(ctx, msg.Provider, msg.MessageID, msg.Subject, msg.From, msg.ReceivedAt, hash, key)
}
