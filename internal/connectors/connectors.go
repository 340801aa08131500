package connectors

import (
	"context"

	"catmatch/internal"
)

// MailConnector pulls raw messages from a mailbox.
type MailConnector interface {
	FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error)
}
