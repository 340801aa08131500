package internal

import "time"

type UploadStatus string

const (
	UploadCreated    UploadStatus = "CREATED"
	UploadProcessing UploadStatus = "PROCESSING"
	UploadCompleted  UploadStatus = "COMPLETED"
	UploadFailed     UploadStatus = "FAILED"
	UploadCancelled  UploadStatus = "CANCELLED"
)

// Terminal reports whether no further lifecycle transition is possible.
func (s UploadStatus) Terminal() bool {
	switch s {
	case UploadCompleted, UploadFailed, UploadCancelled:
		return true
	default:
		return false
	}
}

type MatchStatus string

const (
	MatchPending  MatchStatus = "PENDING"
	MatchApproved MatchStatus = "APPROVED"
	MatchRejected MatchStatus = "REJECTED"
	MatchNotFound MatchStatus = "NOT_FOUND"
	MatchManual   MatchStatus = "MANUAL"
)

func (s MatchStatus) Valid() bool {
	switch s {
	case MatchPending, MatchApproved, MatchRejected, MatchNotFound, MatchManual:
		return true
	default:
		return false
	}
}

type AuditAction string

const (
	AuditUploadFile      AuditAction = "UPLOAD_FILE"
	AuditProcessStart    AuditAction = "PROCESS_START"
	AuditProcessComplete AuditAction = "PROCESS_COMPLETE"
	AuditProcessFail     AuditAction = "PROCESS_FAIL"
	AuditProcessCancel   AuditAction = "PROCESS_CANCEL"
	AuditMatchReview     AuditAction = "MATCH_REVIEW"
	AuditDownloadResult  AuditAction = "DOWNLOAD_RESULT"
	AuditUploadDelete    AuditAction = "UPLOAD_DELETE"
)

const RoleAdmin = "admin"

// Identity is the authenticated caller acting on uploads and matches.
type Identity struct {
	UserID string
	Role   string
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// CanAccess reports whether the identity may see resources owned by ownerID.
func (i Identity) CanAccess(ownerID string) bool {
	return i.UserID != "" && (i.UserID == ownerID || i.IsAdmin())
}

type Category struct {
	ID          string  `json:"id"`
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

type Subcategory struct {
	ID          string  `json:"id"`
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	CategoryID  string  `json:"categoryId"`
}

type CatalogEntry struct {
	ID            string   `json:"id"`
	Code          string   `json:"code"`
	Name          string   `json:"name"`
	Unit          *string  `json:"unit"`
	Active        bool     `json:"active"`
	CategoryID    string   `json:"categoryId"`
	SubcategoryID *string  `json:"subcategoryId"`
	Keywords      []string `json:"keywords"`
}

type Upload struct {
	ID             string       `json:"id"`
	OwnerID        string       `json:"ownerId"`
	OriginalName   string       `json:"originalName"`
	StoredName     string       `json:"storedName"`
	Size           int64        `json:"size"`
	MimeType       string       `json:"mimeType"`
	Status         UploadStatus `json:"status"`
	TotalItems     *int         `json:"totalItems"`
	ProcessedItems int          `json:"processedItems"`
	ErrorMessage   *string      `json:"errorMessage"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
	CompletedAt    *time.Time   `json:"completedAt"`
}

type ColumnMapping struct {
	DescriptionColumn string `json:"descriptionColumn"`
	QuantityColumn    string `json:"quantityColumn,omitempty"`
}

// ParsedRow is one data row produced by the ingestion parser, before persistence.
type ParsedRow struct {
	RowNumber   int
	Text        string
	QuantityRaw *string
	Quantity    *float64
	Unit        *string
}

type LineItem struct {
	ID          string   `json:"id"`
	UploadID    string   `json:"uploadId"`
	RowNumber   int      `json:"rowNumber"`
	Text        string   `json:"text"`
	QuantityRaw *string  `json:"quantityRaw"`
	Quantity    *float64 `json:"quantity"`
	Unit        *string  `json:"unit"`
}

type MatchCandidate struct {
	ID           string      `json:"id"`
	UploadID     string      `json:"uploadId"`
	LineItemID   string      `json:"lineItemId"`
	RowNumber    int         `json:"rowNumber"`
	Score        float64     `json:"score"`
	Status       MatchStatus `json:"status"`
	OriginalText string      `json:"originalText"`
	MatchedText  *string     `json:"matchedText"`
	MaterialID   *string     `json:"materialId"`
	ReviewedAt   *time.Time  `json:"reviewedAt"`
	ReviewedBy   *string     `json:"reviewedBy"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// MatchView is a candidate joined with its line item and the referenced entry.
// Entry fields are nil when the reference is gone.
type MatchView struct {
	MatchCandidate
	QuantityRaw    *string  `json:"quantityRaw"`
	Quantity       *float64 `json:"quantity"`
	MaterialCode   *string  `json:"materialCode"`
	MaterialName   *string  `json:"materialName"`
	MaterialUnit   *string  `json:"materialUnit"`
	MaterialActive *bool    `json:"materialActive"`
}

type AuditEntry struct {
	ID        int64       `json:"id"`
	Actor     string      `json:"actor"`
	Action    AuditAction `json:"action"`
	Detail    string      `json:"detail"`
	CreatedAt time.Time   `json:"createdAt"`
}

type OwnerStats struct {
	MonthlyUploads int `json:"monthlyUploads"`
	ProcessedItems int `json:"processedItems"`
	PendingReview  int `json:"pendingReview"`
	MatchRate      int `json:"matchRate"`
}

type FetchedMailMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}

type MailMessageRow struct {
	ID         int
	Provider   string
	MessageID  string
	Subject    string
	Sender     string
	ReceivedAt string
	Hash       string
	Status     string
	RawRef     string
}

type MatchExportRow struct {
	RowNumber    int
	OriginalText string
	QuantityRaw  *string
	Quantity     *float64
	Status       string
	Score        float64
	MaterialCode *string
	MaterialName *string
	MaterialUnit *string
	ReviewedBy   *string
	ReviewedAt   *time.Time
}
