package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/venue-ledger/pkg/db/models"
	"github.com/angelmondragon/venue-ledger/pkg/enums"
	"github.com/angelmondragon/venue-ledger/pkg/types"
)

// GenesisHash stands in for the predecessor hash of a venue's first entry.
var GenesisHash = strings.Repeat("0", 64)

const (
	entryNumberPrefix = "PAY"
	businessDateKey   = "20060102"
	businessDateHash  = "2006-01-02"
)

// Draft holds the caller-controlled fields of an entry before it is linked.
type Draft struct {
	VenueID          int64
	EntryType        enums.LedgerEntryType
	AmountCents      int64
	Currency         string
	PaymentMethod    enums.PaymentMethod
	OrderRef         *string
	StaffRef         *string
	ReferenceEntryID *int64
	Description      string
	Metadata         types.JSONObject
	BusinessDate     time.Time
}

// BuildEntry links draft to tail (nil for an empty chain) and stamps the entry
// number and content hash. seq is the 1-based position of the entry within
// its venue's business date.
func BuildEntry(draft Draft, tail *models.LedgerEntry, seq int64) *models.LedgerEntry {
	entry := &models.LedgerEntry{
		VenueID:          draft.VenueID,
		EntryType:        draft.EntryType,
		EntryNumber:      FormatEntryNumber(draft.BusinessDate, seq),
		AmountCents:      draft.AmountCents,
		Currency:         strings.ToUpper(draft.Currency),
		PaymentMethod:    draft.PaymentMethod,
		OrderRef:         draft.OrderRef,
		StaffRef:         draft.StaffRef,
		ReferenceEntryID: draft.ReferenceEntryID,
		Description:      draft.Description,
		Metadata:         draft.Metadata,
		BusinessDate:     BusinessDay(draft.BusinessDate),
	}
	prevHash := GenesisHash
	if tail != nil {
		prevID := tail.ID
		entry.PreviousEntryID = &prevID
		prevHash = tail.ContentHash
	}
	entry.ContentHash = ContentHash(entry, prevHash)
	return entry
}

// FormatEntryNumber renders PAY-YYYYMMDD-NNNNN.
func FormatEntryNumber(businessDate time.Time, seq int64) string {
	return fmt.Sprintf("%s-%s-%05d", entryNumberPrefix, BusinessDay(businessDate).Format(businessDateKey), seq)
}

// BusinessDay truncates t to its calendar date, anchored at UTC midnight so
// the value survives a DATE column round trip unchanged.
func BusinessDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ContentHash is SHA-256 over the entry's immutable fields and prevHash,
// joined with "|". Only persisted fields participate so a stored chain can be
// re-verified from the rows alone.
func ContentHash(entry *models.LedgerEntry, prevHash string) string {
	fields := []string{
		strconv.FormatInt(entry.VenueID, 10),
		entry.EntryNumber,
		string(entry.EntryType),
		strconv.FormatInt(entry.AmountCents, 10),
		entry.Currency,
		string(entry.PaymentMethod),
		BusinessDay(entry.BusinessDate).Format(businessDateHash),
		derefString(entry.OrderRef),
		derefInt(entry.ReferenceEntryID),
		prevHash,
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
