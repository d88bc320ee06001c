package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/arbora/orders-api/internal/domain"
	pfirestore "github.com/arbora/orders-api/internal/platform/firestore"
	"github.com/arbora/orders-api/internal/repositories"
)

const auditLogsCollection = "orderAuditLogs"

// AuditLogRepository persists immutable order audit entries in Firestore.
type AuditLogRepository struct {
	provider *pfirestore.Provider
	entries  *pfirestore.BaseRepository[auditLogDocument]
}

// NewAuditLogRepository constructs the Firestore-backed audit log repository.
func NewAuditLogRepository(provider *pfirestore.Provider) (*AuditLogRepository, error) {
	if provider == nil {
		return nil, errors.New("audit log repository requires firestore provider")
	}
	entries := pfirestore.NewBaseRepository[auditLogDocument](provider, auditLogsCollection, nil, nil)
	return &AuditLogRepository{provider: provider, entries: entries}, nil
}

var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)

// Append writes a new audit entry. Entries are never updated or deleted.
func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	if r == nil || r.entries == nil {
		return errors.New("audit log repository not initialised")
	}
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("audit append: id is required")
	}
	if strings.TrimSpace(entry.OrderID) == "" {
		return errors.New("audit append: order id is required")
	}

	ref, err := r.entries.DocumentRef(ctx, entry.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newAuditLogDocument(entry)); err != nil {
		return pfirestore.WrapError("auditLogs.append", err)
	}
	return nil
}

// ListByOrder returns one offset page of entries for the order, newest first.
func (r *AuditLogRepository) ListByOrder(ctx context.Context, orderID string, query repositories.AuditLogQuery) (domain.Page[domain.AuditLogEntry], error) {
	if r == nil || r.entries == nil {
		return domain.Page[domain.AuditLogEntry]{}, errors.New("audit log repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Page[domain.AuditLogEntry]{}, errors.New("audit list: order id is required")
	}

	page := query.Page
	if page <= 0 {
		page = 1
	}
	pageSize := query.PageSize
	if pageSize <= 0 {
		return domain.Page[domain.AuditLogEntry]{}, errors.New("audit list: page size is required")
	}

	docs, err := r.entries.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("orderId", "==", orderID)
		if query.Action != nil {
			q = q.Where("action", "==", string(*query.Action))
		}
		if query.Since != nil {
			q = q.Where("createdAt", ">=", query.Since.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Desc)
		if page > 1 {
			q = q.Offset((page - 1) * pageSize)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.Page[domain.AuditLogEntry]{}, err
	}

	hasMore := len(docs) > pageSize
	if hasMore {
		docs = docs[:pageSize]
	}

	entries := make([]domain.AuditLogEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, doc.Data.toDomain(doc.ID))
	}
	return domain.Page[domain.AuditLogEntry]{
		Items:    entries,
		Page:     page,
		PageSize: pageSize,
		HasMore:  hasMore,
	}, nil
}

// Document mapping ----------------------------------------------------------

type auditLogDocument struct {
	OrderID     string              `firestore:"orderId"`
	Action      string              `firestore:"action"`
	Description string              `firestore:"description,omitempty"`
	ActorID     string              `firestore:"actorId"`
	ActorName   string              `firestore:"actorName,omitempty"`
	ActorRole   string              `firestore:"actorRole"`
	Changes     []auditChangeRecord `firestore:"changes,omitempty"`
	Metadata    map[string]any      `firestore:"metadata,omitempty"`
	CreatedAt   time.Time           `firestore:"createdAt"`
}

type auditChangeRecord struct {
	Field    string `firestore:"field"`
	OldValue string `firestore:"oldValue,omitempty"`
	NewValue string `firestore:"newValue,omitempty"`
}

func newAuditLogDocument(entry domain.AuditLogEntry) auditLogDocument {
	changes := make([]auditChangeRecord, len(entry.Changes))
	for i, change := range entry.Changes {
		changes[i] = auditChangeRecord{
			Field:    strings.TrimSpace(change.Field),
			OldValue: change.OldValue,
			NewValue: change.NewValue,
		}
	}
	return auditLogDocument{
		OrderID:     strings.TrimSpace(entry.OrderID),
		Action:      string(entry.Action),
		Description: strings.TrimSpace(entry.Description),
		ActorID:     strings.TrimSpace(entry.PerformedBy.ID),
		ActorName:   strings.TrimSpace(entry.PerformedBy.Name),
		ActorRole:   string(entry.PerformedBy.Role),
		Changes:     changes,
		Metadata:    entry.Metadata,
		CreatedAt:   entry.CreatedAt.UTC(),
	}
}

func (d auditLogDocument) toDomain(id string) domain.AuditLogEntry {
	changes := make([]domain.AuditChange, len(d.Changes))
	for i, change := range d.Changes {
		changes[i] = domain.AuditChange{
			Field:    change.Field,
			OldValue: change.OldValue,
			NewValue: change.NewValue,
		}
	}
	return domain.AuditLogEntry{
		ID:          id,
		OrderID:     d.OrderID,
		Action:      domain.AuditAction(d.Action),
		Description: d.Description,
		PerformedBy: domain.AuditActor{
			ID:   d.ActorID,
			Name: d.ActorName,
			Role: domain.Role(d.ActorRole),
		},
		Changes:   changes,
		Metadata:  d.Metadata,
		CreatedAt: d.CreatedAt,
	}
}
