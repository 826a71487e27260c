package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/domain"
	pfirestore "github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/platform/firestore"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists order documents backed by Firestore.
type OrderRepository struct {
	base *pfirestore.BaseRepository[domain.Order]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[domain.Order](provider, ordersCollection, nil, nil)
	return &OrderRepository{base: base}, nil
}

// Insert stores a new order document. The ID must be unique.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	if _, err := r.base.Create(ctx, orderID, order); err != nil {
		return err
	}
	return nil
}

// Update replaces the persisted order state with the provided snapshot.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	if _, err := r.base.Set(ctx, orderID, order); err != nil {
		return err
	}
	return nil
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	order := doc.Data
	order.ID = doc.ID
	order.CreatedAt = chooseTime(order.CreatedAt, doc.CreateTime)
	order.UpdatedAt = chooseTime(order.UpdatedAt, doc.UpdateTime)
	return order, nil
}

// FindByTransactionRef resolves the order tied to a payment gateway reference.
func (r *OrderRepository) FindByTransactionRef(ctx context.Context, transactionRef string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	ref := strings.TrimSpace(transactionRef)
	if ref == "" {
		return domain.Order{}, errors.New("order repository: transaction ref is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("transactionRef", "==", ref).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.NewNotFoundError("orders.find_by_transaction_ref",
			fmt.Errorf("no order for transaction ref %s", ref))
	}

	order := docs[0].Data
	order.ID = docs[0].ID
	order.CreatedAt = chooseTime(order.CreatedAt, docs[0].CreateTime)
	order.UpdatedAt = chooseTime(order.UpdatedAt, docs[0].UpdateTime)
	return order, nil
}

// List returns orders matching the filter ordered by most recent creation.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	userID := strings.TrimSpace(filter.UserID)
	orderStatuses := normaliseValues(filter.OrderStatus)
	paymentStatuses := normaliseValues(filter.PaymentStatus)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID != "" {
			q = q.Where("userId", "==", userID)
		}
		if len(orderStatuses) == 1 {
			q = q.Where("orderStatus", "==", orderStatuses[0])
		} else if len(orderStatuses) > 1 {
			q = q.Where("orderStatus", "in", orderStatuses)
		}
		if len(paymentStatuses) == 1 {
			q = q.Where("paymentStatus", "==", paymentStatuses[0])
		} else if len(paymentStatuses) > 1 {
			q = q.Where("paymentStatus", "in", paymentStatuses)
		}
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}

		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeListToken(chooseTime(last.Data.CreatedAt, last.CreateTime), last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order := doc.Data
		order.ID = doc.ID
		order.CreatedAt = chooseTime(order.CreatedAt, doc.CreateTime)
		order.UpdatedAt = chooseTime(order.UpdatedAt, doc.UpdateTime)
		items = append(items, order)
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}
