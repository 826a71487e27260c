package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"

	domain "github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/domain"
	pfirestore "github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/platform/firestore"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/repositories"
)

const shipmentsCollection = "shipments"

// ShipmentRepository persists shipment documents backed by Firestore.
type ShipmentRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[domain.Shipment]
}

var _ repositories.ShipmentRepository = (*ShipmentRepository)(nil)

// NewShipmentRepository constructs a Firestore-backed shipment repository.
func NewShipmentRepository(provider *pfirestore.Provider) (*ShipmentRepository, error) {
	if provider == nil {
		return nil, errors.New("shipment repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[domain.Shipment](provider, shipmentsCollection, nil, nil)
	return &ShipmentRepository{provider: provider, base: base}, nil
}

// Insert stores a new shipment document. The ID must be unique.
func (r *ShipmentRepository) Insert(ctx context.Context, shipment domain.Shipment) error {
	if r == nil || r.base == nil {
		return errors.New("shipment repository not initialised")
	}
	shipmentID := strings.TrimSpace(shipment.ID)
	if shipmentID == "" {
		return errors.New("shipment repository: shipment id is required")
	}
	if strings.TrimSpace(shipment.TrackingNumber) == "" {
		return errors.New("shipment repository: tracking number is required")
	}
	if _, err := r.base.Create(ctx, shipmentID, shipment); err != nil {
		return err
	}
	return nil
}

// Update replaces the persisted shipment state with the provided snapshot.
func (r *ShipmentRepository) Update(ctx context.Context, shipment domain.Shipment) error {
	if r == nil || r.base == nil {
		return errors.New("shipment repository not initialised")
	}
	shipmentID := strings.TrimSpace(shipment.ID)
	if shipmentID == "" {
		return errors.New("shipment repository: shipment id is required")
	}
	if _, err := r.base.Set(ctx, shipmentID, shipment); err != nil {
		return err
	}
	return nil
}

// FindByID fetches a single shipment.
func (r *ShipmentRepository) FindByID(ctx context.Context, shipmentID string) (domain.Shipment, error) {
	if r == nil || r.base == nil {
		return domain.Shipment{}, errors.New("shipment repository not initialised")
	}
	shipmentID = strings.TrimSpace(shipmentID)
	if shipmentID == "" {
		return domain.Shipment{}, errors.New("shipment repository: shipment id is required")
	}
	doc, err := r.base.Get(ctx, shipmentID)
	if err != nil {
		return domain.Shipment{}, err
	}
	return hydrateShipment(doc), nil
}

// FindByTrackingNumber resolves a shipment by its public tracking number.
func (r *ShipmentRepository) FindByTrackingNumber(ctx context.Context, trackingNumber string) (domain.Shipment, error) {
	if r == nil || r.base == nil {
		return domain.Shipment{}, errors.New("shipment repository not initialised")
	}
	tracking := strings.TrimSpace(trackingNumber)
	if tracking == "" {
		return domain.Shipment{}, errors.New("shipment repository: tracking number is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("trackingNumber", "==", tracking).Limit(1)
	})
	if err != nil {
		return domain.Shipment{}, err
	}
	if len(docs) == 0 {
		return domain.Shipment{}, pfirestore.NewNotFoundError("shipments.find_by_tracking",
			fmt.Errorf("no shipment with tracking number %s", tracking))
	}
	return hydrateShipment(docs[0]), nil
}

// ListByOrder returns shipments attached to an order, newest first.
func (r *ShipmentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Shipment, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("shipment repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("shipment repository: order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}

	shipments := make([]domain.Shipment, 0, len(docs))
	for _, doc := range docs {
		shipments = append(shipments, hydrateShipment(doc))
	}
	return shipments, nil
}

// List returns shipments matching the filter ordered by most recent creation.
func (r *ShipmentRepository) List(ctx context.Context, filter repositories.ShipmentListFilter) (domain.CursorPage[domain.Shipment], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Shipment]{}, errors.New("shipment repository not initialised")
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
			return domain.CursorPage[domain.Shipment]{}, fmt.Errorf("shipment repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	carrierID := strings.TrimSpace(filter.CarrierID)
	orderID := strings.TrimSpace(filter.OrderID)
	tracking := strings.TrimSpace(filter.TrackingNumber)
	statuses := normaliseValues(filter.Status)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if carrierID != "" {
			q = q.Where("carrierId", "==", carrierID)
		}
		if orderID != "" {
			q = q.Where("orderId", "==", orderID)
		}
		if tracking != "" {
			q = q.Where("trackingNumber", "==", tracking)
		}
		if len(statuses) == 1 {
			q = q.Where("status", "==", statuses[0])
		} else if len(statuses) > 1 {
			q = q.Where("status", "in", statuses)
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
		return domain.CursorPage[domain.Shipment]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeListToken(chooseTime(last.Data.CreatedAt, last.CreateTime), last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Shipment, 0, len(docs))
	for _, doc := range docs {
		items = append(items, hydrateShipment(doc))
	}

	return domain.CursorPage[domain.Shipment]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// CountByCarrier reports how many shipments the carrier has ever handled.
func (r *ShipmentRepository) CountByCarrier(ctx context.Context, carrierID string) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("shipment repository not initialised")
	}
	carrierID = strings.TrimSpace(carrierID)
	if carrierID == "" {
		return 0, errors.New("shipment repository: carrier id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}

	query := client.Collection(shipmentsCollection).Where("carrierId", "==", carrierID)
	results, err := query.NewAggregationQuery().WithCount("total").Get(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("shipments.count_by_carrier", err)
	}

	raw, ok := results["total"]
	if !ok {
		return 0, errors.New("shipment repository: aggregation result missing count")
	}
	value, ok := raw.(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("shipment repository: unexpected aggregation result type %T", raw)
	}
	return value.GetIntegerValue(), nil
}

func hydrateShipment(doc pfirestore.Document[domain.Shipment]) domain.Shipment {
	shipment := doc.Data
	shipment.ID = doc.ID
	shipment.CreatedAt = chooseTime(shipment.CreatedAt, doc.CreateTime)
	shipment.UpdatedAt = chooseTime(shipment.UpdatedAt, doc.UpdateTime)
	return shipment
}
