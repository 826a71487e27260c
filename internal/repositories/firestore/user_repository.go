package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/domain"
	pfirestore "github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/platform/firestore"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/repositories"
)

const usersCollection = "users"

// UserRepository persists account documents backed by Firestore.
type UserRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[domain.User]
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[domain.User](provider, usersCollection, nil, nil)
	return &UserRepository{provider: provider, base: base}, nil
}

// Insert stores a new account document. The ID must be unique.
func (r *UserRepository) Insert(ctx context.Context, user domain.User) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	userID := strings.TrimSpace(user.ID)
	if userID == "" {
		return errors.New("user repository: user id is required")
	}
	if _, err := r.base.Create(ctx, userID, user); err != nil {
		return err
	}
	return nil
}

// Update replaces the persisted account state with the provided snapshot.
func (r *UserRepository) Update(ctx context.Context, user domain.User) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	userID := strings.TrimSpace(user.ID)
	if userID == "" {
		return errors.New("user repository: user id is required")
	}
	if _, err := r.base.Set(ctx, userID, user); err != nil {
		return err
	}
	return nil
}

// FindByID fetches a single account.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.User{}, errors.New("user repository: user id is required")
	}
	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	return hydrateUser(doc), nil
}

// FindByEmail resolves an account by its unique email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return domain.User{}, errors.New("user repository: email is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("email", "==", email).Limit(1)
	})
	if err != nil {
		return domain.User{}, err
	}
	if len(docs) == 0 {
		return domain.User{}, pfirestore.NewNotFoundError("users.find_by_email",
			fmt.Errorf("no account with email %s", email))
	}
	return hydrateUser(docs[0]), nil
}

// List returns accounts matching the filter ordered by creation time.
// AvailableOnly filtering happens in memory since Firestore cannot query for
// absent map fields.
func (r *UserRepository) List(ctx context.Context, filter repositories.UserListFilter) (domain.CursorPage[domain.User], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.User]{}, errors.New("user repository not initialised")
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
			return domain.CursorPage[domain.User]{}, fmt.Errorf("user repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	roles := normaliseValues(filter.Roles)
	states := normaliseValues(filter.States)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if len(roles) == 1 {
			q = q.Where("role", "==", roles[0])
		} else if len(roles) > 1 {
			q = q.Where("role", "in", roles)
		}
		if len(states) == 1 {
			q = q.Where("state", "==", states[0])
		} else if len(states) > 1 {
			q = q.Where("state", "in", states)
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
		return domain.CursorPage[domain.User]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeListToken(chooseTime(last.Data.CreatedAt, last.CreateTime), last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.User, 0, len(docs))
	for _, doc := range docs {
		user := hydrateUser(doc)
		if filter.AvailableOnly && !user.IsAvailableCarrier() {
			continue
		}
		items = append(items, user)
	}

	return domain.CursorPage[domain.User]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// AssignShipment atomically binds the carrier to a shipment. The write only
// succeeds when the account is an active carrier with no current shipment.
func (r *UserRepository) AssignShipment(ctx context.Context, carrierID string, assignment domain.ShipmentAssignment) (domain.User, error) {
	if r == nil || r.provider == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	carrierID = strings.TrimSpace(carrierID)
	if carrierID == "" {
		return domain.User{}, errors.New("user repository: carrier id is required")
	}
	if strings.TrimSpace(assignment.ShipmentID) == "" {
		return domain.User{}, errors.New("user repository: assignment shipment id is required")
	}

	var updated domain.User
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, carrierID)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc, err := r.base.DecodeSnapshot(ctx, snapshot)
		if err != nil {
			return fmt.Errorf("user repository: decode %s: %w", carrierID, err)
		}
		user := hydrateUser(doc)

		if user.Role != domain.RoleCarrier || user.State != domain.AccountActive || user.Carrier == nil {
			return pfirestore.NewConflictError("users.assign_shipment",
				fmt.Errorf("account %s is not an active carrier", carrierID))
		}
		if user.Carrier.CurrentShipment != nil {
			return pfirestore.NewConflictError("users.assign_shipment",
				fmt.Errorf("carrier %s already has shipment %s", carrierID, user.Carrier.CurrentShipment.ShipmentID))
		}

		assigned := assignment
		assigned.AssignedAt = assigned.AssignedAt.UTC()
		updates := []firestore.Update{
			{Path: "carrier.currentShipment", Value: assigned},
			{Path: "updatedAt", Value: assigned.AssignedAt},
		}
		if err := tx.Update(ref, updates); err != nil {
			return err
		}

		user.Carrier.CurrentShipment = &assigned
		user.UpdatedAt = assigned.AssignedAt
		updated = user
		return nil
	})
	if err != nil {
		return domain.User{}, pfirestore.WrapError("users.assign_shipment", err)
	}
	return updated, nil
}

// ClearAssignment removes the carrier's current shipment when it matches shipmentID.
func (r *UserRepository) ClearAssignment(ctx context.Context, carrierID string, shipmentID string, now time.Time) (domain.User, error) {
	if r == nil || r.provider == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	carrierID = strings.TrimSpace(carrierID)
	shipmentID = strings.TrimSpace(shipmentID)
	if carrierID == "" || shipmentID == "" {
		return domain.User{}, errors.New("user repository: carrier id and shipment id are required")
	}
	now = now.UTC()

	var updated domain.User
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, carrierID)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc, err := r.base.DecodeSnapshot(ctx, snapshot)
		if err != nil {
			return fmt.Errorf("user repository: decode %s: %w", carrierID, err)
		}
		user := hydrateUser(doc)

		if user.Carrier == nil || user.Carrier.CurrentShipment == nil {
			// Already clear; treat as success so release is idempotent.
			updated = user
			return nil
		}
		if user.Carrier.CurrentShipment.ShipmentID != shipmentID {
			return pfirestore.NewConflictError("users.clear_assignment",
				fmt.Errorf("carrier %s holds shipment %s, not %s", carrierID, user.Carrier.CurrentShipment.ShipmentID, shipmentID))
		}

		updates := []firestore.Update{
			{Path: "carrier.currentShipment", Value: firestore.Delete},
			{Path: "updatedAt", Value: now},
		}
		if err := tx.Update(ref, updates); err != nil {
			return err
		}

		user.Carrier.CurrentShipment = nil
		user.UpdatedAt = now
		updated = user
		return nil
	})
	if err != nil {
		return domain.User{}, pfirestore.WrapError("users.clear_assignment", err)
	}
	return updated, nil
}

// Deactivate soft-deletes the account while keeping the document for audit history.
func (r *UserRepository) Deactivate(ctx context.Context, userID string, now time.Time) (domain.User, error) {
	if r == nil || r.provider == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.User{}, errors.New("user repository: user id is required")
	}
	now = now.UTC()

	var updated domain.User
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, userID)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc, err := r.base.DecodeSnapshot(ctx, snapshot)
		if err != nil {
			return fmt.Errorf("user repository: decode %s: %w", userID, err)
		}
		user := hydrateUser(doc)

		if user.Carrier != nil && user.Carrier.CurrentShipment != nil {
			return pfirestore.NewConflictError("users.deactivate",
				fmt.Errorf("carrier %s still holds shipment %s", userID, user.Carrier.CurrentShipment.ShipmentID))
		}

		updates := []firestore.Update{
			{Path: "state", Value: string(domain.AccountDeactivated)},
			{Path: "updatedAt", Value: now},
		}
		if err := tx.Update(ref, updates); err != nil {
			return err
		}

		user.State = domain.AccountDeactivated
		user.UpdatedAt = now
		updated = user
		return nil
	})
	if err != nil {
		return domain.User{}, pfirestore.WrapError("users.deactivate", err)
	}
	return updated, nil
}

// Purge physically removes the account document.
func (r *UserRepository) Purge(ctx context.Context, userID string) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user repository: user id is required")
	}
	return r.base.Delete(ctx, userID, firestore.Exists)
}

func hydrateUser(doc pfirestore.Document[domain.User]) domain.User {
	user := doc.Data
	user.ID = doc.ID
	user.CreatedAt = chooseTime(user.CreatedAt, doc.CreateTime)
	user.UpdatedAt = chooseTime(user.UpdatedAt, doc.UpdateTime)
	return user
}
