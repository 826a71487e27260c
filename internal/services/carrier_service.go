package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/domain"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/repositories"
)

const (
	carrierEventRegistered  = "carrier.registered"
	carrierEventDeactivated = "carrier.deactivated"
	carrierEventPurged      = "carrier.purged"

	userIDPrefix = "usr_"
)

var (
	// ErrCarrierInvalidInput signals the caller provided invalid data.
	ErrCarrierInvalidInput = errors.New("carrier: invalid input")
	// ErrCarrierNotFound indicates no carrier account matches the id.
	ErrCarrierNotFound = errors.New("carrier: not found")
	// ErrCarrierConflict indicates a duplicate registration or concurrent change.
	ErrCarrierConflict = errors.New("carrier: conflict")
	// ErrCarrierBusy indicates the carrier still holds an active shipment.
	ErrCarrierBusy = errors.New("carrier: active shipment assigned")
)

// CarrierServiceDeps bundles collaborators required to construct the carrier service.
type CarrierServiceDeps struct {
	Users       repositories.UserRepository
	Shipments   repositories.ShipmentRepository
	Clock       func() time.Time
	IDGenerator func() string
	Events      LifecycleEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type carrierService struct {
	users     repositories.UserRepository
	shipments repositories.ShipmentRepository
	clock     func() time.Time
	newID     func() string
	events    LifecycleEventPublisher
	logger    func(context.Context, string, map[string]any)
}

// NewCarrierService wires dependencies into a concrete CarrierService implementation.
func NewCarrierService(deps CarrierServiceDeps) (CarrierService, error) {
	if deps.Users == nil {
		return nil, errors.New("carrier service: user repository is required")
	}
	if deps.Shipments == nil {
		return nil, errors.New("carrier service: shipment repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &carrierService{
		users:     deps.Users,
		shipments: deps.Shipments,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *carrierService) RegisterCarrier(ctx context.Context, cmd RegisterCarrierCommand) (User, error) {
	email := strings.ToLower(strings.TrimSpace(cmd.Email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: a valid email is required", ErrCarrierInvalidInput)
	}
	zone := strings.TrimSpace(cmd.Zone)
	if zone == "" {
		return User{}, fmt.Errorf("%w: delivery zone is required", ErrCarrierInvalidInput)
	}

	if existing, err := s.users.FindByEmail(ctx, email); err == nil && existing.ID != "" {
		return User{}, fmt.Errorf("%w: email %q already registered", ErrCarrierConflict, email)
	} else if err != nil {
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
			return User{}, s.mapRepositoryError(err)
		}
	}

	now := s.now()
	carrier := User{
		ID:        userIDPrefix + s.newID(),
		Email:     email,
		FirstName: strings.TrimSpace(cmd.FirstName),
		LastName:  strings.TrimSpace(cmd.LastName),
		Role:      domain.RoleCarrier,
		State:     domain.AccountActive,
		Carrier: &domain.CarrierProfile{
			Zone:    zone,
			Vehicle: strings.TrimSpace(cmd.Vehicle),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.users.Insert(ctx, carrier); err != nil {
		return User{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, LifecycleEvent{
		Type:       carrierEventRegistered,
		ActorID:    cmd.ActorID,
		OccurredAt: now,
		Metadata: map[string]any{
			"carrierId": carrier.ID,
			"zone":      zone,
		},
	})

	return carrier, nil
}

func (s *carrierService) GetCarrier(ctx context.Context, carrierID string) (User, error) {
	carrierID = strings.TrimSpace(carrierID)
	if carrierID == "" {
		return User{}, fmt.Errorf("%w: carrier id is required", ErrCarrierInvalidInput)
	}

	carrier, err := s.users.FindByID(ctx, carrierID)
	if err != nil {
		return User{}, s.mapRepositoryError(err)
	}
	if carrier.Role != domain.RoleCarrier {
		return User{}, fmt.Errorf("%w: %s", ErrCarrierNotFound, carrierID)
	}
	return carrier, nil
}

func (s *carrierService) ListCarriers(ctx context.Context, filter CarrierListFilter) (domain.CursorPage[User], error) {
	states := filter.States
	if filter.AvailableOnly && len(states) == 0 {
		states = []string{string(domain.AccountActive)}
	}

	page, err := s.users.List(ctx, repositories.UserListFilter{
		Roles:         []string{string(domain.RoleCarrier)},
		States:        states,
		AvailableOnly: filter.AvailableOnly,
		Pagination:    filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[User]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *carrierService) DeleteCarrier(ctx context.Context, cmd DeleteCarrierCommand) (CarrierDeletion, error) {
	carrierID := strings.TrimSpace(cmd.CarrierID)
	if carrierID == "" {
		return CarrierDeletion{}, fmt.Errorf("%w: carrier id is required", ErrCarrierInvalidInput)
	}

	carrier, err := s.GetCarrier(ctx, carrierID)
	if err != nil {
		return CarrierDeletion{}, err
	}

	if carrier.Carrier != nil && carrier.Carrier.CurrentShipment != nil {
		return CarrierDeletion{}, fmt.Errorf("%w: shipment %s", ErrCarrierBusy, carrier.Carrier.CurrentShipment.ShipmentID)
	}

	history, err := s.shipments.CountByCarrier(ctx, carrierID)
	if err != nil {
		return CarrierDeletion{}, s.mapRepositoryError(err)
	}

	now := s.now()

	// Shipment history keeps the account around for auditing; only carriers
	// that never moved a parcel are physically removed.
	if history > 0 {
		if _, err := s.users.Deactivate(ctx, carrierID, now); err != nil {
			return CarrierDeletion{}, s.mapRepositoryError(err)
		}
		s.publishEvent(ctx, LifecycleEvent{
			Type:       carrierEventDeactivated,
			ActorID:    cmd.ActorID,
			OccurredAt: now,
			Metadata: map[string]any{
				"carrierId": carrierID,
				"shipments": history,
			},
		})
		return CarrierDeletion{CarrierID: carrierID, Outcome: CarrierDeactivated}, nil
	}

	if err := s.users.Purge(ctx, carrierID); err != nil {
		return CarrierDeletion{}, s.mapRepositoryError(err)
	}
	s.publishEvent(ctx, LifecycleEvent{
		Type:       carrierEventPurged,
		ActorID:    cmd.ActorID,
		OccurredAt: now,
		Metadata: map[string]any{
			"carrierId": carrierID,
		},
	})
	return CarrierDeletion{CarrierID: carrierID, Outcome: CarrierPurged}, nil
}

func (s *carrierService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCarrierNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCarrierConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("carrier: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *carrierService) now() time.Time {
	return s.clock()
}

func (s *carrierService) publishEvent(ctx context.Context, event LifecycleEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishLifecycleEvent(ctx, event); err != nil {
		s.logger(ctx, "carrier.event.publish.failed", map[string]any{
			"type":  event.Type,
			"error": err.Error(),
		})
	}
}
