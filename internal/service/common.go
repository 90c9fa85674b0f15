package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"einvoice/internal/lifecycle"
	"einvoice/internal/model"
	"einvoice/internal/repository"

	"github.com/google/uuid"
)

// Actor identifies who is acting and for which company. Every service call takes it
// explicitly; nothing is read from ambient request state.
type Actor struct {
	CompanyID uuid.UUID
	UserID    *uuid.UUID
}

// EventPublisher pushes live events to a company's connected clients.
type EventPublisher interface {
	Publish(companyID uuid.UUID, event string, data interface{})
}

// Event names
const (
	EventInvoiceCreated     = "invoice.created"
	EventInvoiceUpdated     = "invoice.updated"
	EventInvoiceStatus      = "invoice.status_changed"
	EventInvoicePayment     = "invoice.payment_changed"
	EventInvoicePosted      = "invoice.posted"
	EventRegressionProgress = "fbr.regression.progress"
	EventRegressionFinished = "fbr.regression.finished"
)

type nopPublisher struct{}

func (nopPublisher) Publish(uuid.UUID, string, interface{}) {}

func publisherOrNop(p EventPublisher) EventPublisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}

func parseID(id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, invalidf("invalid invoice id %q", id)
	}
	return parsed, nil
}

func findInvoice(ctx context.Context, repo repository.InvoiceRepository, companyID uuid.UUID, id string) (*model.Invoice, error) {
	invoiceID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	inv, err := repo.FindByID(ctx, companyID, invoiceID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("invoice %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice: %w", err)
	}
	return inv, nil
}

// loadSeller returns the company and its settings.
func loadSeller(ctx context.Context, companies repository.CompanyRepository, settings repository.SettingsRepository, companyID uuid.UUID) (*model.Company, *model.Settings, error) {
	company, err := companies.FindByID(ctx, companyID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, fmt.Errorf("company %s: %w", companyID, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load company: %w", err)
	}
	s, err := settings.FindByCompany(ctx, companyID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return company, s, nil
}

// casError turns a lost compare-and-swap into ErrStatusChanged.
func casError(err error) error {
	if errors.Is(err, repository.ErrStaleStatus) {
		return ErrStatusChanged
	}
	return err
}

type auditEntry struct {
	action     string
	invoice    *model.Invoice
	entityID   string
	entityName string
	transition *lifecycle.Transition
	details    interface{}
}

func writeAudit(ctx context.Context, repo repository.AuditRepository, actor Actor, e auditEntry) error {
	companyID := actor.CompanyID
	entry := &model.AuditLog{
		CompanyID:  &companyID,
		UserID:     actor.UserID,
		Action:     e.action,
		EntityID:   e.entityID,
		EntityName: e.entityName,
		Details:    "{}",
	}
	if e.invoice != nil {
		entry.EntityID = e.invoice.ID.String()
		entry.EntityName = e.invoice.InvoiceNumber
	}
	if e.transition != nil {
		entry.Axis = e.transition.Axis
		entry.FromStatus = e.transition.From
		entry.ToStatus = e.transition.To
	}
	if e.details != nil {
		details, err := json.Marshal(e.details)
		if err != nil {
			return fmt.Errorf("failed to encode audit details: %w", err)
		}
		entry.Details = string(details)
	}
	if err := repo.Log(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// keyedMutex hands out one lock per key. Entries are dropped once nobody holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
