package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stratix-hq/control-plane/internal/email"
	"github.com/stratix-hq/control-plane/internal/models"
	"github.com/stratix-hq/control-plane/internal/pkg/ulid"
	"github.com/stratix-hq/control-plane/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockInvitationRepo is an in-memory InvitationRepository. When orgs is set,
// Accept records the membership like the transactional SQL implementation.
type mockInvitationRepo struct {
	mu   sync.Mutex
	invs map[uuid.UUID]*models.Invitation
	orgs *mockOrgRepo
}

func newMockInvitationRepo() *mockInvitationRepo {
	return &mockInvitationRepo{invs: make(map[uuid.UUID]*models.Invitation)}
}

func (m *mockInvitationRepo) Create(_ context.Context, inv *models.Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.invs {
		if existing.OrgID == inv.OrgID &&
			strings.EqualFold(existing.Email, inv.Email) &&
			existing.IsOutstanding() {
			return repository.ErrDuplicateActive
		}
	}

	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	inv.Email = strings.ToLower(inv.Email)
	now := time.Now()
	inv.CreatedAt = now
	inv.UpdatedAt = now

	cp := *inv
	m.invs[inv.ID] = &cp
	return nil
}

func (m *mockInvitationRepo) get(id uuid.UUID) *models.Invitation {
	if inv, ok := m.invs[id]; ok {
		cp := *inv
		return &cp
	}
	return nil
}

func (m *mockInvitationRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(id), nil
}

func (m *mockInvitationRepo) GetByToken(_ context.Context, tok string) (*models.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, inv := range m.invs {
		if inv.Token == tok {
			return m.get(id), nil
		}
	}
	return nil, nil
}

func (m *mockInvitationRepo) GetByProviderMessageID(_ context.Context, messageID string) (*models.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, inv := range m.invs {
		if inv.ProviderMessageID != nil && *inv.ProviderMessageID == messageID {
			return m.get(id), nil
		}
	}
	return nil, nil
}

func (m *mockInvitationRepo) GetActiveByEmail(_ context.Context, orgID uuid.UUID, addr string) (*models.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, inv := range m.invs {
		if inv.OrgID == orgID && strings.EqualFold(inv.Email, addr) && inv.IsOutstanding() {
			return m.get(id), nil
		}
	}
	return nil, nil
}

func (m *mockInvitationRepo) List(_ context.Context, q models.InvitationQuery) ([]*models.Invitation, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Invitation
	for id, inv := range m.invs {
		if inv.OrgID != q.OrgID {
			continue
		}
		if q.Status != nil && inv.Status != *q.Status {
			continue
		}
		if q.Email != nil && !strings.EqualFold(inv.Email, *q.Email) {
			continue
		}
		out = append(out, m.get(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, int64(len(out)), nil
}

func (m *mockInvitationRepo) ListOutstanding(_ context.Context, orgID *uuid.UUID) ([]*models.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Invitation
	for id, inv := range m.invs {
		if !inv.IsOutstanding() {
			continue
		}
		if orgID != nil && inv.OrgID != *orgID {
			continue
		}
		out = append(out, m.get(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *mockInvitationRepo) MarkSent(_ context.Context, id uuid.UUID, sentAt time.Time, messageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invs[id]
	if !ok || inv.Status != models.InvitationStatusPending {
		return false, nil
	}
	inv.Status = models.InvitationStatusSent
	if inv.EmailSentAt == nil {
		ts := sentAt
		inv.EmailSentAt = &ts
	}
	inv.ProviderMessageID = &messageID
	inv.LastDeliveryError = nil
	return true, nil
}

func (m *mockInvitationRepo) RecordResend(_ context.Context, id uuid.UUID, expiresAt time.Time, messageID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invs[id]
	if !ok || inv.Status != models.InvitationStatusSent {
		return false, nil
	}
	inv.ResendCount++
	if expiresAt.After(inv.ExpiresAt) {
		inv.ExpiresAt = expiresAt
	}
	inv.ProviderMessageID = &messageID
	if inv.EmailSentAt == nil {
		ts := at
		inv.EmailSentAt = &ts
	}
	inv.LastDeliveryError = nil
	return true, nil
}

func (m *mockInvitationRepo) RecordReminder(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invs[id]
	if !ok || !inv.IsOutstanding() {
		return false, nil
	}
	inv.ReminderCount++
	ts := at
	inv.LastReminderAt = &ts
	return true, nil
}

func (m *mockInvitationRepo) RecordDeliveryError(_ context.Context, id uuid.UUID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if inv, ok := m.invs[id]; ok {
		inv.LastDeliveryError = &message
	}
	return nil
}

func (m *mockInvitationRepo) RecordEngagement(_ context.Context, id uuid.UUID, event models.EventType, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invs[id]
	if !ok {
		return nil
	}
	ts := at
	switch event {
	case models.EventDelivered:
		if inv.DeliveredAt == nil {
			inv.DeliveredAt = &ts
		}
	case models.EventOpened:
		if inv.OpenedAt == nil {
			inv.OpenedAt = &ts
		}
	case models.EventClicked:
		if inv.ClickedAt == nil {
			inv.ClickedAt = &ts
		}
	default:
		return fmt.Errorf("event %q has no engagement timestamp", event)
	}
	return nil
}

func (m *mockInvitationRepo) Accept(ctx context.Context, id uuid.UUID, member *models.OrgMember, at time.Time) (bool, error) {
	m.mu.Lock()

	inv, ok := m.invs[id]
	if !ok || !inv.IsOutstanding() {
		m.mu.Unlock()
		return false, nil
	}
	inv.Status = models.InvitationStatusAccepted
	ts := at
	inv.AcceptedAt = &ts
	uid := member.UserID
	inv.AcceptedBy = &uid
	m.mu.Unlock()

	if m.orgs != nil {
		if err := m.orgs.AddMember(ctx, member); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (m *mockInvitationRepo) Cancel(_ context.Context, id uuid.UUID, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invs[id]
	if !ok || !inv.IsOutstanding() {
		return false, nil
	}
	inv.Status = models.InvitationStatusCancelled
	return true, nil
}

var _ repository.InvitationRepository = (*mockInvitationRepo)(nil)

// mockBatchRepo is an in-memory BatchRepository. It records the size of every
// counter increment so tests can assert counters settle per outcome.
type mockBatchRepo struct {
	mu          sync.Mutex
	batches     map[uuid.UUID]*models.InvitationBatch
	sentCalls   int
	failedCalls []int
}

func newMockBatchRepo() *mockBatchRepo {
	return &mockBatchRepo{batches: make(map[uuid.UUID]*models.InvitationBatch)}
}

func (m *mockBatchRepo) Create(_ context.Context, batch *models.InvitationBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	if batch.Status == "" {
		batch.Status = models.BatchStatusProcessing
	}
	batch.CreatedAt = time.Now()
	cp := *batch
	m.batches[batch.ID] = &cp
	return nil
}

func (m *mockBatchRepo) GetByID(_ context.Context, id uuid.UUID) (*models.InvitationBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.batches[id]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, nil
}

func (m *mockBatchRepo) ListByOrg(_ context.Context, orgID uuid.UUID, _ int) ([]*models.InvitationBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.InvitationBatch
	for _, b := range m.batches {
		if b.OrgID == orgID {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockBatchRepo) IncrementSent(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentCalls++
	if b, ok := m.batches[id]; ok {
		b.SentCount++
	}
	return nil
}

func (m *mockBatchRepo) IncrementFailed(_ context.Context, id uuid.UUID, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedCalls = append(m.failedCalls, n)
	if b, ok := m.batches[id]; ok {
		b.FailedCount += n
		if limit := b.TotalCount - b.SentCount; b.FailedCount > limit {
			b.FailedCount = limit
		}
	}
	return nil
}

func (m *mockBatchRepo) Finalize(_ context.Context, id uuid.UUID, status models.BatchStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.batches[id]; ok && b.Status == models.BatchStatusProcessing {
		b.Status = status
		ts := at
		b.CompletedAt = &ts
	}
	return nil
}

var _ repository.BatchRepository = (*mockBatchRepo)(nil)

// mockEventRepo is an in-memory append-only EventRepository.
type mockEventRepo struct {
	mu     sync.Mutex
	events []*models.InvitationEvent
}

func newMockEventRepo() *mockEventRepo {
	return &mockEventRepo{}
}

func (m *mockEventRepo) Append(_ context.Context, event *models.InvitationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.ID == "" {
		event.ID = ulid.NewFromTime(event.OccurredAt)
	}
	cp := *event
	m.events = append(m.events, &cp)
	return nil
}

func (m *mockEventRepo) ListByInvitation(_ context.Context, invitationID uuid.UUID) ([]*models.InvitationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.InvitationEvent
	for _, ev := range m.events {
		if ev.InvitationID == invitationID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockEventRepo) byType(invitationID uuid.UUID, typ models.EventType) []*models.InvitationEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.InvitationEvent
	for _, ev := range m.events {
		if ev.InvitationID == invitationID && ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

var _ repository.EventRepository = (*mockEventRepo)(nil)

// mockOrgRepo is an in-memory OrgRepository.
type mockOrgRepo struct {
	mu      sync.Mutex
	orgs    map[uuid.UUID]*models.Organization
	members []*models.OrgMember
}

func newMockOrgRepo() *mockOrgRepo {
	return &mockOrgRepo{orgs: make(map[uuid.UUID]*models.Organization)}
}

func (m *mockOrgRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if org, ok := m.orgs[id]; ok {
		cp := *org
		return &cp, nil
	}
	return nil, nil
}

func (m *mockOrgRepo) ListOrgIDs(_ context.Context) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(m.orgs))
	for id := range m.orgs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *mockOrgRepo) GetMemberByEmail(_ context.Context, orgID uuid.UUID, addr string) (*models.OrgMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, member := range m.members {
		if member.OrgID == orgID && strings.EqualFold(member.Email, addr) {
			cp := *member
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockOrgRepo) GetMember(_ context.Context, orgID, userID uuid.UUID) (*models.OrgMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, member := range m.members {
		if member.OrgID == orgID && member.UserID == userID {
			cp := *member
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockOrgRepo) AddMember(_ context.Context, member *models.OrgMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.members {
		if existing.OrgID == member.OrgID && existing.UserID == member.UserID {
			return nil
		}
	}
	cp := *member
	cp.JoinedAt = time.Now()
	m.members = append(m.members, &cp)
	return nil
}

var _ repository.OrgRepository = (*mockOrgRepo)(nil)

// mockGateway records sent messages and fails addresses on demand.
type mockGateway struct {
	mu     sync.Mutex
	sent   []email.Message
	failTo map[string]error
}

func newMockGateway() *mockGateway {
	return &mockGateway{failTo: make(map[string]error)}
}

func (g *mockGateway) failFor(addr string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failTo[strings.ToLower(addr)] = err
}

func (g *mockGateway) Send(_ context.Context, msg email.Message) (*email.SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.failTo[strings.ToLower(msg.To)]; ok {
		return nil, err
	}
	g.sent = append(g.sent, msg)
	return &email.SendResult{MessageID: uuid.NewString()}, nil
}

func (g *mockGateway) sentTo(addr string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, msg := range g.sent {
		if strings.EqualFold(msg.To, addr) {
			n++
		}
	}
	return n
}

var _ email.Gateway = (*mockGateway)(nil)

// mockLocker is an in-memory cache.Cache good enough for scheduler locks.
type mockLocker struct {
	mu    sync.Mutex
	locks map[string]bool
	data  map[string]string
}

func newMockLocker() *mockLocker {
	return &mockLocker{locks: make(map[string]bool), data: make(map[string]string)}
}

func (l *mockLocker) Get(_ context.Context, key string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.data[key]
	return v, ok, nil
}

func (l *mockLocker) Set(_ context.Context, key, value string, _ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data[key] = value
	return nil
}

func (l *mockLocker) Delete(_ context.Context, keys ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range keys {
		delete(l.data, k)
	}
	return nil
}

func (l *mockLocker) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	return 1, nil
}

func (l *mockLocker) TryLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks[key] {
		return false, nil
	}
	l.locks[key] = true
	return true, nil
}

func (l *mockLocker) Unlock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, key)
	return nil
}
