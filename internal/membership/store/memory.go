package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"agencyhub/internal/membership/models"
	id "agencyhub/pkg/domain"
)

// InMemoryLedger is a map-backed ledger. Reads and writes are guarded by mu;
// whole transactions are serialized by the runner returned from Tx.
// Values are copied on the way in and out so callers never alias stored rows.
type InMemoryLedger struct {
	mu            sync.RWMutex
	txMu          sync.Mutex
	escorts       map[id.EscortID]models.Escort
	agencies      map[id.AgencyID]models.Agency
	memberships   map[id.MembershipID]models.Membership
	invitations   map[id.InvitationID]models.Invitation
	verifications map[id.VerificationID]models.Verification
}

func NewInMemory() *InMemoryLedger {
	return &InMemoryLedger{
		escorts:       make(map[id.EscortID]models.Escort),
		agencies:      make(map[id.AgencyID]models.Agency),
		memberships:   make(map[id.MembershipID]models.Membership),
		invitations:   make(map[id.InvitationID]models.Invitation),
		verifications: make(map[id.VerificationID]models.Verification),
	}
}

type ledgerSnapshot struct {
	escorts       map[id.EscortID]models.Escort
	agencies      map[id.AgencyID]models.Agency
	memberships   map[id.MembershipID]models.Membership
	invitations   map[id.InvitationID]models.Invitation
	verifications map[id.VerificationID]models.Verification
}

func (s *InMemoryLedger) snapshot() ledgerSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ledgerSnapshot{
		escorts:       cloneMap(s.escorts),
		agencies:      cloneMap(s.agencies),
		memberships:   cloneMap(s.memberships),
		invitations:   cloneMap(s.invitations),
		verifications: cloneMap(s.verifications),
	}
}

func (s *InMemoryLedger) restore(snap ledgerSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escorts = snap.escorts
	s.agencies = snap.agencies
	s.memberships = snap.memberships
	s.invitations = snap.invitations
	s.verifications = snap.verifications
}

// Stored rows only hold value fields and slices that are replaced, never
// appended to in place, so a shallow map copy is a consistent snapshot.
func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *InMemoryLedger) InsertEscort(_ context.Context, e *models.Escort) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escorts[e.ID] = *e
	return nil
}

// LockEscort returns the escort. The row lock is implied by the runner's
// global transaction lock.
func (s *InMemoryLedger) LockEscort(ctx context.Context, escortID id.EscortID) (*models.Escort, error) {
	return s.FindEscort(ctx, escortID)
}

func (s *InMemoryLedger) FindEscort(_ context.Context, escortID id.EscortID) (*models.Escort, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.escorts[escortID]
	if !ok {
		return nil, fmt.Errorf("escort %s: %w", escortID, ErrNotFound)
	}
	return &e, nil
}

func (s *InMemoryLedger) UpdateEscortVerification(_ context.Context, e *models.Escort) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.escorts[e.ID]
	if !ok {
		return fmt.Errorf("escort: %w", ErrNotFound)
	}
	stored.IsVerified = e.IsVerified
	stored.VerifiedAt = copyTime(e.VerifiedAt)
	stored.VerifiedBy = e.VerifiedBy
	stored.VerificationExpiresAt = copyTime(e.VerificationExpiresAt)
	stored.UpdatedAt = e.UpdatedAt
	s.escorts[e.ID] = stored
	return nil
}

func (s *InMemoryLedger) InsertAgency(_ context.Context, a *models.Agency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agencies[a.ID] = *a
	return nil
}

func (s *InMemoryLedger) FindAgency(_ context.Context, agencyID id.AgencyID) (*models.Agency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agencies[agencyID]
	if !ok {
		return nil, fmt.Errorf("agency %s: %w", agencyID, ErrNotFound)
	}
	return &a, nil
}

func (s *InMemoryLedger) AdjustAgencyCounters(_ context.Context, agencyID id.AgencyID, delta models.CounterDelta, now time.Time) error {
	if delta.IsZero() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agencies[agencyID]
	if !ok {
		return fmt.Errorf("agency: %w", ErrNotFound)
	}
	a.Apply(delta, now)
	s.agencies[agencyID] = a
	return nil
}

func (s *InMemoryLedger) FindMembership(_ context.Context, membershipID id.MembershipID) (*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[membershipID]
	if !ok {
		return nil, fmt.Errorf("membership: %w", ErrNotFound)
	}
	return &m, nil
}

func (s *InMemoryLedger) FindMembershipByPair(_ context.Context, escortID id.EscortID, agencyID id.AgencyID) (*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.memberships {
		if m.EscortID == escortID && m.AgencyID == agencyID {
			return &m, nil
		}
	}
	return nil, fmt.Errorf("membership: %w", ErrNotFound)
}

func (s *InMemoryLedger) FindActiveMembership(_ context.Context, escortID id.EscortID) (*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.memberships {
		if m.EscortID == escortID && m.Status == models.MembershipStatusActive {
			return &m, nil
		}
	}
	return nil, fmt.Errorf("active membership: %w", ErrNotFound)
}

func (s *InMemoryLedger) CountPendingMemberships(_ context.Context, escortID id.EscortID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.memberships {
		if m.EscortID == escortID && m.Status == models.MembershipStatusPending {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryLedger) ListMemberships(_ context.Context, agencyID id.AgencyID, status models.MembershipStatus) ([]*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Membership
	for _, m := range s.memberships {
		if m.AgencyID == agencyID && (status == "" || m.Status == status) {
			out = append(out, &m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// checkUniqueLocked mirrors the pair key and the one-active partial index.
func (s *InMemoryLedger) checkUniqueLocked(m *models.Membership) error {
	for _, existing := range s.memberships {
		if existing.ID == m.ID || existing.EscortID != m.EscortID {
			continue
		}
		if existing.AgencyID == m.AgencyID {
			return ErrDuplicateMembership
		}
		if m.Status == models.MembershipStatusActive && existing.Status == models.MembershipStatusActive {
			return ErrActiveMembershipExists
		}
	}
	return nil
}

func (s *InMemoryLedger) CreateMembership(_ context.Context, m *models.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUniqueLocked(m); err != nil {
		return fmt.Errorf("create membership: %w", err)
	}
	s.memberships[m.ID] = *m
	return nil
}

func (s *InMemoryLedger) UpdateMembership(_ context.Context, m *models.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memberships[m.ID]; !ok {
		return fmt.Errorf("membership: %w", ErrNotFound)
	}
	if err := s.checkUniqueLocked(m); err != nil {
		return fmt.Errorf("update membership: %w", err)
	}
	s.memberships[m.ID] = *m
	return nil
}

func (s *InMemoryLedger) RejectPendingMemberships(
	_ context.Context,
	escortID id.EscortID,
	exceptID id.MembershipID,
	cause models.RejectionCause,
	reason string,
	now time.Time,
) ([]*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Membership
	for key, m := range s.memberships {
		if m.EscortID != escortID || m.ID == exceptID || m.Status != models.MembershipStatusPending {
			continue
		}
		m.ApplyRejection(cause, reason, now)
		s.memberships[key] = m
		out = append(out, &m)
	}
	return out, nil
}

func (s *InMemoryLedger) FindInvitation(_ context.Context, invitationID id.InvitationID) (*models.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invitations[invitationID]
	if !ok {
		return nil, fmt.Errorf("invitation %s: %w", invitationID, ErrNotFound)
	}
	return &inv, nil
}

func (s *InMemoryLedger) FindLiveInvitation(_ context.Context, escortID id.EscortID, agencyID id.AgencyID, now time.Time) (*models.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var newest *models.Invitation
	for _, inv := range s.invitations {
		if inv.EscortID != escortID || inv.AgencyID != agencyID || !inv.IsLive(now) {
			continue
		}
		if newest == nil || inv.CreatedAt.After(newest.CreatedAt) {
			newest = &inv
		}
	}
	if newest == nil {
		return nil, fmt.Errorf("live invitation: %w", ErrNotFound)
	}
	return newest, nil
}

func (s *InMemoryLedger) CreateInvitation(_ context.Context, inv *models.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *inv
	stored.ProposedBenefits = slices.Clone(inv.ProposedBenefits)
	s.invitations[inv.ID] = stored
	return nil
}

func (s *InMemoryLedger) UpdateInvitation(_ context.Context, inv *models.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.invitations[inv.ID]
	if !ok {
		return fmt.Errorf("invitation: %w", ErrNotFound)
	}
	stored.Status = inv.Status
	stored.RespondedAt = copyTime(inv.RespondedAt)
	s.invitations[inv.ID] = stored
	return nil
}

func (s *InMemoryLedger) ExpireInvitations(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, inv := range s.invitations {
		if inv.Status == models.InvitationStatusPending && !now.Before(inv.ExpiresAt) {
			inv.ApplyExpiry()
			s.invitations[key] = inv
			n++
		}
	}
	return n, nil
}

func (s *InMemoryLedger) CreateVerification(_ context.Context, v *models.Verification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifications[v.ID] = *v
	return nil
}

func (s *InMemoryLedger) RevokeVerifications(_ context.Context, escortID id.EscortID) (int, error) {
	return s.setVerificationStatus(escortID, models.VerificationStatusRevoked, func(models.Verification) bool { return true }), nil
}

func (s *InMemoryLedger) ExpireVerifications(_ context.Context, escortID id.EscortID, now time.Time) (int, error) {
	return s.setVerificationStatus(escortID, models.VerificationStatusExpired, func(v models.Verification) bool {
		return v.ExpiresAt != nil && !now.Before(*v.ExpiresAt)
	}), nil
}

func (s *InMemoryLedger) setVerificationStatus(escortID id.EscortID, status models.VerificationStatus, match func(models.Verification) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, v := range s.verifications {
		if v.EscortID != escortID || v.Status != models.VerificationStatusCompleted || !match(v) {
			continue
		}
		v.Status = status
		s.verifications[key] = v
		n++
	}
	return n
}

func (s *InMemoryLedger) ListExpiringVerifications(_ context.Context, agencyID id.AgencyID, from, to time.Time) ([]*models.Verification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Verification
	for _, v := range s.verifications {
		if v.AgencyID != agencyID || v.Status != models.VerificationStatusCompleted || v.ExpiresAt == nil {
			continue
		}
		if v.ExpiresAt.Before(from) || v.ExpiresAt.After(to) {
			continue
		}
		e, ok := s.escorts[v.EscortID]
		if !ok || !e.VerifiedByAgency(agencyID) || e.VerificationExpiresAt == nil || !e.VerificationExpiresAt.Equal(*v.ExpiresAt) {
			continue
		}
		out = append(out, &v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	return out, nil
}

func (s *InMemoryLedger) ListLapsedEscorts(_ context.Context, now time.Time, limit int) ([]id.EscortID, error) {
	if limit <= 0 {
		limit = DefaultSweepBatch
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var lapsed []models.Escort
	for _, e := range s.escorts {
		if e.VerificationLapsed(now) {
			lapsed = append(lapsed, e)
		}
	}
	sort.Slice(lapsed, func(i, j int) bool {
		return lapsed[i].VerificationExpiresAt.Before(*lapsed[j].VerificationExpiresAt)
	})
	var ids []id.EscortID
	for i := 0; i < len(lapsed) && i < limit; i++ {
		ids = append(ids, lapsed[i].ID)
	}
	return ids, nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
