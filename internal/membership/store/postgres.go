package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"agencyhub/internal/membership/models"
	id "agencyhub/pkg/domain"
	txcontext "agencyhub/pkg/platform/tx"
)

const (
	pgUniqueViolation = "23505"

	activeMembershipIndex = "memberships_one_active_per_escort"
	membershipPairKey     = "memberships_escort_agency_key"
)

// PostgresLedger persists the ledger in PostgreSQL.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed ledger.
func NewPostgres(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (s *PostgresLedger) exec(ctx context.Context) txcontext.Executor {
	return txcontext.ExecutorFrom(ctx, s.db)
}

// mapWriteErr translates unique violations into the ledger's conflict sentinels.
func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		switch pgErr.ConstraintName {
		case activeMembershipIndex:
			return ErrActiveMembershipExists
		case membershipPairKey:
			return ErrDuplicateMembership
		}
	}
	return err
}

const escortColumns = `id, user_id, display_name, is_verified, verified_at, verified_by,
	verification_expires_at, created_at, updated_at`

func scanEscort(row interface{ Scan(...any) error }) (*models.Escort, error) {
	var e models.Escort
	var verifiedAt, expiresAt sql.NullTime
	var verifiedBy *id.AgencyID
	if err := row.Scan(&e.ID, &e.UserID, &e.DisplayName, &e.IsVerified, &verifiedAt, &verifiedBy,
		&expiresAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.VerifiedAt = nullTimePtr(verifiedAt)
	e.VerifiedBy = verifiedBy
	e.VerificationExpiresAt = nullTimePtr(expiresAt)
	return &e, nil
}

// InsertEscort adds an escort row. Profile management lives outside this
// module; the ledger only needs the row to exist.
func (s *PostgresLedger) InsertEscort(ctx context.Context, e *models.Escort) error {
	_, err := s.exec(ctx).ExecContext(ctx, `
		INSERT INTO escorts (`+escortColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.UserID, e.DisplayName, e.IsVerified, e.VerifiedAt, e.VerifiedBy,
		e.VerificationExpiresAt, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert escort: %w", err)
	}
	return nil
}

// LockEscort loads the escort row with FOR UPDATE. Every transition touching
// an escort's memberships or verification takes this lock first.
func (s *PostgresLedger) LockEscort(ctx context.Context, escortID id.EscortID) (*models.Escort, error) {
	e, err := scanEscort(s.exec(ctx).QueryRowContext(ctx,
		`SELECT `+escortColumns+` FROM escorts WHERE id = $1 FOR UPDATE`, escortID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("escort %s: %w", escortID, ErrNotFound)
		}
		return nil, fmt.Errorf("lock escort: %w", err)
	}
	return e, nil
}

func (s *PostgresLedger) FindEscort(ctx context.Context, escortID id.EscortID) (*models.Escort, error) {
	e, err := scanEscort(s.exec(ctx).QueryRowContext(ctx,
		`SELECT `+escortColumns+` FROM escorts WHERE id = $1`, escortID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("escort %s: %w", escortID, ErrNotFound)
		}
		return nil, fmt.Errorf("find escort: %w", err)
	}
	return e, nil
}

// UpdateEscortVerification writes the denormalized verification fields.
func (s *PostgresLedger) UpdateEscortVerification(ctx context.Context, e *models.Escort) error {
	res, err := s.exec(ctx).ExecContext(ctx, `
		UPDATE escorts
		SET is_verified = $2, verified_at = $3, verified_by = $4,
			verification_expires_at = $5, updated_at = $6
		WHERE id = $1
	`, e.ID, e.IsVerified, e.VerifiedAt, e.VerifiedBy, e.VerificationExpiresAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update escort verification: %w", err)
	}
	return requireAffected(res, "escort")
}

const agencyColumns = `id, owner_user_id, name, total_escorts, active_escorts, verified_escorts,
	total_verifications, default_commission_rate, created_at, updated_at`

func (s *PostgresLedger) InsertAgency(ctx context.Context, a *models.Agency) error {
	_, err := s.exec(ctx).ExecContext(ctx, `
		INSERT INTO agencies (`+agencyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.ID, a.OwnerUserID, a.Name, a.TotalEscorts, a.ActiveEscorts, a.VerifiedEscorts,
		a.TotalVerifications, a.DefaultCommissionRate, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert agency: %w", err)
	}
	return nil
}

func (s *PostgresLedger) FindAgency(ctx context.Context, agencyID id.AgencyID) (*models.Agency, error) {
	var a models.Agency
	err := s.exec(ctx).QueryRowContext(ctx,
		`SELECT `+agencyColumns+` FROM agencies WHERE id = $1`, agencyID).
		Scan(&a.ID, &a.OwnerUserID, &a.Name, &a.TotalEscorts, &a.ActiveEscorts, &a.VerifiedEscorts,
			&a.TotalVerifications, &a.DefaultCommissionRate, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("agency %s: %w", agencyID, ErrNotFound)
		}
		return nil, fmt.Errorf("find agency: %w", err)
	}
	return &a, nil
}

// AdjustAgencyCounters applies delta atomically in SQL, clamping at zero.
func (s *PostgresLedger) AdjustAgencyCounters(ctx context.Context, agencyID id.AgencyID, delta models.CounterDelta, now time.Time) error {
	if delta.IsZero() {
		return nil
	}
	res, err := s.exec(ctx).ExecContext(ctx, `
		UPDATE agencies
		SET total_escorts = GREATEST(total_escorts + $2, 0),
			active_escorts = GREATEST(active_escorts + $3, 0),
			verified_escorts = GREATEST(verified_escorts + $4, 0),
			total_verifications = GREATEST(total_verifications + $5, 0),
			updated_at = $6
		WHERE id = $1
	`, agencyID, delta.TotalEscorts, delta.ActiveEscorts, delta.VerifiedEscorts, delta.TotalVerifications, now)
	if err != nil {
		return fmt.Errorf("adjust agency counters: %w", err)
	}
	return requireAffected(res, "agency")
}

const membershipColumns = `id, escort_id, agency_id, status, rejection_cause, rejection_reason,
	role, commission_rate, message, approved_by, approved_at, created_at, updated_at`

func scanMembership(row interface{ Scan(...any) error }) (*models.Membership, error) {
	var m models.Membership
	var cause sql.NullString
	var approvedBy *id.UserID
	var approvedAt sql.NullTime
	if err := row.Scan(&m.ID, &m.EscortID, &m.AgencyID, &m.Status, &cause, &m.RejectionReason,
		&m.Role, &m.CommissionRate, &m.Message, &approvedBy, &approvedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.RejectionCause = models.RejectionCause(cause.String)
	m.ApprovedBy = approvedBy
	m.ApprovedAt = nullTimePtr(approvedAt)
	return &m, nil
}

func (s *PostgresLedger) queryMembership(ctx context.Context, what, query string, args ...any) (*models.Membership, error) {
	m, err := scanMembership(s.exec(ctx).QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
		}
		return nil, fmt.Errorf("find %s: %w", what, err)
	}
	return m, nil
}

func (s *PostgresLedger) FindMembership(ctx context.Context, membershipID id.MembershipID) (*models.Membership, error) {
	return s.queryMembership(ctx, "membership",
		`SELECT `+membershipColumns+` FROM memberships WHERE id = $1`, membershipID)
}

func (s *PostgresLedger) FindMembershipByPair(ctx context.Context, escortID id.EscortID, agencyID id.AgencyID) (*models.Membership, error) {
	return s.queryMembership(ctx, "membership",
		`SELECT `+membershipColumns+` FROM memberships WHERE escort_id = $1 AND agency_id = $2`, escortID, agencyID)
}

func (s *PostgresLedger) FindActiveMembership(ctx context.Context, escortID id.EscortID) (*models.Membership, error) {
	return s.queryMembership(ctx, "active membership",
		`SELECT `+membershipColumns+` FROM memberships WHERE escort_id = $1 AND status = 'ACTIVE'`, escortID)
}

func (s *PostgresLedger) CountPendingMemberships(ctx context.Context, escortID id.EscortID) (int, error) {
	var n int
	err := s.exec(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memberships WHERE escort_id = $1 AND status = 'PENDING'`, escortID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending memberships: %w", err)
	}
	return n, nil
}

// ListMemberships returns an agency's memberships in the given status, newest
// first. An empty status lists every membership of the agency.
func (s *PostgresLedger) ListMemberships(ctx context.Context, agencyID id.AgencyID, status models.MembershipStatus) ([]*models.Membership, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships
		WHERE agency_id = $1 AND ($2::text = '' OR status = $2::text)
		ORDER BY updated_at DESC
	`, agencyID, status)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()
	return collectMemberships(rows)
}

func (s *PostgresLedger) CreateMembership(ctx context.Context, m *models.Membership) error {
	_, err := s.exec(ctx).ExecContext(ctx, `
		INSERT INTO memberships (`+membershipColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, m.ID, m.EscortID, m.AgencyID, m.Status, nullCause(m.RejectionCause), m.RejectionReason,
		m.Role, m.CommissionRate, m.Message, m.ApprovedBy, m.ApprovedAt, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create membership: %w", mapWriteErr(err))
	}
	return nil
}

func (s *PostgresLedger) UpdateMembership(ctx context.Context, m *models.Membership) error {
	res, err := s.exec(ctx).ExecContext(ctx, `
		UPDATE memberships
		SET status = $2, rejection_cause = $3, rejection_reason = $4, role = $5,
			commission_rate = $6, message = $7, approved_by = $8, approved_at = $9, updated_at = $10
		WHERE id = $1
	`, m.ID, m.Status, nullCause(m.RejectionCause), m.RejectionReason, m.Role,
		m.CommissionRate, m.Message, m.ApprovedBy, m.ApprovedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update membership: %w", mapWriteErr(err))
	}
	return requireAffected(res, "membership")
}

// RejectPendingMemberships moves every PENDING row of the escort except
// exceptID to REJECTED and returns the rows it changed.
func (s *PostgresLedger) RejectPendingMemberships(
	ctx context.Context,
	escortID id.EscortID,
	exceptID id.MembershipID,
	cause models.RejectionCause,
	reason string,
	now time.Time,
) ([]*models.Membership, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, `
		UPDATE memberships
		SET status = 'REJECTED', rejection_cause = $3, rejection_reason = $4, updated_at = $5
		WHERE escort_id = $1 AND status = 'PENDING' AND id <> $2
		RETURNING `+membershipColumns, escortID, exceptID, cause, reason, now)
	if err != nil {
		return nil, fmt.Errorf("reject pending memberships: %w", err)
	}
	defer rows.Close()
	return collectMemberships(rows)
}

func collectMemberships(rows *sql.Rows) ([]*models.Membership, error) {
	var out []*models.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return out, nil
}

const invitationColumns = `id, agency_id, escort_id, status, proposed_commission, proposed_role,
	proposed_benefits, message, invited_by, expires_at, responded_at, created_at`

func scanInvitation(row interface{ Scan(...any) error }) (*models.Invitation, error) {
	var inv models.Invitation
	var respondedAt sql.NullTime
	if err := row.Scan(&inv.ID, &inv.AgencyID, &inv.EscortID, &inv.Status, &inv.ProposedCommission,
		&inv.ProposedRole, pq.Array(&inv.ProposedBenefits), &inv.Message, &inv.InvitedBy,
		&inv.ExpiresAt, &respondedAt, &inv.CreatedAt); err != nil {
		return nil, err
	}
	inv.RespondedAt = nullTimePtr(respondedAt)
	return &inv, nil
}

func (s *PostgresLedger) FindInvitation(ctx context.Context, invitationID id.InvitationID) (*models.Invitation, error) {
	inv, err := scanInvitation(s.exec(ctx).QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE id = $1`, invitationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("invitation %s: %w", invitationID, ErrNotFound)
		}
		return nil, fmt.Errorf("find invitation: %w", err)
	}
	return inv, nil
}

// FindLiveInvitation returns the newest PENDING, unexpired invitation for the pair.
func (s *PostgresLedger) FindLiveInvitation(ctx context.Context, escortID id.EscortID, agencyID id.AgencyID, now time.Time) (*models.Invitation, error) {
	inv, err := scanInvitation(s.exec(ctx).QueryRowContext(ctx, `
		SELECT `+invitationColumns+`
		FROM invitations
		WHERE escort_id = $1 AND agency_id = $2 AND status = 'PENDING' AND expires_at > $3
		ORDER BY created_at DESC
		LIMIT 1
	`, escortID, agencyID, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("live invitation: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("find live invitation: %w", err)
	}
	return inv, nil
}

func (s *PostgresLedger) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	_, err := s.exec(ctx).ExecContext(ctx, `
		INSERT INTO invitations (`+invitationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, inv.ID, inv.AgencyID, inv.EscortID, inv.Status, inv.ProposedCommission, inv.ProposedRole,
		pq.Array(benefitsOrEmpty(inv.ProposedBenefits)), inv.Message, inv.InvitedBy, inv.ExpiresAt, inv.RespondedAt, inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("create invitation: %w", err)
	}
	return nil
}

func (s *PostgresLedger) UpdateInvitation(ctx context.Context, inv *models.Invitation) error {
	res, err := s.exec(ctx).ExecContext(ctx,
		`UPDATE invitations SET status = $2, responded_at = $3 WHERE id = $1`,
		inv.ID, inv.Status, inv.RespondedAt)
	if err != nil {
		return fmt.Errorf("update invitation: %w", err)
	}
	return requireAffected(res, "invitation")
}

// ExpireInvitations flips PENDING invitations past their expiry to EXPIRED.
func (s *PostgresLedger) ExpireInvitations(ctx context.Context, now time.Time) (int, error) {
	res, err := s.exec(ctx).ExecContext(ctx,
		`UPDATE invitations SET status = 'EXPIRED' WHERE status = 'PENDING' AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("expire invitations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire invitations: %w", err)
	}
	return int(n), nil
}

const verificationColumns = `id, agency_id, escort_id, pricing_tier_id, status, starts_at, expires_at,
	notes, verified_by, completed_at, is_renewal`

func scanVerification(row interface{ Scan(...any) error }) (*models.Verification, error) {
	var v models.Verification
	var expiresAt sql.NullTime
	if err := row.Scan(&v.ID, &v.AgencyID, &v.EscortID, &v.PricingTierID, &v.Status, &v.StartsAt,
		&expiresAt, &v.Notes, &v.VerifiedBy, &v.CompletedAt, &v.IsRenewal); err != nil {
		return nil, err
	}
	v.ExpiresAt = nullTimePtr(expiresAt)
	return &v, nil
}

func (s *PostgresLedger) CreateVerification(ctx context.Context, v *models.Verification) error {
	_, err := s.exec(ctx).ExecContext(ctx, `
		INSERT INTO verifications (`+verificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, v.ID, v.AgencyID, v.EscortID, v.PricingTierID, v.Status, v.StartsAt, v.ExpiresAt,
		v.Notes, v.VerifiedBy, v.CompletedAt, v.IsRenewal)
	if err != nil {
		return fmt.Errorf("create verification: %w", err)
	}
	return nil
}

// RevokeVerifications marks every COMPLETED verification of the escort REVOKED.
func (s *PostgresLedger) RevokeVerifications(ctx context.Context, escortID id.EscortID) (int, error) {
	return s.updateVerifications(ctx, "revoke",
		`UPDATE verifications SET status = 'REVOKED' WHERE escort_id = $1 AND status = 'COMPLETED'`, escortID)
}

// ExpireVerifications marks the escort's COMPLETED verifications whose expiry has passed EXPIRED.
func (s *PostgresLedger) ExpireVerifications(ctx context.Context, escortID id.EscortID, now time.Time) (int, error) {
	return s.updateVerifications(ctx, "expire", `
		UPDATE verifications SET status = 'EXPIRED'
		WHERE escort_id = $1 AND status = 'COMPLETED' AND expires_at IS NOT NULL AND expires_at <= $2
	`, escortID, now)
}

func (s *PostgresLedger) updateVerifications(ctx context.Context, op, query string, args ...any) (int, error) {
	res, err := s.exec(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s verifications: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s verifications: %w", op, err)
	}
	return int(n), nil
}

// ListExpiringVerifications returns the agency's COMPLETED verifications that
// still back the escort's badge and expire within [from, to], soonest first.
func (s *PostgresLedger) ListExpiringVerifications(ctx context.Context, agencyID id.AgencyID, from, to time.Time) ([]*models.Verification, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, `
		SELECT v.id, v.agency_id, v.escort_id, v.pricing_tier_id, v.status, v.starts_at, v.expires_at,
			v.notes, v.verified_by, v.completed_at, v.is_renewal
		FROM verifications v
		JOIN escorts e ON e.id = v.escort_id
		WHERE v.agency_id = $1
			AND v.status = 'COMPLETED'
			AND v.expires_at BETWEEN $2 AND $3
			AND e.is_verified
			AND e.verified_by = v.agency_id
			AND e.verification_expires_at = v.expires_at
		ORDER BY v.expires_at ASC
	`, agencyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list expiring verifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Verification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verifications: %w", err)
	}
	return out, nil
}

// ListLapsedEscorts returns up to limit escorts still flagged verified whose
// verification expiry has passed.
func (s *PostgresLedger) ListLapsedEscorts(ctx context.Context, now time.Time, limit int) ([]id.EscortID, error) {
	if limit <= 0 {
		limit = DefaultSweepBatch
	}
	rows, err := s.exec(ctx).QueryContext(ctx, `
		SELECT id FROM escorts
		WHERE is_verified AND verification_expires_at IS NOT NULL AND verification_expires_at <= $1
		ORDER BY verification_expires_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list lapsed escorts: %w", err)
	}
	defer rows.Close()

	var ids []id.EscortID
	for rows.Next() {
		var escortID id.EscortID
		if err := rows.Scan(&escortID); err != nil {
			return nil, fmt.Errorf("scan escort id: %w", err)
		}
		ids = append(ids, escortID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lapsed escorts: %w", err)
	}
	return ids, nil
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullCause(c models.RejectionCause) sql.NullString {
	return sql.NullString{String: string(c), Valid: c != ""}
}

func benefitsOrEmpty(b []string) []string {
	if b == nil {
		return []string{}
	}
	return b
}
