package domain

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/google/uuid"

	dErrors "agencyhub/pkg/domain-errors"
)

// Typed identifiers keep escorts, agencies, users and ledger rows from being
// mixed up at compile time. Each wraps a UUID and is never the nil UUID once
// parsed at a trust boundary.
type (
	UserID         uuid.UUID
	EscortID       uuid.UUID
	AgencyID       uuid.UUID
	MembershipID   uuid.UUID
	InvitationID   uuid.UUID
	VerificationID uuid.UUID
	PricingTierID  uuid.UUID
)

const maxIDLength = 64

func parseUUID(kind, s string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	if len(s) > maxIDLength {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is too long")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid %s", kind))
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be nil")
	}
	return parsed, nil
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID("user id", s)
	return UserID(u), err
}

func ParseEscortID(s string) (EscortID, error) {
	u, err := parseUUID("escort id", s)
	return EscortID(u), err
}

func ParseAgencyID(s string) (AgencyID, error) {
	u, err := parseUUID("agency id", s)
	return AgencyID(u), err
}

func ParseMembershipID(s string) (MembershipID, error) {
	u, err := parseUUID("membership id", s)
	return MembershipID(u), err
}

func ParseInvitationID(s string) (InvitationID, error) {
	u, err := parseUUID("invitation id", s)
	return InvitationID(u), err
}

func ParseVerificationID(s string) (VerificationID, error) {
	u, err := parseUUID("verification id", s)
	return VerificationID(u), err
}

func ParsePricingTierID(s string) (PricingTierID, error) {
	u, err := parseUUID("pricing tier id", s)
	return PricingTierID(u), err
}

func (id UserID) String() string         { return uuid.UUID(id).String() }
func (id EscortID) String() string       { return uuid.UUID(id).String() }
func (id AgencyID) String() string       { return uuid.UUID(id).String() }
func (id MembershipID) String() string   { return uuid.UUID(id).String() }
func (id InvitationID) String() string   { return uuid.UUID(id).String() }
func (id VerificationID) String() string { return uuid.UUID(id).String() }
func (id PricingTierID) String() string  { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id EscortID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id AgencyID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id MembershipID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id InvitationID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id VerificationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id PricingTierID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }

// Value implementations let typed IDs be passed straight to database/sql.
func (id UserID) Value() (driver.Value, error)         { return uuid.UUID(id).String(), nil }
func (id EscortID) Value() (driver.Value, error)       { return uuid.UUID(id).String(), nil }
func (id AgencyID) Value() (driver.Value, error)       { return uuid.UUID(id).String(), nil }
func (id MembershipID) Value() (driver.Value, error)   { return uuid.UUID(id).String(), nil }
func (id InvitationID) Value() (driver.Value, error)   { return uuid.UUID(id).String(), nil }
func (id VerificationID) Value() (driver.Value, error) { return uuid.UUID(id).String(), nil }
func (id PricingTierID) Value() (driver.Value, error)  { return uuid.UUID(id).String(), nil }

// Scan implementations delegate to uuid.UUID so rows scan into typed IDs.
func (id *UserID) Scan(src any) error         { return (*uuid.UUID)(id).Scan(src) }
func (id *EscortID) Scan(src any) error       { return (*uuid.UUID)(id).Scan(src) }
func (id *AgencyID) Scan(src any) error       { return (*uuid.UUID)(id).Scan(src) }
func (id *MembershipID) Scan(src any) error   { return (*uuid.UUID)(id).Scan(src) }
func (id *InvitationID) Scan(src any) error   { return (*uuid.UUID)(id).Scan(src) }
func (id *VerificationID) Scan(src any) error { return (*uuid.UUID)(id).Scan(src) }
func (id *PricingTierID) Scan(src any) error  { return (*uuid.UUID)(id).Scan(src) }

// MarshalText keeps JSON output as the canonical UUID string.
func (id UserID) MarshalText() ([]byte, error)         { return uuid.UUID(id).MarshalText() }
func (id EscortID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }
func (id AgencyID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }
func (id MembershipID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id InvitationID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id VerificationID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id PricingTierID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }

func (id *UserID) UnmarshalText(b []byte) error         { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *EscortID) UnmarshalText(b []byte) error       { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *AgencyID) UnmarshalText(b []byte) error       { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *MembershipID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *InvitationID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *VerificationID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *PricingTierID) UnmarshalText(b []byte) error  { return (*uuid.UUID)(id).UnmarshalText(b) }
