package channels

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fides/internal/verification"
	id "fides/pkg/domain"
	dErrors "fides/pkg/domain-errors"
	"fides/pkg/platform/sentinel"
)

// RegistryRecord is one person as known to the civil registry replica.
type RegistryRecord struct {
	NationalID string
	FullName   string
	BirthDate  string
}

// RegistryLookup resolves a national ID against the civil registry.
// Production wires the Postgres replica; tests use a fake.
type RegistryLookup interface {
	FindByNationalID(ctx context.Context, nationalID id.NationalID) (RegistryRecord, error)
}

// RegistryCrossCheck verifies the session's accepted national ID against the
// civil registry. It needs a prior channel to have asserted national_id, so
// it is a corroborating channel, never a first one.
type RegistryCrossCheck struct {
	lookup RegistryLookup
}

func NewRegistryCrossCheck(lookup RegistryLookup) *RegistryCrossCheck {
	return &RegistryCrossCheck{lookup: lookup}
}

func (c *RegistryCrossCheck) Type() verification.ChannelType {
	return verification.ChannelRegistryCrossCheck
}
func (c *RegistryCrossCheck) SharedResource() string { return "" }

func (c *RegistryCrossCheck) Attempt(ctx context.Context, _ string, priorClaims map[verification.ClaimField]verification.IdentityClaim, _ map[string]any) (verification.ChannelResult, error) {
	claim, ok := priorClaims[verification.ClaimNationalID]
	if !ok {
		return verification.ChannelResult{}, dErrors.New(dErrors.CodePolicyViolation, "registry cross-check requires an accepted national_id claim")
	}
	nationalID, err := id.ParseNationalID(claim.Value)
	if err != nil {
		return verification.ChannelResult{}, err
	}

	record, err := c.lookup.FindByNationalID(ctx, nationalID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return verification.ChannelResult{Status: verification.StatusFailure}, nil
	}
	if err != nil {
		return verification.ChannelResult{}, dErrors.Wrap(err, dErrors.CodeChannelUnavailable, "civil registry lookup")
	}

	result := verification.ChannelResult{
		Status:     verification.StatusSuccess,
		Confidence: 1.0,
		Claims: map[verification.ClaimField]string{
			verification.ClaimNationalID: record.NationalID,
			verification.ClaimFullName:   record.FullName,
		},
	}
	if record.BirthDate != "" {
		result.Claims[verification.ClaimBirthDate] = record.BirthDate
	}
	return result, nil
}

// PostgresRegistry looks people up in a replicated civil_registry table.
type PostgresRegistry struct {
	pool *pgxpool.Pool
}

func NewPostgresRegistry(pool *pgxpool.Pool) *PostgresRegistry {
	return &PostgresRegistry{pool: pool}
}

func (r *PostgresRegistry) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS civil_registry (
			national_id TEXT PRIMARY KEY,
			full_name   TEXT NOT NULL,
			birth_date  TEXT NOT NULL DEFAULT ''
		)`)
	return err
}

func (r *PostgresRegistry) FindByNationalID(ctx context.Context, nationalID id.NationalID) (RegistryRecord, error) {
	var record RegistryRecord
	err := r.pool.QueryRow(ctx,
		`SELECT national_id, full_name, birth_date FROM civil_registry WHERE national_id = $1`,
		nationalID.String(),
	).Scan(&record.NationalID, &record.FullName, &record.BirthDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return RegistryRecord{}, sentinel.ErrNotFound
	}
	if err != nil {
		return RegistryRecord{}, err
	}
	return record, nil
}
