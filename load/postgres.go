package load

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	// Registers the pgx stdlib driver used by sqlx.Open.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/opengovsl/landetl/log"
	"github.com/opengovsl/landetl/pii"
	"github.com/opengovsl/landetl/types"
)

// Pool defaults.
const (
	DefaultMaxOpenConns   = 10
	DefaultMaxIdleTime    = 30 * time.Second
	DefaultConnectTimeout = 2 * time.Second
)

// PostgresConfig configures the Postgres loader.
type PostgresConfig struct {
	// DSN is the connection string (required).
	DSN string
	// Name labels the destination in metrics and logs (default "postgres").
	Name string
	// MaxOpenConns caps the pool (default 10).
	MaxOpenConns int
	// MaxIdleTime recycles idle connections (default 30s).
	MaxIdleTime time.Duration
	// ConnectTimeout bounds the initial ping (default 2s).
	ConnectTimeout time.Duration
}

func (c PostgresConfig) normalize() PostgresConfig {
	if c.Name == "" {
		c.Name = "postgres"
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = DefaultMaxOpenConns
	}
	if c.MaxIdleTime <= 0 {
		c.MaxIdleTime = DefaultMaxIdleTime
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	return c
}

// PostgresLoader upserts merged records into the canonical land_records
// schema. PII columns are encrypted before they leave the process; sibling
// *_hash columns carry salted digests for indexed equality lookup.
type PostgresLoader struct {
	config PostgresConfig
	db     *sqlx.DB
	crypto pii.Service
	logger *log.Logger
	now    func() time.Time
}

// NewPostgresLoader creates a loader; Connect establishes the pool.
func NewPostgresLoader(config PostgresConfig, crypto pii.Service, logger *log.Logger) *PostgresLoader {
	if logger == nil {
		logger = log.Nop()
	}
	config = config.normalize()
	return &PostgresLoader{
		config: config,
		crypto: crypto,
		logger: logger.WithStage(types.StageLoad, config.Name),
		now:    time.Now,
	}
}

// NewPostgresLoaderWithDB wraps an existing handle; tests inject sqlmock
// through here.
func NewPostgresLoaderWithDB(db *sqlx.DB, crypto pii.Service, logger *log.Logger) *PostgresLoader {
	l := NewPostgresLoader(PostgresConfig{DSN: "injected"}, crypto, logger)
	l.db = db
	return l
}

// Name implements Destination.
func (l *PostgresLoader) Name() string { return l.config.Name }

// Connect opens the pool and verifies connectivity.
func (l *PostgresLoader) Connect(ctx context.Context) error {
	if l.db != nil {
		return nil
	}
	db, err := sqlx.Open("pgx", l.config.DSN)
	if err != nil {
		return fmt.Errorf("open %s: %w", l.config.Name, err)
	}
	db.SetMaxOpenConns(l.config.MaxOpenConns)
	db.SetConnMaxIdleTime(l.config.MaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, l.config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping %s: %w", l.config.Name, err)
	}
	l.db = db
	return nil
}

// Close releases the pool.
func (l *PostgresLoader) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// LoadBatch writes one transactional batch. Existing rows are updated with
// a version bump; per-record failures roll back to a savepoint and the
// batch continues. Framework failures roll the whole batch back.
func (l *PostgresLoader) LoadBatch(ctx context.Context, runID string, records []*types.LandRecord) (*Result, error) {
	result := &Result{}
	if len(records) == 0 {
		return result, nil
	}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := l.lookupExisting(ctx, tx, records)
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			result.Skipped++
			l.logger.Warn("record skipped", map[string]any{
				"record_id": rec.ID,
				"error":     err.Error(),
			})
			continue
		}

		if err := l.loadOne(ctx, tx, runID, rec, existing[rec.ID]); err != nil {
			result.Errors = append(result.Errors, &types.RecordError{
				Stage:     types.StageLoad,
				Source:    l.config.Name,
				RecordID:  rec.ID,
				Message:   err.Error(),
				Retryable: true,
			})
			continue
		}

		if existing[rec.ID] {
			result.Updated++
		} else {
			result.Loaded++
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return result, nil
}

// lookupExisting bulk-resolves which record ids already have rows.
func (l *PostgresLoader) lookupExisting(ctx context.Context, tx *sqlx.Tx, records []*types.LandRecord) (map[string]bool, error) {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}

	query, args, err := sqlx.In(`SELECT id FROM land_records WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build existence query: %w", err)
	}
	query = tx.Rebind(query)

	var found []string
	if err := tx.SelectContext(ctx, &found, query, args...); err != nil {
		return nil, fmt.Errorf("existence lookup: %w", err)
	}

	existing := make(map[string]bool, len(found))
	for _, id := range found {
		existing[id] = true
	}
	return existing, nil
}

// loadOne writes one record inside a savepoint so its failure cannot
// poison the surrounding transaction.
func (l *PostgresLoader) loadOne(ctx context.Context, tx *sqlx.Tx, runID string, rec *types.LandRecord, exists bool) error {
	row, err := l.buildRow(rec)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `SAVEPOINT record_sp`); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}

	action := "INSERT"
	if exists {
		action = "UPDATE"
	}

	if err := l.writeFull(ctx, tx, runID, rec, row, exists, action); err != nil {
		if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT record_sp`); rbErr != nil {
			return fmt.Errorf("rollback to savepoint after %v: %w", err, rbErr)
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT record_sp`); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

// writeFull persists the record row, its child collections, and the audit
// entry in order, stopping at the first failure.
func (l *PostgresLoader) writeFull(ctx context.Context, tx *sqlx.Tx, runID string, rec *types.LandRecord, row *recordRow, exists bool, action string) error {
	if err := l.writeRecord(ctx, tx, row, exists); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := l.replaceChildren(ctx, tx, rec); err != nil {
		return err
	}
	return l.appendAudit(ctx, tx, runID, rec, action)
}

func (l *PostgresLoader) writeRecord(ctx context.Context, tx *sqlx.Tx, row *recordRow, exists bool) error {
	if exists {
		_, err := tx.NamedExecContext(ctx, updateRecordSQL, row)
		return err
	}
	_, err := tx.NamedExecContext(ctx, insertRecordSQL, row)
	return err
}

// replaceChildren rewrites the record's child collections: delete then
// insert keeps the load idempotent under at-least-once delivery.
func (l *PostgresLoader) replaceChildren(ctx context.Context, tx *sqlx.Tx, rec *types.LandRecord) error {
	for _, table := range []string{"land_record_previous_owners", "land_record_structures", "land_record_disputes"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE land_record_id = $1`, rec.ID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, o := range rec.PreviousOwners {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO land_record_previous_owners (land_record_id, owner_name, from_date, to_date) VALUES ($1, $2, $3, $4)`,
			rec.ID, o.Name, o.FromDate, o.ToDate)
		if err != nil {
			return fmt.Errorf("insert previous owner: %w", err)
		}
	}
	for _, s := range rec.Structures {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO land_record_structures (land_record_id, structure_type, year_built, condition) VALUES ($1, $2, $3, $4)`,
			rec.ID, s.StructureType, s.YearBuilt, s.Condition)
		if err != nil {
			return fmt.Errorf("insert structure: %w", err)
		}
	}
	for _, d := range rec.Disputes {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO land_record_disputes (land_record_id, dispute_type, status, filed_date) VALUES ($1, $2, $3, $4)`,
			rec.ID, d.DisputeType, d.Status, d.FiledDate)
		if err != nil {
			return fmt.Errorf("insert dispute: %w", err)
		}
	}
	return nil
}

// appendAudit writes one audit row carrying the record state as JSON.
func (l *PostgresLoader) appendAudit(ctx context.Context, tx *sqlx.Tx, runID string, rec *types.LandRecord, action string) error {
	changes, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode audit changes: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO etl_audit_log (run_id, record_id, action, source_system, changes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		runID, rec.ID, action, string(rec.SourceSystem), changes, l.now().UTC())
	if err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

// recordRow is the flattened, encrypted shape of a land record.
type recordRow struct {
	ID           string    `db:"id"`
	ParcelNumber string    `db:"parcel_number"`
	SourceSystem string    `db:"source_system"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`

	District    string         `db:"district"`
	Chiefdom    string         `db:"chiefdom"`
	Ward        sql.NullString `db:"ward"`
	Address     sql.NullString `db:"address"`
	Coordinates sql.NullString `db:"coordinates"`
	Boundaries  sql.NullString `db:"boundaries"`

	OwnerName           string         `db:"owner_name"`
	OwnerNationalID     sql.NullString `db:"owner_national_id"`
	OwnerNationalIDHash sql.NullString `db:"owner_national_id_hash"`
	OwnerPhone          sql.NullString `db:"owner_phone"`
	OwnerPhoneHash      sql.NullString `db:"owner_phone_hash"`
	OwnerEmail          sql.NullString `db:"owner_email"`
	OwnerEmailHash      sql.NullString `db:"owner_email_hash"`

	LandType string         `db:"land_type"`
	Area     float64        `db:"area"`
	LandUse  sql.NullString `db:"land_use"`

	CurrentValue      float64    `db:"current_value"`
	LastValuationDate *time.Time `db:"last_valuation_date"`
	TaxAssessment     float64    `db:"tax_assessment"`

	TitleDeedNumber sql.NullString `db:"title_deed_number"`
	Encumbrances    []byte         `db:"encumbrances"`

	TaxStatus       string     `db:"tax_status"`
	LastPaymentDate *time.Time `db:"last_payment_date"`
	ArrearsAmount   float64    `db:"arrears_amount"`

	VerificationStatus   string         `db:"verification_status"`
	LastVerificationDate *time.Time     `db:"last_verification_date"`
	VerificationMethod   sql.NullString `db:"verification_method"`

	QualityScore int `db:"quality_score"`
}

// buildRow encrypts the PII fields and flattens the record.
func (l *PostgresLoader) buildRow(rec *types.LandRecord) (*recordRow, error) {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = rec.UpdatedAt
	}
	row := &recordRow{
		ID:           rec.ID,
		ParcelNumber: rec.ParcelNumber,
		SourceSystem: string(rec.SourceSystem),
		CreatedAt:    createdAt,
		UpdatedAt:    rec.UpdatedAt,

		District:    rec.District,
		Chiefdom:    rec.Chiefdom,
		Ward:        nullable(rec.Ward),
		Address:     nullable(rec.Address),
		Coordinates: nullable(pointWKT(rec.Coordinates)),
		Boundaries:  nullable(polygonWKT(rec.Boundaries)),

		OwnerName: rec.Owner.Name,

		LandType: string(rec.LandType),
		Area:     rec.Area,
		LandUse:  nullable(rec.LandUse),

		CurrentValue:      rec.CurrentValue,
		LastValuationDate: rec.LastValuationDate,
		TaxAssessment:     rec.TaxAssessment,

		TitleDeedNumber: nullable(rec.TitleDeedNumber),

		TaxStatus:       string(rec.TaxStatus),
		LastPaymentDate: rec.LastPaymentDate,
		ArrearsAmount:   rec.ArrearsAmount,

		VerificationStatus:   string(rec.VerificationStatus),
		LastVerificationDate: rec.LastVerificationDate,
		VerificationMethod:   nullable(rec.VerificationMethod),

		QualityScore: rec.QualityScore,
	}

	if len(rec.Encumbrances) > 0 {
		body, err := json.Marshal(rec.Encumbrances)
		if err != nil {
			return nil, fmt.Errorf("encode encumbrances: %w", err)
		}
		row.Encumbrances = body
	}

	var err error
	if row.OwnerNationalID, row.OwnerNationalIDHash, err = l.protect(rec.Owner.NationalID); err != nil {
		return nil, fmt.Errorf("encrypt national id: %w", err)
	}
	if row.OwnerPhone, row.OwnerPhoneHash, err = l.protect(rec.Owner.Phone); err != nil {
		return nil, fmt.Errorf("encrypt phone: %w", err)
	}
	if row.OwnerEmail, row.OwnerEmailHash, err = l.protect(rec.Owner.Email); err != nil {
		return nil, fmt.Errorf("encrypt email: %w", err)
	}
	return row, nil
}

// protect encrypts one PII value and digests the plaintext for the sibling
// hash column. Empty values stay NULL.
func (l *PostgresLoader) protect(plaintext string) (sql.NullString, sql.NullString, error) {
	if plaintext == "" {
		return sql.NullString{}, sql.NullString{}, nil
	}
	ct, err := l.crypto.Encrypt(plaintext)
	if err != nil {
		return sql.NullString{}, sql.NullString{}, err
	}
	return nullable(ct), nullable(l.crypto.Hash(plaintext)), nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

const insertRecordSQL = `
INSERT INTO land_records (
    id, parcel_number, source_system, version, created_at, updated_at,
    district, chiefdom, ward, address, coordinates, boundaries,
    owner_name, owner_national_id, owner_national_id_hash,
    owner_phone, owner_phone_hash, owner_email, owner_email_hash,
    land_type, area, land_use,
    current_value, last_valuation_date, tax_assessment,
    title_deed_number, encumbrances,
    tax_status, last_payment_date, arrears_amount,
    verification_status, last_verification_date, verification_method,
    quality_score
) VALUES (
    :id, :parcel_number, :source_system, 1, :created_at, :updated_at,
    :district, :chiefdom, :ward, :address, :coordinates, :boundaries,
    :owner_name, :owner_national_id, :owner_national_id_hash,
    :owner_phone, :owner_phone_hash, :owner_email, :owner_email_hash,
    :land_type, :area, :land_use,
    :current_value, :last_valuation_date, :tax_assessment,
    :title_deed_number, :encumbrances,
    :tax_status, :last_payment_date, :arrears_amount,
    :verification_status, :last_verification_date, :verification_method,
    :quality_score
)`

const updateRecordSQL = `
UPDATE land_records SET
    parcel_number = :parcel_number,
    source_system = :source_system,
    version = version + 1,
    updated_at = :updated_at,
    district = :district,
    chiefdom = :chiefdom,
    ward = :ward,
    address = :address,
    coordinates = :coordinates,
    boundaries = :boundaries,
    owner_name = :owner_name,
    owner_national_id = :owner_national_id,
    owner_national_id_hash = :owner_national_id_hash,
    owner_phone = :owner_phone,
    owner_phone_hash = :owner_phone_hash,
    owner_email = :owner_email,
    owner_email_hash = :owner_email_hash,
    land_type = :land_type,
    area = :area,
    land_use = :land_use,
    current_value = :current_value,
    last_valuation_date = :last_valuation_date,
    tax_assessment = :tax_assessment,
    title_deed_number = :title_deed_number,
    encumbrances = :encumbrances,
    tax_status = :tax_status,
    last_payment_date = :last_payment_date,
    arrears_amount = :arrears_amount,
    verification_status = :verification_status,
    last_verification_date = :last_verification_date,
    verification_method = :verification_method,
    quality_score = :quality_score
WHERE id = :id`

// Verify PostgresLoader implements Destination.
var _ Destination = (*PostgresLoader)(nil)
