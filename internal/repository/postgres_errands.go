package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"casedata-engine/internal/domain"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresErrandRepository 案件仓库（PostgreSQL）
type PostgresErrandRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresErrandRepository 创建案件仓库
func NewPostgresErrandRepository(db *sql.DB, logger *zap.Logger) *PostgresErrandRepository {
	return &PostgresErrandRepository{db: db, logger: logger}
}

// 确保实现了接口
var _ ErrandRepository = (*PostgresErrandRepository)(nil)

const errandColumns = `
	id, errand_number, external_case_id, version, case_type, namespace, municipality_id,
	description, suspended_from, suspended_to,
	created, created_by, created_by_client, updated, updated_by, updated_by_client`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanErrand(row rowScanner) (*domain.Errand, error) {
	var e domain.Errand
	var externalCaseID, description sql.NullString
	var suspendedFrom, suspendedTo sql.NullTime

	if err := row.Scan(
		&e.ID,
		&e.ErrandNumber,
		&externalCaseID,
		&e.Version,
		&e.CaseType,
		&e.Namespace,
		&e.MunicipalityID,
		&description,
		&suspendedFrom,
		&suspendedTo,
		&e.Created,
		&e.CreatedBy,
		&e.CreatedByClient,
		&e.Updated,
		&e.UpdatedBy,
		&e.UpdatedByClient,
	); err != nil {
		return nil, err
	}

	e.ExternalCaseID = externalCaseID.String
	e.Description = description.String
	if suspendedFrom.Valid {
		t := suspendedFrom.Time
		e.SuspendedFrom = &t
	}
	if suspendedTo.Valid {
		t := suspendedTo.Time
		e.SuspendedTo = &t
	}
	return &e, nil
}

func (r *PostgresErrandRepository) findOne(ctx context.Context, key, where string, arg any) (*domain.Errand, error) {
	query := `SELECT ` + errandColumns + ` FROM errand WHERE ` + where
	errand, err := scanErrand(conn(ctx, r.db).QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Entity: "errand", Key: key}
		}
		return nil, fmt.Errorf("failed to get errand: %w", err)
	}
	if err := r.loadStakeholders(ctx, errand); err != nil {
		return nil, err
	}
	return errand, nil
}

// FindByID 按 ID 查询
func (r *PostgresErrandRepository) FindByID(ctx context.Context, id int64) (*domain.Errand, error) {
	return r.findOne(ctx, strconv.FormatInt(id, 10), `id = $1`, id)
}

// FindByErrandNumber 按案件编号查询
func (r *PostgresErrandRepository) FindByErrandNumber(ctx context.Context, errandNumber string) (*domain.Errand, error) {
	return r.findOne(ctx, errandNumber, `errand_number = $1`, errandNumber)
}

// FindByExternalCaseID 按外部案件 ID 查询（限定 municipality）
func (r *PostgresErrandRepository) FindByExternalCaseID(ctx context.Context, municipalityID, externalCaseID string) (*domain.Errand, error) {
	query := `SELECT ` + errandColumns + ` FROM errand WHERE municipality_id = $1 AND external_case_id = $2 ORDER BY id LIMIT 1`
	errand, err := scanErrand(conn(ctx, r.db).QueryRowContext(ctx, query, municipalityID, externalCaseID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Entity: "errand", Key: externalCaseID}
		}
		return nil, fmt.Errorf("failed to get errand by external case id: %w", err)
	}
	if err := r.loadStakeholders(ctx, errand); err != nil {
		return nil, err
	}
	return errand, nil
}

// ListErrandNumbersByPrefix 查询指定前缀的案件编号
func (r *PostgresErrandRepository) ListErrandNumbersByPrefix(ctx context.Context, prefix string) ([]string, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT errand_number FROM errand WHERE errand_number LIKE $1 || '%'`, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list errand numbers: %w", err)
	}
	defer rows.Close()

	var numbers []string
	for rows.Next() {
		var n sql.NullString
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan errand number: %w", err)
		}
		if n.Valid {
			numbers = append(numbers, n.String)
		}
	}
	return numbers, rows.Err()
}

// FindSuspendedBefore 查询暂停已到期的案件
func (r *PostgresErrandRepository) FindSuspendedBefore(ctx context.Context, t time.Time) ([]*domain.Errand, error) {
	query := `SELECT ` + errandColumns + ` FROM errand WHERE suspended_to IS NOT NULL AND suspended_to < $1 ORDER BY id`
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, t)
	if err != nil {
		return nil, fmt.Errorf("failed to query suspended errands: %w", err)
	}

	var errands []*domain.Errand
	for rows.Next() {
		e, err := scanErrand(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan errand: %w", err)
		}
		errands = append(errands, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, e := range errands {
		if err := r.loadStakeholders(ctx, e); err != nil {
			return nil, err
		}
	}
	return errands, nil
}

// Create 插入案件及相关人
func (r *PostgresErrandRepository) Create(ctx context.Context, errand *domain.Errand) error {
	return NewTxManager(r.db).WithinTx(ctx, func(ctx context.Context) error {
		q := conn(ctx, r.db)
		err := q.QueryRowContext(ctx, `
			INSERT INTO errand (
				errand_number, external_case_id, version, case_type, namespace, municipality_id,
				description, suspended_from, suspended_to,
				created, created_by, created_by_client, updated, updated_by, updated_by_client
			) VALUES ($1, $2, 0, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING id`,
			errand.ErrandNumber,
			nullString(errand.ExternalCaseID),
			errand.CaseType,
			errand.Namespace,
			errand.MunicipalityID,
			nullString(errand.Description),
			nullTime(errand.SuspendedFrom),
			nullTime(errand.SuspendedTo),
			errand.Created,
			errand.CreatedBy,
			errand.CreatedByClient,
			errand.Updated,
			errand.UpdatedBy,
			errand.UpdatedByClient,
		).Scan(&errand.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return &domain.ConflictError{
					Entity: "errand",
					ID:     errand.ErrandNumber,
					Reason: "errand_number already exists",
				}
			}
			return fmt.Errorf("failed to insert errand: %w", err)
		}
		errand.Version = 0

		for i := range errand.Stakeholders {
			s := &errand.Stakeholders[i]
			s.ErrandID = errand.ID
			if err := q.QueryRowContext(ctx, `
				INSERT INTO stakeholder (errand_id, first_name, last_name, ad_account, roles)
				VALUES ($1, $2, $3, $4, $5)
				RETURNING id`,
				s.ErrandID, nullString(s.FirstName), nullString(s.LastName), nullString(s.AdAccount), pq.Array(s.Roles),
			).Scan(&s.ID); err != nil {
				return fmt.Errorf("failed to insert stakeholder: %w", err)
			}
		}
		return nil
	})
}

// Save 带版本检查地更新案件（不修改 errand_number）
func (r *PostgresErrandRepository) Save(ctx context.Context, errand *domain.Errand) error {
	result, err := conn(ctx, r.db).ExecContext(ctx, `
		UPDATE errand SET
			external_case_id = $2,
			case_type = $3,
			description = $4,
			suspended_from = $5,
			suspended_to = $6,
			updated = $7,
			updated_by = $8,
			updated_by_client = $9,
			version = version + 1
		WHERE id = $1 AND version = $10`,
		errand.ID,
		nullString(errand.ExternalCaseID),
		errand.CaseType,
		nullString(errand.Description),
		nullTime(errand.SuspendedFrom),
		nullTime(errand.SuspendedTo),
		errand.Updated,
		errand.UpdatedBy,
		errand.UpdatedByClient,
		errand.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update errand: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		r.logger.Debug("Errand version mismatch",
			zap.Int64("errand_id", errand.ID),
			zap.Int("expected_version", errand.Version),
		)
		return &domain.ConflictError{
			Entity:          "errand",
			ID:              strconv.FormatInt(errand.ID, 10),
			ExpectedVersion: errand.Version,
			Reason:          "version mismatch",
		}
	}

	errand.Version++
	return nil
}

func (r *PostgresErrandRepository) loadStakeholders(ctx context.Context, errand *domain.Errand) error {
	rows, err := conn(ctx, r.db).QueryContext(ctx, `
		SELECT id, errand_id, first_name, last_name, ad_account, roles
		FROM stakeholder
		WHERE errand_id = $1
		ORDER BY id`, errand.ID)
	if err != nil {
		return fmt.Errorf("failed to query stakeholders: %w", err)
	}
	defer rows.Close()

	errand.Stakeholders = nil
	for rows.Next() {
		var s domain.Stakeholder
		var firstName, lastName, adAccount sql.NullString
		if err := rows.Scan(&s.ID, &s.ErrandID, &firstName, &lastName, &adAccount, pq.Array(&s.Roles)); err != nil {
			return fmt.Errorf("failed to scan stakeholder: %w", err)
		}
		s.FirstName = firstName.String
		s.LastName = lastName.String
		s.AdAccount = adAccount.String
		errand.Stakeholders = append(errand.Stakeholders, s)
	}
	return rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
