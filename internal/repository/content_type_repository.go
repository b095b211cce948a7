package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"groundwork/internal/models"
)

// ContentTypeRepository manages the content_types descriptor table. Repair
// code only ever removes rows that nothing references; application data is
// never touched.
type ContentTypeRepository interface {
	List(ctx context.Context) ([]models.ContentType, error)
	// CountReferences returns the number of foreign-key rows in other
	// tables that point at the given content type.
	CountReferences(ctx context.Context, id int64) (int64, error)
	Delete(ctx context.Context, id int64) error
}

type contentTypeRepository struct {
	db *sql.DB
}

func NewContentTypeRepository(db *sql.DB) ContentTypeRepository {
	return &contentTypeRepository{db: db}
}

func (r *contentTypeRepository) List(ctx context.Context) ([]models.ContentType, error) {
	query := `
		SELECT id, app_label, model
		FROM content_types
		ORDER BY app_label, model
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cts []models.ContentType
	for rows.Next() {
		var ct models.ContentType
		if err := rows.Scan(&ct.ID, &ct.AppLabel, &ct.Model); err != nil {
			return nil, err
		}
		cts = append(cts, ct)
	}
	return cts, rows.Err()
}

func (r *contentTypeRepository) CountReferences(ctx context.Context, id int64) (int64, error) {
	refs, err := r.referencingColumns(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, ref := range refs {
		query := fmt.Sprintf(
			"SELECT COUNT(*) FROM %s WHERE %s = $1",
			pq.QuoteIdentifier(ref.table),
			pq.QuoteIdentifier(ref.column),
		)
		var n int64
		if err := r.db.QueryRowContext(ctx, query, id).Scan(&n); err != nil {
			return 0, fmt.Errorf("failed to count references in %s: %w", ref.table, err)
		}
		total += n
	}
	return total, nil
}

func (r *contentTypeRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM content_types WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("content type %d not found", id)
	}
	return nil
}

type fkRef struct {
	table  string
	column string
}

// referencingColumns discovers every foreign key pointing at content_types.
func (r *contentTypeRepository) referencingColumns(ctx context.Context) ([]fkRef, error) {
	query := `
		SELECT tc.table_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		AND ccu.table_name = 'content_types'
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []fkRef
	for rows.Next() {
		var ref fkRef
		if err := rows.Scan(&ref.table, &ref.column); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
