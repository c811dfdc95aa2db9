package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"catalogd/pkg/apperr"
	"catalogd/pkg/db"
)

const moduleColumns = `id, type, name, description, enabled, module_object_key,
	configuration_object_key, secrets_object_key, digest, source_url, created_at, updated_at`

// moduleRepo persists modules through raw SQL over pgx.
type moduleRepo struct {
	pool *pgxpool.Pool
}

func newModuleRepo(pool *pgxpool.Pool) *moduleRepo {
	return &moduleRepo{pool: pool}
}

func (r *moduleRepo) Get(ctx context.Context, id string) (Artifact, error) {
	query := fmt.Sprintf(`SELECT %s FROM modules WHERE id = $1`, moduleColumns)

	var row moduleRow
	if err := db.Get(ctx, r.pool, &row, query, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Artifact{}, apperr.NotFound("module %q not found", id)
		}
		return Artifact{}, apperr.Internal("get module", err)
	}
	return row.toArtifact(), nil
}

func (r *moduleRepo) List(ctx context.Context, filter ListFilter) ([]Artifact, error) {
	query, args, err := moduleListQuery(filter)
	if err != nil {
		return nil, err
	}

	var rows []moduleRow
	if err := db.Select(ctx, r.pool, &rows, query, args...); err != nil {
		return nil, apperr.Internal("list modules", err)
	}

	items := make([]Artifact, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toArtifact())
	}
	return items, nil
}

func (r *moduleRepo) Create(ctx context.Context, art Artifact) (Artifact, error) {
	now := time.Now().UTC()
	query := fmt.Sprintf(`
        INSERT INTO modules (%s)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
        RETURNING %s;
    `, moduleColumns, moduleColumns)

	var row moduleRow
	err := db.Get(ctx, r.pool, &row, query,
		art.ID, art.Type, art.Name, art.Description, art.Enabled,
		art.ObjectKey, art.ConfigObjectKey, art.SecretsObjectKey,
		art.Digest, art.SourceURL, now)
	if err != nil {
		if isUniqueViolation(err) {
			return Artifact{}, apperr.Conflict("module %q already exists", art.ID)
		}
		return Artifact{}, apperr.Internal("create module", err)
	}
	return row.toArtifact(), nil
}

func (r *moduleRepo) Update(ctx context.Context, id string, patch Patch) (Artifact, error) {
	set := []string{}
	args := []any{id}

	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Type != nil {
		add("type", *patch.Type)
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Enabled != nil {
		add("enabled", *patch.Enabled)
	}
	if patch.SourceURL != nil {
		add("source_url", *patch.SourceURL)
	}
	if patch.Digest != nil {
		add("digest", *patch.Digest)
	}

	if len(set) == 0 {
		return r.Get(ctx, id)
	}
	add("updated_at", time.Now().UTC())

	query := fmt.Sprintf(`
        UPDATE modules
        SET %s
        WHERE id = $1
        RETURNING %s;
    `, strings.Join(set, ", "), moduleColumns)

	var row moduleRow
	if err := db.Get(ctx, r.pool, &row, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Artifact{}, apperr.NotFound("module %q not found", id)
		}
		return Artifact{}, apperr.Internal("update module", err)
	}
	return row.toArtifact(), nil
}

func (r *moduleRepo) Delete(ctx context.Context, id string) error {
	tag, err := db.Exec(ctx, r.pool, `DELETE FROM modules WHERE id = $1`, id)
	if err != nil {
		return apperr.Internal("delete module", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("module %q not found", id)
	}
	return nil
}

// moduleListQuery builds the filtered SELECT. Filter text lands in bind
// parameters only; sort columns go through the orderClause whitelist.
func moduleListQuery(filter ListFilter) (string, []any, error) {
	order, err := orderClause(filter)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM modules", moduleColumns)

	where := []string{}
	args := []any{}

	if filter.Query != "" {
		args = append(args, "%"+filter.Query+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(id ILIKE $%d OR name ILIKE $%d OR description ILIKE $%d)", n, n, n))
	}
	if filter.Enabled != nil {
		args = append(args, *filter.Enabled)
		where = append(where, fmt.Sprintf("enabled = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}

	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	if order != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(order)
	}
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	return sb.String(), args, nil
}
