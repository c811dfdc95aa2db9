package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"catalogd/pkg/apperr"
)

// definitionRepo persists definitions through GORM.
type definitionRepo struct {
	orm *gorm.DB
}

func newDefinitionRepo(orm *gorm.DB) *definitionRepo {
	return &definitionRepo{orm: orm}
}

func (r *definitionRepo) Get(ctx context.Context, id string) (Artifact, error) {
	var model definitionModel
	err := r.orm.WithContext(ctx).First(&model, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return Artifact{}, apperr.NotFound("definition %q not found", id)
	case err != nil:
		return Artifact{}, apperr.Internal("get definition", err)
	}
	return model.toArtifact(), nil
}

func (r *definitionRepo) List(ctx context.Context, filter ListFilter) ([]Artifact, error) {
	order, err := orderClause(filter)
	if err != nil {
		return nil, err
	}

	q := r.orm.WithContext(ctx).Model(&definitionModel{})
	if filter.Query != "" {
		like := "%" + filter.Query + "%"
		q = q.Where("id ILIKE ? OR name ILIKE ? OR description ILIKE ?", like, like, like)
	}
	if filter.Enabled != nil {
		q = q.Where("enabled = ?", *filter.Enabled)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if order != "" {
		q = q.Order(order)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var models []definitionModel
	if err := q.Find(&models).Error; err != nil {
		return nil, apperr.Internal("list definitions", err)
	}

	items := make([]Artifact, 0, len(models))
	for _, model := range models {
		items = append(items, model.toArtifact())
	}
	return items, nil
}

func (r *definitionRepo) Create(ctx context.Context, art Artifact) (Artifact, error) {
	now := time.Now().UTC()
	art.CreatedAt = now
	art.UpdatedAt = now

	model := definitionModelFrom(art)
	if err := r.orm.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return Artifact{}, apperr.Conflict("definition %q already exists", art.ID)
		}
		return Artifact{}, apperr.Internal("create definition", err)
	}
	return model.toArtifact(), nil
}

func (r *definitionRepo) Update(ctx context.Context, id string, patch Patch) (Artifact, error) {
	orm := r.orm.WithContext(ctx)

	var existing definitionModel
	switch err := orm.First(&existing, "id = ?", id).Error; {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return Artifact{}, apperr.NotFound("definition %q not found", id)
	case err != nil:
		return Artifact{}, apperr.Internal("get definition", err)
	}

	updates := patchUpdates(patch)
	if len(updates) > 0 {
		updates["updated_at"] = time.Now().UTC()
		if err := orm.Model(&existing).Updates(updates).Error; err != nil {
			return Artifact{}, apperr.Internal("update definition", err)
		}
		if err := orm.First(&existing, "id = ?", id).Error; err != nil {
			return Artifact{}, apperr.Internal("reload definition", err)
		}
	}

	return existing.toArtifact(), nil
}

func (r *definitionRepo) Delete(ctx context.Context, id string) error {
	result := r.orm.WithContext(ctx).Delete(&definitionModel{}, "id = ?", id)
	if result.Error != nil {
		return apperr.Internal("delete definition", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("definition %q not found", id)
	}
	return nil
}

// orderClause validates the sort fields against the column whitelist and
// builds the ORDER BY expression. Empty SortBy keeps storage order.
func orderClause(filter ListFilter) (string, error) {
	if filter.SortBy == "" {
		return "", nil
	}

	switch filter.SortBy {
	case SortByID, SortByName, SortByType:
	default:
		return "", apperr.BadRequest("unsupported sort_by %q", filter.SortBy)
	}

	switch filter.SortOrder {
	case "", SortAsc:
		return filter.SortBy + " ASC", nil
	case SortDesc:
		return filter.SortBy + " DESC", nil
	default:
		return "", apperr.BadRequest("unsupported sort_order %q", filter.SortOrder)
	}
}

func patchUpdates(patch Patch) map[string]any {
	updates := map[string]any{}
	if patch.Type != nil {
		updates["type"] = *patch.Type
	}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.Enabled != nil {
		updates["enabled"] = *patch.Enabled
	}
	if patch.SourceURL != nil {
		updates["source_url"] = *patch.SourceURL
	}
	if patch.Digest != nil {
		updates["digest"] = *patch.Digest
	}
	return updates
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
