package utils

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/backoffice_backend/config"
)

// ValidateResourceId checks that a row of T with the given id exists for the
// business. T must have business_id and id columns.
func ValidateResourceId[T any](ctx context.Context, businessId string, id int) error {
	if id <= 0 {
		return errors.New("id is required")
	}

	db := config.GetDB()
	var v T
	var count int64
	if err := db.WithContext(ctx).Model(&v).
		Where("business_id = ? AND id = ?", businessId, id).
		Count(&count).Error; err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}
	return nil
}
