package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/backoffice_backend/config"
	"bitbucket.org/mmdatafocus/backoffice_backend/utils"
)

type Item struct {
	ID           int          `gorm:"primary_key" json:"id"`
	BusinessId   string       `gorm:"index;not null" json:"business_id"`
	Name         string       `gorm:"size:255;not null" json:"name" binding:"required"`
	Sku          string       `gorm:"size:100" json:"sku"`
	TrackingType TrackingType `gorm:"type:enum('R','B','S');default:'R'" json:"tracking_type"`
	CreatedAt    time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

type Warehouse struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	Name       string    `gorm:"size:255;not null" json:"name" binding:"required"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (obj Item) GetId() int {
	return obj.ID
}

func (obj Warehouse) GetId() int {
	return obj.ID
}

type NewItem struct {
	Name         string       `json:"name" binding:"required"`
	Sku          string       `json:"sku"`
	TrackingType TrackingType `json:"tracking_type"`
}

func CreateItem(ctx context.Context, input *NewItem) (*Item, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	trackingType := input.TrackingType
	if trackingType == "" {
		trackingType = TrackingTypeRegular
	}

	item := Item{
		BusinessId:   businessId,
		Name:         input.Name,
		Sku:          input.Sku,
		TrackingType: trackingType,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func CreateWarehouse(ctx context.Context, name string) (*Warehouse, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	warehouse := Warehouse{
		BusinessId: businessId,
		Name:       name,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&warehouse).Error; err != nil {
		return nil, err
	}
	return &warehouse, nil
}
