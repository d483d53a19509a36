package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/backoffice_backend/config"
	"bitbucket.org/mmdatafocus/backoffice_backend/utils"
	"gorm.io/gorm"
)

// StatusHistory is the append-only audit trail: exactly one record per
// successful transition, never updated or deleted. There is deliberately no
// update/delete function in this file.
type StatusHistory struct {
	ID               int         `gorm:"primary_key" json:"id"`
	BusinessId       string      `gorm:"index;not null" json:"business_id"`
	OrderId          int         `gorm:"index;not null" json:"order_id"`
	OrderKind        OrderKind   `gorm:"type:enum('SO','SI','PO','PI');not null" json:"order_kind"`
	PreviousStatus   OrderStatus `gorm:"size:20" json:"previous_status"`
	NewStatus        OrderStatus `gorm:"size:20;not null" json:"new_status"`
	UserId           int         `gorm:"index;not null" json:"user_id"`
	UserName         string      `gorm:"size:100" json:"user_name"`
	Notes            string      `gorm:"type:text" json:"notes"`
	ProofEvidenceRef string      `gorm:"size:512" json:"proof_evidence_ref"`
	CreatedAt        time.Time   `gorm:"autoCreateTime" json:"created_at"`
}

func (obj StatusHistory) GetId() int {
	return obj.ID
}

func (h StatusHistory) GetCursor() string {
	return h.CreatedAt.String()
}

// resolveActor picks the user to attribute a transition to. Explicit actor
// wins; otherwise fall back deterministically so background/console
// transitions stay auditable: first admin user, else first user. Returns nil
// when the business has no users at all.
func resolveActor(tx *gorm.DB, businessId string, actorId *int) (*User, error) {
	if actorId != nil && *actorId > 0 {
		var user User
		if err := tx.Where("business_id = ? AND id = ?", businessId, *actorId).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, errors.New("actor not found")
			}
			return nil, err
		}
		return &user, nil
	}

	var admin User
	err := tx.Where("business_id = ? AND role = ?", businessId, UserRoleAdmin).Order("id").First(&admin).Error
	if err == nil {
		return &admin, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var first User
	err = tx.Where("business_id = ?", businessId).Order("id").First(&first).Error
	if err == nil {
		return &first, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	return nil, nil
}

// SaveOrderHistory appends one transition record. When no actor can be
// resolved at all the write is skipped with a warning instead of failing the
// transition; an unattributable audit row is worse than a logged gap.
func SaveOrderHistory(tx *gorm.DB, order *Order, previousStatus OrderStatus, newStatus OrderStatus, actorId *int, notes string, proofEvidenceRef string) error {
	actor, err := resolveActor(tx, order.BusinessId, actorId)
	if err != nil {
		return err
	}
	if actor == nil {
		logger := config.GetLogger()
		config.LogWarn(logger, "statusHistory.go", "SaveOrderHistory",
			"no user available for attribution; history write skipped", order.OrderNumber)
		return nil
	}

	history := StatusHistory{
		BusinessId:       order.BusinessId,
		OrderId:          order.ID,
		OrderKind:        order.Kind,
		PreviousStatus:   previousStatus,
		NewStatus:        newStatus,
		UserId:           actor.ID,
		UserName:         actor.Name,
		Notes:            notes,
		ProofEvidenceRef: proofEvidenceRef,
	}

	return tx.Create(&history).Error
}

func GetOrderHistories(ctx context.Context, orderId int) ([]*StatusHistory, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*StatusHistory
	err := db.WithContext(ctx).
		Where("business_id = ? AND order_id = ?", businessId, orderId).
		Order("id DESC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
