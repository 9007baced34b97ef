package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/halcyonlabs/outreach-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EnrollmentRepository interface {
	Create(ctx context.Context, e *domain.Enrollment) error
	GetByID(ctx context.Context, id string) (*domain.Enrollment, error)
	FindActiveByContact(ctx context.Context, contactID string) (*domain.Enrollment, error)
	FindActiveByOrgContact(ctx context.Context, orgID, contactID string) (*domain.Enrollment, error)
	MarkSwitched(ctx context.Context, id string, successorID string, endedAt time.Time) error
	GetDueForDispatch(ctx context.Context, now time.Time, limit int) ([]domain.Enrollment, error)
	ClaimForDispatch(ctx context.Context, id string) (*domain.Enrollment, error)
	ScheduleNext(ctx context.Context, id string, stepID string, channel domain.Channel, nextRunAt time.Time) error
	DeferNextRun(ctx context.Context, id string, nextRunAt time.Time) error
	Complete(ctx context.Context, id string, endedAt time.Time) error
}

type GormEnrollmentRepo struct {
	db *gorm.DB
}

func NewGormEnrollmentRepo(db *gorm.DB) *GormEnrollmentRepo {
	return &GormEnrollmentRepo{db: db}
}

func (r *GormEnrollmentRepo) Create(ctx context.Context, e *domain.Enrollment) error {
	model := enrollmentModelFromDomain(e)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return err
	}
	if e != nil {
		*e = *enrollmentModelToDomain(model)
	}
	return nil
}

func (r *GormEnrollmentRepo) GetByID(ctx context.Context, id string) (*domain.Enrollment, error) {
	var model EnrollmentModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return enrollmentModelToDomain(&model), nil
}

func (r *GormEnrollmentRepo) FindActiveByContact(ctx context.Context, contactID string) (*domain.Enrollment, error) {
	var model EnrollmentModel
	err := r.db.WithContext(ctx).
		Where("contact_id = ? AND status = ?", contactID, domain.EnrollmentActive).
		Order("started_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return enrollmentModelToDomain(&model), nil
}

func (r *GormEnrollmentRepo) FindActiveByOrgContact(ctx context.Context, orgID, contactID string) (*domain.Enrollment, error) {
	var model EnrollmentModel
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND contact_id = ? AND status = ?", orgID, contactID, domain.EnrollmentActive).
		Order("started_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return enrollmentModelToDomain(&model), nil
}

func (r *GormEnrollmentRepo) MarkSwitched(ctx context.Context, id string, successorID string, endedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&EnrollmentModel{}).
		Where("id = ? AND status = ?", id, domain.EnrollmentActive).
		Updates(map[string]any{
			"status":                 domain.EnrollmentSwitched,
			"ended_at":               endedAt,
			"switched_to_enrollment": successorID,
			"current_step_id":        nil,
			"next_channel":           nil,
			"next_run_at":            nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormEnrollmentRepo) GetDueForDispatch(ctx context.Context, now time.Time, limit int) ([]domain.Enrollment, error) {
	var models []EnrollmentModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_run_at IS NOT NULL AND next_run_at <= ?", domain.EnrollmentActive, now).
		Order("next_run_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	enrollments := make([]domain.Enrollment, 0, len(models))
	for i := range models {
		enrollments = append(enrollments, *enrollmentModelToDomain(&models[i]))
	}

	return enrollments, nil
}

// ClaimForDispatch locks the row and returns it only if it is still active
// with a pending next run. Nil without error means another writer got there
// first; callers ack and skip.
func (r *GormEnrollmentRepo) ClaimForDispatch(ctx context.Context, id string) (*domain.Enrollment, error) {
	var model EnrollmentModel
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if model.Status != domain.EnrollmentActive || model.NextChannel == nil {
		return nil, nil
	}

	return enrollmentModelToDomain(&model), nil
}

func (r *GormEnrollmentRepo) ScheduleNext(ctx context.Context, id string, stepID string, channel domain.Channel, nextRunAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&EnrollmentModel{}).
		Where("id = ? AND status = ?", id, domain.EnrollmentActive).
		Updates(map[string]any{
			"current_step_id": stepID,
			"next_channel":    channel,
			"next_run_at":     nextRunAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormEnrollmentRepo) DeferNextRun(ctx context.Context, id string, nextRunAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&EnrollmentModel{}).
		Where("id = ? AND status = ?", id, domain.EnrollmentActive).
		Update("next_run_at", nextRunAt)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormEnrollmentRepo) Complete(ctx context.Context, id string, endedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&EnrollmentModel{}).
		Where("id = ? AND status = ?", id, domain.EnrollmentActive).
		Updates(map[string]any{
			"status":          domain.EnrollmentCompleted,
			"ended_at":        endedAt,
			"current_step_id": nil,
			"next_channel":    nil,
			"next_run_at":     nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
