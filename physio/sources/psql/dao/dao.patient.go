package dao

import (
	"context"
	"errors"
	"fmt"

	"physio/physio/sources/psql/models"
	"physio/physio/types"
	"physio/physio/utils/logging"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrNoPatientProfile = errors.New("no patient profile for user")

type PatientDAO struct {
	DB *gorm.DB
}

func NewPatientDAO(db *gorm.DB) *PatientDAO {
	return &PatientDAO{DB: db}
}

// GetPatientByUserID maps an authenticated user to their patient profile.
func (dao *PatientDAO) GetPatientByUserID(ctx context.Context, userID int) (*models.PatientProfile, error) {
	var p models.PatientProfile
	err := dao.DB.WithContext(ctx).Where("user_id = ?", userID).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoPatientProfile
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPatientContext loads the profile plus conditions, medications and exercises.
func (dao *PatientDAO) GetPatientContext(ctx context.Context, patientID string) (*types.PatientContext, error) {
	defer logging.LogDuration(ctx, "dao_get_patient_context")()

	pid, err := uuid.Parse(patientID)
	if err != nil {
		return nil, fmt.Errorf("patient %q: %w", patientID, types.ErrNotFound)
	}
	db := dao.DB.WithContext(ctx)

	var p models.PatientProfile
	if err := db.Take(&p, "id = ?", pid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("patient %s: %w", patientID, types.ErrNotFound)
		}
		return nil, err
	}

	var conditions []models.Condition
	if err := db.Where("patient_id = ?", pid).Order("id").Find(&conditions).Error; err != nil {
		return nil, err
	}
	var medications []models.Medication
	if err := db.Where("patient_id = ?", pid).Order("id").Find(&medications).Error; err != nil {
		return nil, err
	}
	var exercises []models.Exercise
	if err := db.Where("patient_id = ?", pid).Order("id").Find(&exercises).Error; err != nil {
		return nil, err
	}

	pc := &types.PatientContext{
		PatientID:      p.ID.String(),
		Name:           p.Name,
		Age:            p.Age,
		Gender:         p.Gender,
		Height:         p.Height,
		Weight:         p.Weight,
		Notes:          p.Notes,
		ActivityLevel:  p.ActivityLevel,
		MedicalHistory: p.MedicalHistory,
		Goals:          p.Goals,
		Restrictions:   p.Restrictions,
		PastBehavior:   p.PastBehavior,
	}
	for _, c := range conditions {
		pc.Conditions = append(pc.Conditions, types.Condition{Name: c.Name, Description: c.Description})
	}
	for _, m := range medications {
		pc.Medications = append(pc.Medications, types.Medication{Name: m.Name, Dosage: m.Dosage, Frequency: m.Frequency})
	}
	for _, e := range exercises {
		pc.Exercises = append(pc.Exercises, types.Exercise{
			Name: e.Name, Description: e.Description, Frequency: e.Frequency, Duration: e.Duration,
		})
	}
	return pc, nil
}
