package controllers

import (
	"context"

	"physio/physio/sources/psql/dao"
	utiltypes "physio/physio/utils/types"
)

type PatientController struct {
	dao *dao.PatientDAO
}

func NewPatientController(dao *dao.PatientDAO) *PatientController {
	return &PatientController{dao: dao}
}

// Me resolves the patient profile of an authenticated user.
func (c *PatientController) Me(ctx context.Context, userID int) (*utiltypes.PatientResponse, error) {
	p, err := c.dao.GetPatientByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &utiltypes.PatientResponse{PatientID: p.ID.String(), Name: p.Name}, nil
}
