package vitals

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrRecordNotFound = errors.New("record not found")

type RecordRepository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	// ListByPatient pages newest first and returns the total count.
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Record, int, error)
	// ListAllByPatient returns every record oldest first.
	ListAllByPatient(ctx context.Context, patientID uuid.UUID) ([]*Record, error)
}
