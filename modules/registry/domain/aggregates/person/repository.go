package person

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("person not found")
	ErrNationalIDTaken = errors.New("national id already registered")
)

type FindParams struct {
	Q      string
	Limit  int
	Offset int
}

// CandidateParams narrows the production persons a staged person is compared with.
type CandidateParams struct {
	NationalID  string
	LastName    string
	Phone       string
	DateOfBirth *time.Time
	Limit       int
}

type Repository interface {
	GetPaginated(ctx context.Context, params *FindParams) ([]Person, int64, error)
	GetByID(ctx context.Context, id uuid.UUID) (Person, error)
	GetByNationalID(ctx context.Context, nationalID string) (Person, error)
	FindCandidates(ctx context.Context, params CandidateParams) ([]Person, error)
	Create(ctx context.Context, p Person) (Person, error)
	Update(ctx context.Context, p Person) (Person, error)
}
