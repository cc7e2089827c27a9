package service

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-quiz/internal/model"
)

// SubjectLister lists subjects with their chapters.
type SubjectLister interface {
	ListWithChapters(ctx context.Context) ([]model.Subject, error)
}

type SubjectService struct {
	subjects SubjectLister
	log      zerolog.Logger
}

func NewSubjectService(subjects SubjectLister, log zerolog.Logger) *SubjectService {
	return &SubjectService{
		subjects: subjects,
		log:      log.With().Str("component", "subject_service").Logger(),
	}
}

func (s *SubjectService) GetAll(ctx context.Context) ([]model.Subject, error) {
	subjects, err := s.subjects.ListWithChapters(ctx)
	if err != nil {
		return nil, err
	}
	if subjects == nil {
		subjects = []model.Subject{}
	}
	return subjects, nil
}
