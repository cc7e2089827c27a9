package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/stemsi/exstem-quiz/internal/config"
	"github.com/stemsi/exstem-quiz/internal/database"
	"github.com/stemsi/exstem-quiz/internal/logger"
	"github.com/stemsi/exstem-quiz/internal/model"
	"github.com/stemsi/exstem-quiz/internal/repository"
	"gopkg.in/yaml.v3"
)

// questionBank is the layout of a seed file.
type questionBank struct {
	Subjects  []model.Subject  `yaml:"subjects"`
	Questions []model.Question `yaml:"questions"`
}

func main() {
	var path string
	flag.StringVar(&path, "file", "seeds/questions.yaml", "Path to the YAML question bank")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	bank, err := loadBank(path)
	if err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("Failed to load question bank")
	}

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	subjectRepo := repository.NewSubjectRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)

	for i := range bank.Subjects {
		if err := subjectRepo.Upsert(ctx, &bank.Subjects[i]); err != nil {
			log.Fatal().Err(err).Str("subject_id", bank.Subjects[i].ID).Msg("Failed to seed subject")
		}
	}

	seeded := 0
	for i := range bank.Questions {
		q := &bank.Questions[i]
		if err := questionRepo.Upsert(ctx, q); err != nil {
			log.Error().Err(err).Str("question_id", q.ID).Msg("Failed to seed question")
			continue
		}
		seeded++
	}

	log.Info().
		Int("subjects", len(bank.Subjects)).
		Int("questions", seeded).
		Int("skipped", len(bank.Questions)-seeded).
		Msg("Seeding complete")
}

func loadBank(path string) (*questionBank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var bank questionBank
	if err := yaml.Unmarshal(data, &bank); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := validateBank(&bank); err != nil {
		return nil, err
	}
	return &bank, nil
}

// validateBank rejects entries the exam flow cannot serve.
func validateBank(bank *questionBank) error {
	seen := make(map[string]struct{}, len(bank.Questions))
	for i := range bank.Questions {
		q := &bank.Questions[i]
		if q.ID == "" || q.SubjectID == "" || strings.TrimSpace(q.Text) == "" {
			return fmt.Errorf("question %d: id, subject_id and text are required", i)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("question %q appears twice", q.ID)
		}
		seen[q.ID] = struct{}{}
		q.CorrectAnswer = strings.ToUpper(strings.TrimSpace(q.CorrectAnswer))
		if !strings.Contains("ABCD", q.CorrectAnswer) || len(q.CorrectAnswer) != 1 {
			return fmt.Errorf("question %q: correct_answer must be one of A, B, C, D", q.ID)
		}
	}
	return nil
}
