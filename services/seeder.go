package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/krshsl/intervue/backend/models"
	"github.com/krshsl/intervue/backend/repository"
)

// DemoUserID owns the seeded demo interview
const DemoUserID = "00000000-0000-4000-8000-000000000001"

type demoTurn struct {
	role       models.Role
	content    string
	confidence float64
}

var demoTranscript = []demoTurn{
	{models.RoleInterviewer, "Thanks for joining. Can you walk me through a recent backend project you owned?", 0.98},
	{models.RoleCandidate, "Sure. I led the migration of our billing service from a monolith to a Go service backed by Postgres. I designed the schema, wrote the idempotent webhook handlers and set up the rollout plan.", 0.93},
	{models.RoleInterviewer, "What was the hardest technical problem during that migration?", 0.97},
	{models.RoleCandidate, "Keeping invoices consistent while both systems were live. We used an outbox table and a reconciliation job, which reduced mismatches to zero within two weeks.", 0.91},
	{models.RoleInterviewer, "If you had to do it again, what would you change?", 0.97},
	{models.RoleCandidate, "I would add load testing earlier. We found a connection pool limit late, so I would measure throughput before cutover and document the capacity plan.", 0.9},
}

// DatabaseSeeder creates a demo user with one finished interview
type DatabaseSeeder struct {
	repo    *repository.GORMRepository
	machine *SessionMachine
	log     *TranscriptLog
}

func NewDatabaseSeeder(repo *repository.GORMRepository, machine *SessionMachine, log *TranscriptLog) *DatabaseSeeder {
	return &DatabaseSeeder{repo: repo, machine: machine, log: log}
}

// SeedDatabase seeds the database with initial data (idempotent)
func (s *DatabaseSeeder) SeedDatabase(ctx context.Context) error {
	existing, err := s.repo.GetUserByID(ctx, DemoUserID)
	if err != nil {
		return fmt.Errorf("failed to check demo user: %w", err)
	}
	if existing != nil {
		slog.Info("Database seeding already completed, skipping")
		return nil
	}

	user := &models.User{ID: DemoUserID, Email: "demo@example.com", FullName: "Demo User"}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to create demo user: %w", err)
	}

	session, err := s.machine.Create(ctx, CreateSessionInput{
		UserID:        DemoUserID,
		JobTitle:      "Senior Backend Engineer",
		Company:       "Acme",
		InterviewType: "behavioral",
		JDContext:     "Go, Postgres, distributed systems, billing, reliability, load testing",
	})
	if err != nil {
		return fmt.Errorf("failed to create demo session: %w", err)
	}

	if _, err := s.machine.Activate(ctx, session.ID, ActivateInput{Fallback: true}); err != nil {
		return fmt.Errorf("failed to start demo session: %w", err)
	}

	at := time.Now().UTC()
	for _, t := range demoTranscript {
		at = at.Add(20 * time.Second)
		ts := at
		confidence := t.confidence
		if _, err := s.log.AppendTurn(ctx, session.ID, TurnInput{
			Role:       t.role,
			Content:    t.content,
			Confidence: &confidence,
			Timestamp:  &ts,
		}); err != nil {
			return fmt.Errorf("failed to seed demo transcript: %w", err)
		}
	}

	if _, err := s.machine.Complete(ctx, session.ID, CompleteInput{}); err != nil {
		return fmt.Errorf("failed to complete demo session: %w", err)
	}

	slog.Info("Database seeding completed successfully", "user_id", DemoUserID, "session_id", session.ID)
	return nil
}
