package messages

import (
	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"go-tamp/internal/competence"
	"go-tamp/pkg/models"
)

// NewEpisode hands the ledger and seen train tasks to an episode actor.
// Ownership returns with EpisodeComplete.
type NewEpisode struct {
	RequestID uuid.UUID
	TrainTask int
	Steps     int
	Ledger    *competence.Ledger
	Seen      map[int]bool
	ReplyTo   *actor.PID
}

type Step struct{}

type EpisodeComplete struct {
	RequestID uuid.UUID
	Ledger    *competence.Ledger
	Seen      map[int]bool
	Episode   models.Episode
}

type GetStatus struct{}

type ReportError struct {
	RequestID uuid.UUID
	Error     models.Error
}
