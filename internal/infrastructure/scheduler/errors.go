package scheduler

import (
	"errors"

	"github.com/erp/crmsync/internal/domain/shared"
)

var (
	// ErrSchedulerNotRunning is returned when submitting to a stopped scheduler
	ErrSchedulerNotRunning = shared.NewDomainError("SCHEDULER_STOPPED", "Sync scheduler is not running")

	// ErrJobQueueFull is returned when the job queue is full
	ErrJobQueueFull = shared.NewDomainError("QUEUE_FULL", "Sync job queue is full")

	// ErrJobNotFound is returned when a job is not found
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrNoEntityTypes is returned for a job that names no entity type
	ErrNoEntityTypes = errors.New("sync job names no entity types")
)
