package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"dealflow/models"
	"dealflow/utils"

	"gorm.io/gorm"
)

// TickResult aggregates one scheduler pass for the trigger endpoint.
// No single enrollment's failure aborts the batch.
type TickResult struct {
	ProcessedQueued int      `json:"processed_queued"` // due steps dispatched
	EnqueuedNext    int      `json:"enqueued_next"`    // enrollments rescheduled for a later step
	Stopped         int      `json:"stopped"`
	Completed       int      `json:"completed"`
	Errors          []string `json:"errors"`
}

// SequenceWorker is the step scheduler. A periodic tick claims due
// enrollments one by one with a conditional update, so overlapping ticks
// partition the work instead of double-processing it.
type SequenceWorker struct {
	DB          *gorm.DB
	Dispatcher  *utils.MessageDispatcher
	Enrollments *utils.EnrollmentManager
	Cache       *utils.SequenceCache
	Events      *utils.EventRecorder
	Logger      *log.Logger

	Interval  time.Duration
	BatchSize int
	Workers   int

	now func() time.Time
}

func NewSequenceWorker(db *gorm.DB, dispatcher *utils.MessageDispatcher, enrollments *utils.EnrollmentManager, cache *utils.SequenceCache, events *utils.EventRecorder, logger *log.Logger, interval time.Duration, batchSize, workers int) *SequenceWorker {
	if workers < 1 {
		workers = 1
	}
	return &SequenceWorker{
		DB:          db,
		Dispatcher:  dispatcher,
		Enrollments: enrollments,
		Cache:       cache,
		Events:      events,
		Logger:      logger,
		Interval:    interval,
		BatchSize:   batchSize,
		Workers:     workers,
		now:         time.Now,
	}
}

func (sw *SequenceWorker) Start(ctx context.Context) {
	// Initial delay to let the server start up
	time.Sleep(10 * time.Second)

	sw.Logger.Println("Sequence worker started")

	ticker := time.NewTicker(sw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.Logger.Println("Sequence worker shutting down...")
			return
		case <-ticker.C:
			result := sw.RunTick(ctx)
			if result.ProcessedQueued > 0 || result.Stopped > 0 || len(result.Errors) > 0 {
				sw.Logger.Printf("Tick: %d dispatched, %d rescheduled, %d stopped, %d completed, %d errors",
					result.ProcessedQueued, result.EnqueuedNext, result.Stopped, result.Completed, len(result.Errors))
			}
		}
	}
}

// RunTick claims a bounded batch of due enrollments and processes them with
// a bounded worker pool. Safe to invoke concurrently with itself: the claim
// step makes overlapping ticks partition the due set.
func (sw *SequenceWorker) RunTick(ctx context.Context) *TickResult {
	result := &TickResult{Errors: []string{}}
	now := sw.now()

	var dueIDs []uint
	err := sw.DB.Model(&models.SequenceEnrollment{}).
		Where("status = ? AND in_flight = ? AND next_execution_at <= ?",
			models.EnrollmentStatusActive, false, now).
		Order("next_execution_at ASC").
		Limit(sw.BatchSize).
		Pluck("id", &dueIDs).Error
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to query due enrollments: %v", err))
		return result
	}

	if len(dueIDs) == 0 {
		return result
	}

	var claimed []uint
	for _, id := range dueIDs {
		if sw.claim(id, now) {
			claimed = append(claimed, id)
		}
		// A lost claim is not an error; a concurrent tick owns that row
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, sw.Workers)
	)

	for _, id := range claimed {
		wg.Add(1)
		sem <- struct{}{}
		go func(enrollmentID uint) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, err := sw.processEnrollment(ctx, enrollmentID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("enrollment %d: %v", enrollmentID, err))
			}
			switch outcome {
			case outcomeDispatched:
				result.ProcessedQueued++
				result.EnqueuedNext++
			case outcomeCompleted:
				result.ProcessedQueued++
				result.Completed++
			case outcomeStopped:
				result.Stopped++
			}
		}(id)
	}

	wg.Wait()
	return result
}

type tickOutcome int

const (
	outcomeNone tickOutcome = iota
	outcomeDispatched
	outcomeCompleted
	outcomeStopped
)

// claim is the atomic compare-and-set: exactly one tick wins ownership of a
// due enrollment
func (sw *SequenceWorker) claim(enrollmentID uint, now time.Time) bool {
	res := sw.DB.Model(&models.SequenceEnrollment{}).
		Where("id = ? AND status = ? AND in_flight = ? AND next_execution_at <= ?",
			enrollmentID, models.EnrollmentStatusActive, false, now).
		Update("in_flight", true)
	if res.Error != nil {
		sw.Logger.Printf("Claim failed for enrollment %d: %v", enrollmentID, res.Error)
		return false
	}
	return res.RowsAffected == 1
}

func (sw *SequenceWorker) release(enrollmentID uint) {
	if err := sw.DB.Model(&models.SequenceEnrollment{}).
		Where("id = ?", enrollmentID).
		Update("in_flight", false).Error; err != nil {
		sw.Logger.Printf("Failed to release enrollment %d: %v", enrollmentID, err)
	}
}

func (sw *SequenceWorker) processEnrollment(ctx context.Context, enrollmentID uint) (tickOutcome, error) {
	defer sw.release(enrollmentID)

	var enrollment models.SequenceEnrollment
	if err := sw.DB.First(&enrollment, enrollmentID).Error; err != nil {
		return outcomeNone, fmt.Errorf("failed to load enrollment: %w", err)
	}

	// Stop() may have raced the claim; skip quietly
	if enrollment.Status != models.EnrollmentStatusActive {
		return outcomeNone, nil
	}

	sequence, err := sw.Cache.Get(ctx, enrollment.SequenceID)
	if err != nil {
		return outcomeNone, fmt.Errorf("failed to load sequence: %w", err)
	}

	var deal models.Deal
	if err := sw.DB.First(&deal, enrollment.DealID).Error; err != nil {
		return outcomeNone, fmt.Errorf("failed to load deal: %w", err)
	}

	hasReply, err := utils.HasUnprocessedReply(sw.DB, enrollment.ID)
	if err != nil {
		return outcomeNone, fmt.Errorf("failed to check replies: %w", err)
	}

	stop, reason := utils.EvaluateStopRules(&enrollment, sequence, &deal, hasReply)

	// One reply influences exactly one evaluation
	if hasReply {
		if err := utils.MarkRepliesProcessed(sw.DB, enrollment.ID); err != nil {
			sw.Logger.Printf("Failed to mark replies processed for enrollment %d: %v", enrollment.ID, err)
		}
	}

	if stop {
		if err := sw.Enrollments.Stop(enrollment.ID, reason); err != nil {
			return outcomeNone, err
		}
		return outcomeStopped, nil
	}

	// The cursor never exceeds the step count; running past the end means
	// the sequence shrank underneath us, which step append-only forbids
	if enrollment.CurrentStep >= len(sequence.Steps) {
		return outcomeCompleted, sw.complete(&enrollment)
	}

	step := sequence.Steps[enrollment.CurrentStep]
	if _, err := sw.Dispatcher.Send(&enrollment, &step); err != nil {
		// Cursor stays put: the same step is re-attempted on a later tick
		// rather than silently skipped
		return outcomeNone, err
	}

	return sw.advance(&enrollment, sequence)
}

// advance moves the cursor after a successful dispatch and derives the next
// run time from the just-sent step's completion
func (sw *SequenceWorker) advance(enrollment *models.SequenceEnrollment, sequence *models.Sequence) (tickOutcome, error) {
	now := sw.now()
	nextStep := enrollment.CurrentStep + 1

	updates := map[string]interface{}{
		"attempt_count":    gorm.Expr("attempt_count + ?", 1),
		"last_executed_at": now,
	}

	if nextStep < len(sequence.Steps) {
		nextRun := now.Add(utils.StepDelay(&sequence.Steps[nextStep]))
		updates["current_step"] = nextStep
		updates["next_execution_at"] = nextRun

		if err := sw.DB.Model(enrollment).Updates(updates).Error; err != nil {
			return outcomeNone, fmt.Errorf("failed to advance enrollment: %w", err)
		}
		return outcomeDispatched, nil
	}

	// Ran out of steps: the enrollment completes, it never loops
	updates["current_step"] = nextStep
	updates["status"] = models.EnrollmentStatusCompleted
	updates["next_execution_at"] = nil

	if err := sw.DB.Model(enrollment).Updates(updates).Error; err != nil {
		return outcomeNone, fmt.Errorf("failed to complete enrollment: %w", err)
	}

	sw.Events.Record(enrollment.ID, models.EventCompleted, map[string]interface{}{
		"attempt_count": enrollment.AttemptCount + 1,
	})
	return outcomeCompleted, nil
}

func (sw *SequenceWorker) complete(enrollment *models.SequenceEnrollment) error {
	if err := sw.DB.Model(enrollment).Updates(map[string]interface{}{
		"status":            models.EnrollmentStatusCompleted,
		"next_execution_at": nil,
	}).Error; err != nil {
		return err
	}
	sw.Events.Record(enrollment.ID, models.EventCompleted, nil)
	return nil
}
