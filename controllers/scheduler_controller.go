package controller

import (
	"log"

	"dealflow/worker"

	"github.com/gofiber/fiber/v2"
)

type SchedulerController struct {
	Worker *worker.SequenceWorker
	Logger *log.Logger
}

func NewSchedulerController(w *worker.SequenceWorker, logger *log.Logger) *SchedulerController {
	return &SchedulerController{
		Worker: w,
		Logger: logger,
	}
}

// RunScheduler executes one scheduler tick on demand. Cron hits this
// endpoint; overlapping invocations are safe, the per-enrollment claim
// partitions the due work.
func (sc *SchedulerController) RunScheduler(c *fiber.Ctx) error {
	result := sc.Worker.RunTick(c.Context())

	sc.Logger.Printf("Manual tick: %d dispatched, %d rescheduled, %d stopped, %d completed, %d errors",
		result.ProcessedQueued, result.EnqueuedNext, result.Stopped, result.Completed, len(result.Errors))

	return c.JSON(result)
}
