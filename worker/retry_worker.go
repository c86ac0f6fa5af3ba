package worker

import (
	"context"
	"log"
	"time"

	"dealflow/utils"
)

// RetryWorker periodically re-attempts failed sends still under the retry
// cap. There is no synchronous retry loop anywhere; a failed send simply
// becomes eligible again here.
type RetryWorker struct {
	Dispatcher *utils.MessageDispatcher
	Logger     *log.Logger
	Interval   time.Duration
}

func NewRetryWorker(dispatcher *utils.MessageDispatcher, logger *log.Logger, interval time.Duration) *RetryWorker {
	return &RetryWorker{
		Dispatcher: dispatcher,
		Logger:     logger,
		Interval:   interval,
	}
}

func (rw *RetryWorker) Start(ctx context.Context) {
	time.Sleep(15 * time.Second)

	rw.Logger.Println("Retry worker started")

	ticker := time.NewTicker(rw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rw.Logger.Println("Retry worker shutting down...")
			return
		case <-ticker.C:
			retried, errs := rw.Dispatcher.RetryFailed()
			if retried > 0 {
				rw.Logger.Printf("Retried %d failed messages", retried)
			}
			for _, e := range errs {
				rw.Logger.Printf("Retry error: %s", e)
			}
		}
	}
}
