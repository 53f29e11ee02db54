package inventory

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type MessageProcessor interface {
	ProcessMessage(ctx context.Context, msg *Message) error
}

type WorkerPool struct {
	tasks     chan func()
	wg        sync.WaitGroup
	logger    *zap.Logger
	processor MessageProcessor
}

func NewWorkerPool(size int, processor MessageProcessor, logger *zap.Logger) *WorkerPool {
	wp := &WorkerPool{
		tasks:     make(chan func(), 1000),
		logger:    logger,
		processor: processor,
	}

	wp.wg.Add(size)
	for i := 0; i < size; i++ {
		go wp.worker()
	}

	return wp
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for task := range wp.tasks {
		task()
	}
}

func (wp *WorkerPool) Submit(ctx context.Context, msg *Message) {
	wp.tasks <- func() {
		if err := wp.processor.ProcessMessage(ctx, msg); err != nil {
			wp.logger.Error("Failed to process message",
				zap.Error(err),
				zap.String("topic", msg.Topic),
				zap.String("message_id", msg.ID))
		}
	}
}

// Shutdown stops accepting tasks and waits for in-flight messages to
// finish.
func (wp *WorkerPool) Shutdown() {
	close(wp.tasks)
	wp.wg.Wait()
}
