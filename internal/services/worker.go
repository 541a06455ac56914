package services

import (
	"context"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"imagesim/internal/models"
	"imagesim/internal/store"
)

// OnComplete is invoked for every record a worker drives to a terminal
// status.
type OnComplete func(result *ProcessingResult)

// WorkerPool re-processes records that never reached a terminal status, for
// example after a restart mid-pipeline. Content is re-read from the stored
// file; a missing file fails the record.
type WorkerPool struct {
	jobs       chan *models.ImageRecord
	wg         sync.WaitGroup
	pipeline   *Pipeline
	store      store.Store
	onComplete OnComplete
	log        *logrus.Logger
	once       sync.Once
}

func NewWorkerPool(pipeline *Pipeline, st store.Store, workers int, log *logrus.Logger, onComplete OnComplete) *WorkerPool {
	p := &WorkerPool{
		jobs:       make(chan *models.ImageRecord, 100),
		pipeline:   pipeline,
		store:      st,
		onComplete: onComplete,
		log:        log,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for rec := range p.jobs {
		result, err := p.process(rec)
		if err != nil {
			p.log.WithError(err).WithFields(logrus.Fields{
				"worker": id,
				"id":     rec.ID,
			}).Error("re-processing failed")
			continue
		}
		if p.onComplete != nil {
			p.onComplete(result)
		}
	}
}

func (p *WorkerPool) process(rec *models.ImageRecord) (*ProcessingResult, error) {
	ctx := context.Background()

	content, err := os.ReadFile(rec.FilePath)
	if err != nil {
		if ferr := p.store.Fail(ctx, rec.ID, "stored file unreadable: "+err.Error()); ferr != nil {
			return nil, ferr
		}
		return &ProcessingResult{ID: rec.ID, Status: models.StatusFailed, Err: err}, nil
	}

	return p.pipeline.Resume(ctx, rec, content)
}

// Queue hands a record to the pool. Drops the job with a warning when the
// queue is full; the record stays pending and is picked up on the next run.
func (p *WorkerPool) Queue(rec *models.ImageRecord) {
	select {
	case p.jobs <- rec:
	default:
		p.log.WithField("id", rec.ID).Warn("job queue full, skipping record")
	}
}

func (p *WorkerPool) Shutdown() {
	p.once.Do(func() {
		close(p.jobs)
		p.wg.Wait()
	})
}
