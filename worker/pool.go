// Package worker führt Jobs mit begrenzter Parallelität aus.
package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Job ist eine Arbeitseinheit. Fehler werden geloggt, nicht weitergereicht.
type Job func(ctx context.Context) error

type Pool struct {
	workerCount int
	jobs        chan Job
	wg          sync.WaitGroup
	once        sync.Once
	log         *zap.Logger
}

// NewPool erstellt einen Pool mit workerCount Workern und einer Warteschlange
// der doppelten Größe.
func NewPool(workerCount int, log *zap.Logger) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{
		workerCount: workerCount,
		jobs:        make(chan Job, workerCount*2),
		log:         log,
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.log.Info("Starting worker pool", zap.Int("worker_count", p.workerCount))
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop nimmt keine Jobs mehr an und wartet, bis die Warteschlange abgearbeitet ist.
func (p *Pool) Stop() {
	p.once.Do(func() {
		p.log.Info("Stopping worker pool")
		close(p.jobs)
		p.wg.Wait()
		p.log.Info("Worker pool stopped")
	})
}

// Submit blockiert, bis ein Platz in der Warteschlange frei ist oder ctx endet.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	log := p.log.With(zap.Int("worker_id", id))
	log.Debug("Worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug("Worker stopping due to context cancellation")
			return
		case job, ok := <-p.jobs:
			if !ok {
				log.Debug("Worker stopping due to closed job channel")
				return
			}
			if err := job(ctx); err != nil {
				log.Error("Job execution failed", zap.Error(err))
			}
		}
	}
}
