package worker

import (
	"context"
	"errors"
	"log"
	"sync"
)

// Job is one unit of work. It receives the pool's context.
type Job func(ctx context.Context) error

var ErrPoolStopped = errors.New("working pool stopped")

type WorkingPool struct {
	NumWorkers int
	jobChan    chan namedJob
	stopped    chan struct{}
	stopOnce   sync.Once
}

type namedJob struct {
	name string
	run  Job
}

func NewWorkingPool(numWorkers int, queueSize int) *WorkingPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &WorkingPool{
		NumWorkers: numWorkers,
		jobChan:    make(chan namedJob, queueSize),
		stopped:    make(chan struct{}),
	}
}

// SubmitJob queues a job, blocking while the queue is full.
func (p *WorkingPool) SubmitJob(ctx context.Context, name string, job Job) error {
	select {
	case <-p.stopped:
		return ErrPoolStopped
	default:
	}

	select {
	case p.jobChan <- namedJob{name: name, run: job}:
		return nil
	case <-p.stopped:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs the workers until ctx is done and returns after every worker exited.
// Jobs still queued at shutdown are dropped.
func (p *WorkingPool) Start(ctx context.Context) error {
	var workerWg sync.WaitGroup
	for i := range p.NumWorkers {
		workerWg.Add(1)
		go p.worker(ctx, &workerWg, i+1)
	}

	<-ctx.Done()
	log.Println("[WorkingPool] Shutdown signaled.")
	p.stopOnce.Do(func() { close(p.stopped) })

	workerWg.Wait()
	log.Printf("[WorkingPool] All workers stopped, %d queued jobs dropped.", len(p.jobChan))
	return nil
}

func (p *WorkingPool) worker(ctx context.Context, wg *sync.WaitGroup, id int) {
	defer wg.Done()
	log.Printf("[WorkingPool-Worker %d] Started and waiting for jobs.", id)

	for {
		select {
		case job := <-p.jobChan:
			p.safeExecution(ctx, job, id)
		case <-ctx.Done():
			log.Printf("[WorkingPool-Worker %d] Context canceled. Exiting.", id)
			return
		}
	}
}

func (p *WorkingPool) safeExecution(ctx context.Context, job namedJob, workerID int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[WorkingPool-Worker %d] FATAL: Panic recovered in job %s: %v", workerID, job.name, r)
		}
	}()

	err = job.run(ctx)
	if err != nil {
		log.Printf("[WorkingPool-Worker %d] Error executing job %s: %s.", workerID, job.name, err)
	}
	return err
}
