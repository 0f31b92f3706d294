package registry

import (
	"context"
	"sync"
)

// Job is one name@version lookup.
type Job struct {
	Name    string
	Version string
}

// JobResult is the outcome of a Job.
type JobResult struct {
	Job    Job
	Result Result
	Err    error
}

// ResolveAll resolves jobs with a pool of workers. Results are returned in
// job order. Index pages fetched here stay in the page cache, so later
// Resolve calls for the same projects do not hit the network.
func (r *Resolver) ResolveAll(ctx context.Context, jobs []Job, workers int) []JobResult {
	if workers < 1 {
		workers = 1
	}

	type indexed struct {
		i   int
		job Job
	}
	jobChan := make(chan indexed, len(jobs))
	results := make([]JobResult, len(jobs))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobChan {
				res, err := r.Resolve(ctx, j.job.Name, j.job.Version)
				results[j.i] = JobResult{Job: j.job, Result: res, Err: err}
			}
		}()
	}

	for i, job := range jobs {
		jobChan <- indexed{i: i, job: job}
	}
	close(jobChan)
	wg.Wait()

	return results
}
