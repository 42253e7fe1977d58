package runner

import (
	"fmt"
	"sync"

	"github.com/probelab/agentprobe/internal/scenario"
)

// RunJob is one scheduled scenario run.
type RunJob struct {
	Kind scenario.Kind
	Run  int
	Do   func() error
}

// RunPool executes jobs with at most maxWorkers running concurrently.
// Errors come back labeled with the scenario and run number that
// produced them.
func RunPool(maxWorkers int, jobs []RunJob) []error {
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	work := make(chan RunJob)
	failures := make(chan error, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < maxWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range work {
				if err := j.Do(); err != nil {
					failures <- fmt.Errorf("%s run %d: %w", j.Kind, j.Run, err)
				}
			}
		}()
	}

	for _, j := range jobs {
		work <- j
	}
	close(work)
	wg.Wait()
	close(failures)

	var errs []error
	for err := range failures {
		errs = append(errs, err)
	}
	return errs
}
