package services

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Cleaner holds the periodic maintenance tasks, they are registered on the cron scheduler in main.
type Cleaner struct {
	importer     *Importer
	jobs         *JobTracker
	scratchAge   time.Duration
	jobRetention time.Duration
}

func NewCleaner(importer *Importer, jobs *JobTracker, scratchAge, jobRetention time.Duration) *Cleaner {
	return &Cleaner{
		importer:     importer,
		jobs:         jobs,
		scratchAge:   scratchAge,
		jobRetention: jobRetention,
	}
}

func (v *Cleaner) DoScratchCleanup() {
	log.Debug().Dur("age", v.scratchAge).Msg("Now sweeping stale raw downloads...")

	removed, err := v.importer.SweepScratch(v.scratchAge)
	if err != nil {
		log.Error().Err(err).Msg("An error occurred when sweeping stale raw downloads...")
	}

	log.Debug().Int("removed", removed).Msg("Sweep stale raw downloads accomplished.")
}

func (v *Cleaner) DoImportJobCleanup() {
	deadline := time.Now().Add(-v.jobRetention)
	log.Debug().Time("deadline", deadline).Msg("Now cleaning up finished import jobs...")

	count, err := v.jobs.Prune(v.jobRetention)
	if err != nil {
		log.Error().Err(err).Msg("An error occurred when cleaning up import jobs...")
	}

	log.Debug().Int64("affected", count).Msg("Clean up import jobs accomplished.")
}
