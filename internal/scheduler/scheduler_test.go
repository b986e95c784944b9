package scheduler

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name string
	runs chan struct{}
}

func (j *countingJob) Name() string { return j.name }
func (j *countingJob) Run() error {
	j.runs <- struct{}{}
	return nil
}

func TestAddJobRunsOnSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "resync", runs: make(chan struct{}, 1)}

	require.NoError(t, s.AddJob("@every 1s", job))
	s.Start()
	defer s.Stop()

	select {
	case <-job.runs:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run within one schedule tick")
	}
	assert.Equal(t, "resync", job.Name())
}

func TestAddJobRejectsInvalidSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	err := s.AddJob("not a schedule", &countingJob{name: "bad", runs: make(chan struct{}, 1)})
	assert.Error(t, err)
}
