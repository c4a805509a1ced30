package task

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/measgrid/internal/config"
)

// KindSleep is the kind of a task waiting for a fixed time.
const KindSleep = "SleepTask"

type sleepParams struct {
	Time float64 `cty:"time"`
}

// SleepTask waits for a number of seconds. A stop request interrupts it.
type SleepTask struct {
	SimpleTask
	params sleepParams
}

// NewSleepTask returns a detached SleepTask.
func NewSleepTask(name string, d time.Duration) *SleepTask {
	s := &SleepTask{params: sleepParams{Time: d.Seconds()}}
	s.Init(KindSleep, name, nil, &s.params)
	return s
}

// NewSleepFactory builds SleepTasks from their configuration.
func NewSleepFactory(cfg *config.Task) (Task, error) {
	if err := ValidateName(cfg.Name); err != nil {
		return nil, err
	}
	var p sleepParams
	if err := config.DecodeAttributes(cfg.Attributes, &p); err != nil {
		return nil, fmt.Errorf("%s %q: %w", KindSleep, cfg.Name, err)
	}
	s := &SleepTask{params: p}
	s.Init(KindSleep, cfg.Name, nil, &s.params)
	return s, nil
}

func (s *SleepTask) Check(context.Context, *Runtime) (bool, map[string]string) {
	if s.params.Time < 0 {
		return false, map[string]string{ReportKey(s, ""): fmt.Sprintf("negative sleep time %g", s.params.Time)}
	}
	return true, nil
}

func (s *SleepTask) Perform(ctx context.Context, rt *Runtime) error {
	return rt.Sleep(ctx, time.Duration(s.params.Time*float64(time.Second)))
}
