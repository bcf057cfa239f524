package reminder

import (
	"context"
	"errors"
	"slices"

	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	logx "remindbot/pkg/logx"
)

// Recover installs the trigger of every stored job. Jobs whose trigger is
// already exhausted are deleted. It returns the number of installed triggers.
func (s *Service) Recover(ctx context.Context) (int, error) {
	jobs, err := s.store.AllJobs(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, j := range jobs {
		ok, err := s.restore(ctx, j)
		if err != nil {
			s.log.Warn("trigger restore failed", logx.String("job", j.Key.String()), logx.Err(err))
			continue
		}
		if ok {
			n++
		}
	}
	s.log.Info("triggers recovered", logx.Int("installed", n), logx.Int("jobs", len(jobs)))
	return n, nil
}

func (s *Service) restore(ctx context.Context, j storage.Job) (bool, error) {
	if j.Trigger == nil {
		return false, nil
	}
	if _, ok := scheduler.NextAt(*j.Trigger, s.Location()); !ok {
		err := s.store.DeleteJob(ctx, j.Key)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return false, err
		}
		s.bump(j.Key.Owner)
		return false, nil
	}
	return true, s.install(j)
}

// Reconcile removes installed triggers whose job is gone and installs
// stored triggers that are missing, e.g. after a cancel from the CLI.
func (s *Service) Reconcile(ctx context.Context) error {
	jobs, err := s.store.AllJobs(ctx)
	if err != nil {
		return err
	}
	want := map[string]storage.Job{}
	for _, j := range jobs {
		if j.Trigger != nil {
			want[j.Key.String()] = j
		}
	}
	installed := s.sched.Triggers()

	removed, added := 0, 0
	for _, name := range installed {
		if _, ok := want[name]; !ok && s.sched.Remove(name) {
			removed++
		}
	}
	for name, j := range want {
		if slices.Contains(installed, name) {
			continue
		}
		ok, err := s.restore(ctx, j)
		if err != nil {
			s.log.Warn("trigger restore failed", logx.String("job", name), logx.Err(err))
			continue
		}
		if ok {
			added++
		}
	}
	if removed > 0 || added > 0 {
		s.log.Info("triggers reconciled", logx.Int("removed", removed), logx.Int("added", added))
	}
	return nil
}
