package reminder

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/storage"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// fireFunc persists the trigger progress of key, then sends its message.
// The dedup key ties the message to the nominal point, so a retry or a
// re-fire after restart is delivered once. A fire taken from a trigger that
// was replaced meanwhile neither sends nor touches the new job.
func (s *Service) fireFunc(key storage.Key) scheduler.FireFunc {
	return func(ctx context.Context, f scheduler.Fire) error {
		job, err := s.store.RecordFire(ctx, key, f.Trigger)
		if errors.Is(err, storage.ErrNotFound) {
			s.log.Debug("fire skipped", logx.String("job", key.String()), logx.Err(err))
			return nil
		}
		if err != nil {
			return err
		}

		n := kit.Notification{
			Channel: "telegram",
			Target:  kit.ChatTarget{ChatID: job.ChatID},
			Text:    job.Message,
			Key:     key.String() + "@" + f.Nominal.UTC().Format(time.RFC3339),
		}
		if err := s.notify.Notify(ctx, n); err != nil {
			return err
		}
		s.log.Debug("job fired",
			logx.String("job", key.String()),
			logx.Time("nominal", f.Nominal),
			logx.Int("missed", f.Missed),
			logx.Bool("last", f.Last),
		)

		if f.Last {
			err := s.store.FinishJob(ctx, key, f.Trigger)
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			if err != nil {
				return engine.NoRetry(err)
			}
			s.bump(key.Owner)
			s.publish("reminder.exhausted", key)
		}
		return nil
	}
}
