package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"ebbinghaus/internal/cache"
	"ebbinghaus/internal/clock"
	"ebbinghaus/internal/domain"
	"ebbinghaus/internal/eventbus"
	logx "ebbinghaus/pkg/logx"
)

func (s *Service) tick(ctx context.Context) (Report, error) {
	cfg := s.Config()
	start := time.Now()
	rep := Report{TickID: uuid.NewString()}
	log := s.log.With(logx.String("tick", rep.TickID))

	now, err := clock.Read(s.deps.Clock)
	if err != nil {
		return s.finish(log, cfg, rep, start, err)
	}
	rep.At = now

	rows, err := s.deps.Store.ListDueSchedules(ctx, now)
	if err != nil {
		return s.finish(log, cfg, rep, start, fmt.Errorf("list due schedules: %w", err))
	}
	rep.Due = len(rows)

	for _, o := range s.sweep(ctx, log, cfg, now, rows) {
		rep.add(o)
	}
	return s.finish(log, cfg, rep, start, nil)
}

func (s *Service) finish(log logx.Logger, cfg Config, rep Report, start time.Time, err error) (Report, error) {
	rep.Took = time.Since(start)
	if err != nil {
		rep.Error = err.Error()
		log.Error("tick failed", logx.Err(err), logx.Duration("took", rep.Took))
		s.deps.Bus.Publish(eventbus.Event{Type: eventbus.SchedulerTickFail, Data: rep})
	} else {
		fields := []logx.Field{
			logx.Int("due", rep.Due),
			logx.Int("delivered", rep.Delivered),
			logx.Int("completed", rep.Completed),
			logx.Int("delivery_failed", rep.DeliveryFailed),
			logx.Int("update_failed", rep.UpdateFailed),
			logx.Duration("took", rep.Took),
		}
		if rep.Due > 0 {
			log.Info("tick done", fields...)
		} else {
			log.Trace("tick done", fields...)
		}
		s.deps.Bus.Publish(eventbus.Event{Type: eventbus.SchedulerTick, Data: rep})
	}
	s.record(rep, err != nil, cfg.HistorySize)
	return rep, err
}

// sweep processes rows on at most cfg.Workers goroutines. Each row's outcome
// lands in its own slot. Rows not yet started when ctx ends are skipped.
func (s *Service) sweep(ctx context.Context, log logx.Logger, cfg Config, now time.Time, rows []domain.ScheduleWithContext) []outcome {
	out := make([]outcome, len(rows))
	if len(rows) == 0 {
		return out
	}
	workers := min(cfg.Workers, len(rows))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out[i] = s.process(ctx, log, cfg, now, rows[i])
			}
		}()
	}

feed:
	for i := range rows {
		if ctx.Err() == nil {
			select {
			case jobs <- i:
				continue
			case <-ctx.Done():
			}
		}
		for j := i; j < len(rows); j++ {
			out[j] = outcomeSkipped
		}
		break feed
	}
	close(jobs)
	wg.Wait()
	return out
}

// process delivers one schedule and, only after a confirmed delivery,
// persists its next state.
func (s *Service) process(ctx context.Context, log logx.Logger, cfg Config, now time.Time, row domain.ScheduleWithContext) (o outcome) {
	sc := row.Schedule
	log = log.With(
		logx.Int64("schedule_id", sc.ID),
		logx.Int64("reminder_id", sc.ReminderID),
		logx.Int("phase", sc.PhaseNumber),
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("schedule processing panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			o = outcomeSkipped
		}
	}()

	if sc.Terminal() {
		log.Warn("terminal schedule returned as due; ignored")
		return outcomeSkipped
	}

	dctx, cancel := context.WithTimeout(ctx, cfg.DeliveryTimeout)
	err := s.deps.Notifier.Deliver(dctx, row.User.Email, row.Reminder.Topic, row.Reminder.Text)
	cancel()
	if err != nil {
		log.Warn("delivery failed; will retry next tick", logx.Err(err))
		return outcomeDeliveryFailed
	}

	tr, err := domain.Advance(sc, s.deps.Phases)
	if err != nil {
		log.Error("cannot advance schedule", logx.Err(err))
		return outcomeSkipped
	}

	// The delivery already happened; finish the write even during shutdown.
	uctx, ucancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.UpdateTimeout)
	defer ucancel()
	if err := s.deps.Store.UpdateSchedule(uctx, sc.ID, tr.PhaseNumber, tr.NextRun); err != nil {
		log.Error("delivered but schedule not advanced; it stays due", logx.Err(err))
		return outcomeUpdateFailed
	}

	if s.deps.Deliveries != nil {
		d := cache.Delivery{ScheduleID: sc.ID, ReminderID: sc.ReminderID, Phase: sc.PhaseNumber, At: now}
		if err := s.deps.Deliveries.Record(uctx, d); err != nil {
			log.Warn("delivery log write failed", logx.Err(err))
		}
	}

	if tr.Completed {
		log.Info("schedule completed")
		s.deps.Bus.Publish(eventbus.Event{
			Type: eventbus.SchedulerCompleted,
			Data: CompletedEvent{ScheduleID: sc.ID, ReminderID: sc.ReminderID, Phase: sc.PhaseNumber},
		})
		return outcomeCompleted
	}
	log.Debug("schedule advanced", logx.Int("next_phase", tr.PhaseNumber), logx.Time("next_run", *tr.NextRun))
	return outcomeAdvanced
}
