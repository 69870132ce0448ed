package domains

import (
	"context"
	"errors"
	"fmt"
	"time"

	"soika/jobrouter/internal/jobrouter"
	"soika/jobrouter/pkg/entity"
	"soika/jobrouter/pkg/errorutil"
	"soika/jobrouter/pkg/infra/mysql"
	"soika/jobrouter/pkg/logger"
)

type ScheduledSearchInput struct {
	Frequency string `json:"frequency" validate:"required,oneof=daily weekly monthly"`
}

type PerformScheduledSearchInput struct {
	ScheduleID string `json:"scheduleId" validate:"required,max=64"`
}

// ScheduleStore is the persistence the search jobs need;
// *mysql.ScheduleDAO implements it.
type ScheduleStore interface {
	ListActive(ctx context.Context, frequency string) ([]entity.SearchSchedule, error)
	GetByID(ctx context.Context, id string) (*entity.SearchSchedule, error)
	RecordRun(ctx context.Context, run *entity.SearchRun) error
}

var _ ScheduleStore = (*mysql.ScheduleDAO)(nil)

// Searcher runs one saved search against whatever backs it.
type Searcher interface {
	Search(ctx context.Context, schedule *entity.SearchSchedule) error
}

var errNoScheduleStore = errorutil.NonRetriable("schedule store not configured")

// newScheduledSearch fans a frequency out into one
// performScheduledSearch per active schedule.
func newScheduledSearch(deps Deps) *jobrouter.Job[ScheduledSearchInput] {
	return jobrouter.DefineJob[ScheduledSearchInput](
		jobrouter.WithMaxAttempts(3),
		jobrouter.WithFixedBackoff(30*time.Second),
	).Handler(func(ctx context.Context, in ScheduledSearchInput) error {
		if deps.Schedules == nil {
			return errNoScheduleStore
		}
		router, ok := jobrouter.RouterFrom(ctx)
		if !ok {
			return errorutil.NonRetriableWithDetails("no router in context", KindScheduledSearch)
		}

		schedules, err := deps.Schedules.ListActive(ctx, in.Frequency)
		if err != nil {
			return errorutil.RetriableWithDetails("list "+in.Frequency+" schedules failed", err.Error())
		}

		deps.Log.Infof(ctx, "[ScheduledSearch] %s: %d schedules", in.Frequency, len(schedules))

		var failed []error
		for _, s := range schedules {
			err := jobrouter.Emit(ctx, router, KindPerformScheduledSearch, PerformScheduledSearchInput{ScheduleID: s.ID})
			if err != nil {
				failed = append(failed, fmt.Errorf("schedule %s: %w", s.ID, err))
			}
		}
		if len(failed) > 0 {
			return errorutil.RetriableWithDetails(
				fmt.Sprintf("%d of %d searches not queued", len(failed), len(schedules)),
				errors.Join(failed...).Error(),
			)
		}
		return nil
	})
}

func newPerformScheduledSearch(deps Deps) *jobrouter.Job[PerformScheduledSearchInput] {
	return jobrouter.DefineJob[PerformScheduledSearchInput](
		jobrouter.WithMaxAttempts(3),
		jobrouter.WithExponentialBackoff(10*time.Second, 5*time.Minute),
	).Handler(func(ctx context.Context, in PerformScheduledSearchInput) error {
		if deps.Schedules == nil {
			return errNoScheduleStore
		}
		if deps.Searcher == nil {
			return errorutil.NonRetriable("searcher not configured")
		}

		schedule, err := deps.Schedules.GetByID(ctx, in.ScheduleID)
		if errors.Is(err, mysql.ErrScheduleNotFound) {
			return errorutil.Permanent(err)
		}
		if err != nil {
			return errorutil.Retriable(fmt.Sprintf("load schedule %s: %v", in.ScheduleID, err))
		}
		if !schedule.Active {
			deps.Log.Infof(ctx, "[PerformScheduledSearch] schedule %s inactive, skipping", schedule.ID)
			return nil
		}

		run := &entity.SearchRun{ScheduleID: schedule.ID, StartedAt: time.Now()}
		searchErr := deps.Searcher.Search(ctx, schedule)

		finished := time.Now()
		run.FinishedAt = &finished
		run.Status = entity.RunStatusSucceeded
		if searchErr != nil {
			run.Status = entity.RunStatusFailed
			run.Error = searchErr.Error()
		}

		if err := deps.Schedules.RecordRun(ctx, run); err != nil {
			deps.Log.Errorf(ctx, "[PerformScheduledSearch] record run for %s: %v", schedule.ID, err)
		}
		if searchErr != nil {
			return errorutil.RetriableWithDetails("search failed for schedule "+schedule.ID, searchErr.Error())
		}
		return nil
	})
}

// LogSearcher only logs; it stands in until a search backend is wired.
type LogSearcher struct {
	Log logger.Logger
}

// Search logs the schedule it would run.
func (s *LogSearcher) Search(ctx context.Context, schedule *entity.SearchSchedule) error {
	s.Log.Infof(ctx, "[LogSearcher] running schedule %s (%s) query=%s", schedule.ID, schedule.Name, string(schedule.Query))
	return nil
}
