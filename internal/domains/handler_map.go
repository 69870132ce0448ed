package domains

import (
	"soika/jobrouter/internal/jobrouter"
	"soika/jobrouter/pkg/logger"
)

// Job kinds served by this process.
const (
	KindSendWelcomeEmail       = "sendWelcomeEmail"
	KindScheduledSearch        = "scheduledSearch"
	KindPerformScheduledSearch = "performScheduledSearch"
)

// Deps are the collaborators the handlers need. Nil fields get a
// stand-in that logs or refuses the work.
type Deps struct {
	Mailer    Mailer
	Schedules ScheduleStore
	Searcher  Searcher
	Log       logger.Logger
}

// Jobs returns the job table of the application.
func Jobs(deps Deps) jobrouter.Jobs {
	if deps.Log == nil {
		deps.Log = logger.NewNopLogger()
	}
	if deps.Mailer == nil {
		deps.Mailer = &LogMailer{Log: deps.Log}
	}

	return jobrouter.Jobs{
		KindSendWelcomeEmail:       newSendWelcomeEmail(deps),
		KindScheduledSearch:        newScheduledSearch(deps),
		KindPerformScheduledSearch: newPerformScheduledSearch(deps),
	}
}

// Schedule is a repeatable emit.
type Schedule struct {
	Name    string
	Spec    string
	Kind    string
	Payload any
}

// DefaultSchedules fan out the saved searches: daily at midnight, weekly
// on Sunday at 1 AM, monthly on the 1st at 2 AM.
func DefaultSchedules() []Schedule {
	return []Schedule{
		{Name: "scheduled-search-daily", Spec: "0 0 * * *", Kind: KindScheduledSearch, Payload: ScheduledSearchInput{Frequency: "daily"}},
		{Name: "scheduled-search-weekly", Spec: "0 1 * * 0", Kind: KindScheduledSearch, Payload: ScheduledSearchInput{Frequency: "weekly"}},
		{Name: "scheduled-search-monthly", Spec: "0 2 1 * *", Kind: KindScheduledSearch, Payload: ScheduledSearchInput{Frequency: "monthly"}},
	}
}
