package dialog

import (
	"context"
	"strconv"
	"strings"

	"remindbot/internal/todo"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

// Actions of /newtask. Free-text fields use "<action>-expect" as the state
// while the value is awaited.
const (
	actName   = "name"
	actDesc   = "desc"
	actTags   = "tags"
	actDone   = "done"
	actCancel = "cancel"
	actSched  = "sched"

	actDeadline = "at"
	actRepeat   = "repeat"
	actUnit     = "unit"
	actBefore   = "before"
	actFinish   = "finish"

	actBeforeMinutes = "bmin"
	actBeforeTimes   = "btimes"
	actBeforeEvery   = "bint"
	actBeforeDefault = "bdef"
	actBeforeDone    = "bdone"

	expectSuffix = "-expect"
)

// Menu states besides "" (the task menu).
const (
	stSched  = "sched"
	stUnits  = "units"
	stBefore = "before"
)

func expect(action string) string { return action + expectSuffix }

// NewTask collects a task and optionally its schedule, then commits it.
type NewTask struct {
	svc RemindersPort
	log logx.Logger
}

func NewNewTask(svc RemindersPort, log logx.Logger) *NewTask {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &NewTask{svc: svc, log: log.With(logx.String("flow", "newtask"))}
}

func (f *NewTask) Command() string     { return "newtask" }
func (f *NewTask) Description() string { return "создать задачу или напоминание" }

func (f *NewTask) Start(_ context.Context, s *Session) Reply {
	s.Task = todo.NewTask(s.ChatID, s.UserID, s.UserName)
	s.Builder = todo.NewBuilder(f.svc.Now, f.svc.Location())
	s.State = ""
	return f.taskMenu(s)
}

func (f *NewTask) Answer(ctx context.Context, s *Session, ev Event) Reply {
	if ev.IsAction() {
		_, action, payload, _ := tgui.Parse(ev.Data)
		return f.onAction(ctx, s, action, payload)
	}
	return f.onText(s, strings.TrimSpace(ev.Text))
}

func (f *NewTask) onAction(ctx context.Context, s *Session, action, payload string) Reply {
	switch action {
	case actCancel:
		s.End()
		return Reply{Text: txtCancelled}

	case actName, actDesc, actTags, actDeadline,
		actBeforeMinutes, actBeforeTimes, actBeforeEvery:
		s.State = expect(action)
		return Reply{Text: prompts[action]}

	case actDone:
		if err := s.Task.Validate(); err != nil {
			s.State = ""
			return f.withNotice(nameNotice(err), f.taskMenu(s))
		}
		return f.commitTask(ctx, s)

	case actSched:
		if err := s.Task.Validate(); err != nil {
			s.State = ""
			return f.withNotice(nameNotice(err), f.taskMenu(s))
		}
		s.Builder.SetTask(s.Task)
		s.State = stSched
		return f.schedMenu(s)

	case actRepeat:
		s.State = stUnits
		return f.unitsMenu(s)

	case actUnit:
		if err := s.Builder.SetRepeatUnit(todo.Unit(payload)); err != nil {
			msg, _ := errText(err)
			return f.withNotice(msg, f.unitsMenu(s))
		}
		s.State = expect(actRepeat)
		return Reply{Text: txtAskValue}

	case actBefore:
		s.State = stBefore
		return f.beforeMenu(s)

	case actBeforeDefault:
		s.Builder.UseDefaultRemind()
		s.State = stSched
		return f.withNotice(txtDefaultSet, f.schedMenu(s))

	case actBeforeDone:
		s.State = stSched
		return f.withNotice(txtRemindSet, f.schedMenu(s))

	case actFinish:
		return f.commitReminder(ctx, s)
	}
	return f.current(s)
}

var prompts = map[string]string{
	actName:          txtAskName,
	actDesc:          txtAskDesc,
	actTags:          txtAskTags,
	actDeadline:      txtAskDate,
	actBeforeMinutes: txtAskValue,
	actBeforeTimes:   txtAskValue,
	actBeforeEvery:   txtAskValue,
}

func (f *NewTask) onText(s *Session, text string) Reply {
	switch s.State {
	case expect(actName):
		s.Task.Name = text
		s.State = ""
		return f.taskMenu(s)

	case expect(actDesc):
		s.Task.Description = text
		s.State = ""
		return f.taskMenu(s)

	case expect(actTags):
		s.Task.SetTags(text)
		s.State = ""
		return f.taskMenu(s)

	case expect(actDeadline):
		if err := s.Builder.ScheduledAt(text); err != nil {
			msg, _ := errText(err)
			return Reply{Text: msg}
		}
		s.State = stSched
		return f.schedMenu(s)

	case expect(actRepeat):
		n, ok := positive(text)
		if !ok {
			return Reply{Text: txtBadNumber}
		}
		if err := s.Builder.RepeatEvery(n); err != nil {
			msg, _ := errText(err)
			return Reply{Text: msg}
		}
		s.State = stSched
		return f.schedMenu(s)

	case expect(actBeforeMinutes):
		return f.setBefore(s, text, s.Builder.RemindBeforeMinutes)
	case expect(actBeforeTimes):
		return f.setBefore(s, text, s.Builder.RemindTimes)
	case expect(actBeforeEvery):
		return f.setBefore(s, text, s.Builder.RemindInterval)
	}
	return f.current(s)
}

// setBefore applies a pre-deadline value. A window violation is reported
// but the value is kept, so the user can fix whichever field is wrong.
func (f *NewTask) setBefore(s *Session, text string, set func(int) error) Reply {
	n, ok := positive(text)
	if !ok {
		return Reply{Text: txtBadNumber}
	}
	s.State = stBefore
	if err := set(n); err != nil {
		msg, _ := errText(err)
		return f.withNotice(msg, f.beforeMenu(s))
	}
	return f.beforeMenu(s)
}

func (f *NewTask) commitTask(ctx context.Context, s *Session) Reply {
	s.End()
	if err := f.svc.AddTask(ctx, s.UserID, s.Task); err != nil {
		f.log.Warn("task not saved", logx.Int64("owner", s.UserID), logx.String("task", s.Task.Name), logx.Err(err))
		return Reply{Text: txtTaskDegraded}
	}
	return Reply{Text: txtTaskSaved}
}

func (f *NewTask) commitReminder(ctx context.Context, s *Session) Reply {
	s.Builder.SetTask(s.Task)
	s.Builder.FixCreationTime()
	r, err := s.Builder.Build()
	if err != nil {
		s.State = stSched
		msg, ok := errText(err)
		if !ok {
			msg = txtActionFailed
		}
		return f.withNotice(msg, f.schedMenu(s))
	}
	if err := f.svc.ScheduleReminder(ctx, s.UserID, r); err != nil {
		if msg, ok := errText(err); ok && todo.IsDomain(err) {
			s.State = stSched
			return f.withNotice(msg, f.schedMenu(s))
		}
		s.End()
		f.log.Warn("reminder not scheduled", logx.Int64("owner", s.UserID), logx.String("task", r.Task.Name), logx.Err(err))
		return Reply{Text: txtSchedDegraded}
	}
	s.End()
	return Reply{Text: txtSchedSaved}
}

// current re-shows the menu that owns the session's state.
func (f *NewTask) current(s *Session) Reply {
	switch s.State {
	case stUnits:
		return f.unitsMenu(s)
	case stBefore, expect(actBeforeMinutes), expect(actBeforeTimes), expect(actBeforeEvery):
		return f.beforeMenu(s)
	case stSched, expect(actDeadline), expect(actRepeat):
		return f.schedMenu(s)
	}
	return f.taskMenu(s)
}

func nameNotice(err error) string {
	if msg, ok := errText(err); ok {
		return msg
	}
	return txtNameRequired
}

func (f *NewTask) withNotice(notice string, r Reply) Reply {
	r.Notices = append([]string{notice}, r.Notices...)
	return r
}

func (f *NewTask) taskMenu(s *Session) Reply {
	return Reply{Text: txtTaskMenu, Buttons: tgui.Column(
		s.btn(lblName, actName, ""),
		s.btn(lblDesc, actDesc, ""),
		s.btn(lblTags, actTags, ""),
		s.btn(lblDone, actDone, ""),
		s.btn(lblCancel, actCancel, ""),
		s.btn(lblSchedule, actSched, ""),
	)}
}

func (f *NewTask) schedMenu(s *Session) Reply {
	return Reply{Text: txtSchedMenu, Buttons: tgui.Column(
		s.btn(lblDeadline, actDeadline, ""),
		s.btn(lblRepeat, actRepeat, ""),
		s.btn(lblBefore, actBefore, ""),
		s.btn(lblDone, actFinish, ""),
		s.btn(lblCancel, actCancel, ""),
	)}
}

func (f *NewTask) unitsMenu(s *Session) Reply {
	btns := make([]tgui.Button, 0, len(unitLabels)+1)
	for _, u := range unitLabels {
		btns = append(btns, s.btn(u.label, actUnit, string(u.unit)))
	}
	btns = append(btns, s.btn(lblCancel, actCancel, ""))
	return Reply{Text: txtUnitsMenu, Buttons: tgui.Column(btns...)}
}

func (f *NewTask) beforeMenu(s *Session) Reply {
	return Reply{Text: txtBeforeMenu, Buttons: tgui.Column(
		s.btn(lblBeforeMinutes, actBeforeMinutes, ""),
		s.btn(lblBeforeTimes, actBeforeTimes, ""),
		s.btn(lblBeforeEvery, actBeforeEvery, ""),
		s.btn(lblBeforeDefault, actBeforeDefault, ""),
		s.btn(lblDone, actBeforeDone, ""),
		s.btn(lblCancel, actCancel, ""),
	)}
}

// positive parses a strictly positive integer.
func positive(text string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
