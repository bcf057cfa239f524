package dialog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/todo"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

// Actions of /listtask. Entries are addressed by their position in the
// listing the session took when it started.
const (
	actShowTask     = "task"
	actShowReminder = "rem"
	actCompleteTask = "tdone"
	actCancelTask   = "tdrop"
	actCompleteRem  = "rdone"
	actCancelRem    = "rdrop"
	actOK           = "ok"
)

// ListTask shows the owner's tasks and reminders and lets them complete or
// cancel one.
type ListTask struct {
	svc RemindersPort
	log logx.Logger
}

func NewListTask(svc RemindersPort, log logx.Logger) *ListTask {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ListTask{svc: svc, log: log.With(logx.String("flow", "listtask"))}
}

func (f *ListTask) Command() string     { return "listtask" }
func (f *ListTask) Description() string { return "список задач и напоминаний" }

func (f *ListTask) Start(ctx context.Context, s *Session) Reply {
	tasks, err := f.svc.ListTasks(ctx, s.UserID)
	if err == nil {
		var rems reminder.Snapshot
		rems, err = f.svc.ListReminders(ctx, s.UserID)
		s.Tasks, s.Reminders = tasks, rems
	}
	if err != nil {
		f.log.Warn("listing failed", logx.Int64("owner", s.UserID), logx.Err(err))
		s.End()
		return Reply{Text: txtListFailed}
	}
	rep := f.listing(s)
	if s.Tasks.Len() == 0 && s.Reminders.Len() == 0 {
		s.End()
	}
	return rep
}

func (f *ListTask) listing(s *Session) Reply {
	var b strings.Builder
	var kb tgui.Keyboard
	if s.Tasks.Len() == 0 {
		b.WriteString(txtNoTasks)
	} else {
		b.WriteString(txtTaskList)
		for i, e := range s.Tasks.Entries {
			kb = append(kb, []tgui.Button{s.btn("📌 "+todo.ListLine(i, e.Task.Name), actShowTask, strconv.Itoa(i))})
		}
	}
	b.WriteString("\n\n")
	if s.Reminders.Len() == 0 {
		b.WriteString(txtNoReminders)
	} else {
		b.WriteString(txtReminderList)
		for i, e := range s.Reminders.Entries {
			kb = append(kb, []tgui.Button{s.btn("🔔 "+todo.ListLine(i, e.Task.Name), actShowReminder, strconv.Itoa(i))})
		}
	}
	return Reply{Text: b.String(), Buttons: kb}
}

// Answer ignores plain text: the listing is driven by its buttons, and an
// empty Reply sends nothing.
func (f *ListTask) Answer(ctx context.Context, s *Session, ev Event) Reply {
	if !ev.IsAction() {
		return Reply{}
	}
	_, action, payload, _ := tgui.Parse(ev.Data)
	if action == actOK {
		s.End()
		return Reply{Text: txtThanks}
	}

	pos, err := strconv.Atoi(payload)
	if err != nil {
		return f.listing(s)
	}
	var snap reminder.Snapshot
	switch action {
	case actShowTask, actCompleteTask, actCancelTask:
		snap = s.Tasks
	case actShowReminder, actCompleteRem, actCancelRem:
		snap = s.Reminders
	default:
		return f.listing(s)
	}
	e, err := f.svc.Resolve(snap, pos)
	if err != nil {
		s.End()
		return Reply{Text: txtStale}
	}

	switch action {
	case actShowTask:
		return f.card(s, todo.TaskCard(e.Task), actCompleteTask, actCancelTask, pos)
	case actShowReminder:
		return f.card(s, todo.ReminderCard(*e.Reminder, f.svc.Location()), actCompleteRem, actCancelRem, pos)
	case actCompleteTask, actCompleteRem:
		return f.complete(ctx, s, e)
	default:
		return f.cancel(ctx, s, e)
	}
}

func (f *ListTask) card(s *Session, text, complete, cancel string, pos int) Reply {
	p := strconv.Itoa(pos)
	return Reply{Text: text, Buttons: tgui.Keyboard{
		{s.btn(lblComplete, complete, p), s.btn(lblDrop, cancel, p)},
		{s.btn(lblOK, actOK, "")},
	}}
}

func (f *ListTask) complete(ctx context.Context, s *Session, e reminder.Entry) Reply {
	s.End()
	if _, err := f.svc.Complete(ctx, s.UserID, e.Key); err != nil {
		return f.failed(s, "complete", e.Key, err)
	}
	text := fmt.Sprintf("✅ Задача \"%s\" успешно завершена!", e.Task.Name)
	if e.Reminder != nil {
		hours := int64(e.Reminder.Elapsed(f.svc.Now()).Hours())
		text += fmt.Sprintf("\nВы потратили %d ч. на ее выполнение", hours)
	}
	return Reply{Text: text}
}

func (f *ListTask) cancel(ctx context.Context, s *Session, e reminder.Entry) Reply {
	s.End()
	if err := f.svc.Cancel(ctx, s.UserID, e.Key); err != nil {
		return f.failed(s, "cancel", e.Key, err)
	}
	return Reply{Text: fmt.Sprintf("❎ Задача \"%s\" успешно отменена!", e.Task.Name)}
}

func (f *ListTask) failed(s *Session, op string, key storage.Key, err error) Reply {
	if errors.Is(err, storage.ErrNotFound) {
		return Reply{Text: txtStale}
	}
	f.log.Warn("job "+op+" failed", logx.Int64("owner", s.UserID), logx.String("job", key.String()), logx.Err(err))
	return Reply{Text: txtActionFailed}
}
