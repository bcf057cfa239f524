package todo

import (
	"fmt"
	"strings"
	"time"
)

const humanDate = "02.01.2006 15:04"

// Message kinds a reminder can fire with.
const (
	headDeadline = "🔔 Наступил дедлайн для вашей задачи:"
	headBefore   = "🔔 Напоминаю вам о приближении дедлайна вашей задачи:"
)

// TaskText is the stored message of a plain task.
func TaskText(t Task) string {
	return "📌 " + strings.ToUpper(t.Name) + "\n" +
		"📝 " + t.Description + "\n" +
		"Теги: " + tagList(t.Tags)
}

// DeadlineText is sent when the deadline itself fires.
func DeadlineText(r Reminder) string { return fireText(headDeadline, r) }

// BeforeDeadlineText is sent by the pre-deadline notifications.
func BeforeDeadlineText(r Reminder) string { return fireText(headBefore, r) }

func fireText(head string, r Reminder) string {
	return head + "\n" + TaskText(r.Task) + "\n" + "📅 Дедлайн задачи: " + r.Scheduled
}

// TaskCard is the detail view of a task in a listing.
func TaskCard(t Task) string {
	return "📌 " + strings.ToUpper(t.Name) + "\n" +
		"📝 " + t.Description + "\n" +
		"ТЕГИ: \n\t" + tagList(t.Tags)
}

// ReminderCard is the detail view of a reminder in a listing.
func ReminderCard(r Reminder, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(TaskCard(r.Task))
	b.WriteString("\n📅 СРОК ИСПОЛНЕНИЯ: ")
	if d, err := r.Deadline(loc); err == nil {
		b.WriteString(d.Format(humanDate))
	} else {
		b.WriteString(r.Scheduled)
	}
	if r.HasPreDeadline() {
		fmt.Fprintf(&b, "\n👉 НАПОМНИТЬ за %d минут до дедлайна", r.MinutesBefore)
		if r.RemindTimes > 1 {
			fmt.Fprintf(&b, "\n%d раз с интервалом в %d минут", r.RemindTimes, r.RemindInterval)
		}
	}
	if r.Repeats() {
		fmt.Fprintf(&b, "\n👉 ПОВТОРЯТЬ задачу с интервалом %d %s", r.RepeatInterval, UnitLabel(r.RepeatUnit))
	}
	return b.String()
}

// ListLine is the one-line label of a listing entry.
func ListLine(i int, name string) string { return fmt.Sprintf("%d. %s", i+1, name) }

// UnitLabel is the plural genitive used after a number.
func UnitLabel(u Unit) string {
	switch u {
	case Minutes:
		return "минут"
	case Hours:
		return "часов"
	case Weeks:
		return "недель"
	case Months:
		return "месяцев"
	case Years:
		return "лет"
	default:
		return "дней"
	}
}

func tagList(tags []string) string { return "[" + strings.Join(tags, ", ") + "]" }
