package todo

import (
	"sort"
	"strings"
)

// PreDeadlinePrefix starts the job name of a reminder's pre-deadline
// notification. Task names may not use it.
const PreDeadlinePrefix = "remindBefore-"

// Task is a plain to-do item. Identity is (OwnerID, Name).
type Task struct {
	ChatID      int64    `json:"chat_id"`
	OwnerID     int64    `json:"owner_id"`
	OwnerName   string   `json:"owner_name,omitempty"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

// NewTask starts an empty task for the given chat and owner.
func NewTask(chatID, ownerID int64, ownerName string) Task {
	return Task{ChatID: chatID, OwnerID: ownerID, OwnerName: ownerName}
}

// SetTags replaces the tag set with the whitespace separated words of s.
// Duplicates are dropped; the stored order is sorted.
func (t *Task) SetTags(s string) {
	seen := map[string]struct{}{}
	tags := make([]string, 0)
	for _, f := range strings.Fields(s) {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		tags = append(tags, f)
	}
	sort.Strings(tags)
	t.Tags = tags
}

// Validate checks the fields required to commit the task.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return ErrBlankName
	}
	if strings.HasPrefix(t.Name, PreDeadlinePrefix) {
		return ErrReservedName
	}
	return nil
}
