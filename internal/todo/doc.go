// Package todo holds the task and reminder model, the validating reminder
// builder and the user-facing renderings of both.
package todo
