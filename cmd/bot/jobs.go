package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"remindbot/internal/app"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect or cancel stored jobs",
	Long: "Operates on the job store directly. A running bot drops triggers of\n" +
		"cancelled jobs on its next reconcile pass.",
}

var (
	jobsOwner int64
	jobsName  string
)

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs of one owner, or all jobs when --owner is 0",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := app.OpenStore(cfgPath, logx.Nop())
		if err != nil {
			return err
		}
		defer st.Close()

		var jobs []storage.Job
		if jobsOwner == 0 {
			jobs, err = st.AllJobs(cmd.Context())
		} else {
			jobs, err = st.ListJobs(cmd.Context(), jobsOwner)
		}
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "OWNER\tNAME\tKIND\tTRIGGER\tFIRED\tMESSAGE")
		for _, j := range jobs {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", j.Owner, j.Name, j.Kind, describeTrigger(j.Trigger), fired(j.Trigger), firstLine(j.Message))
		}
		return tw.Flush()
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Delete a job and its pre-deadline reminder",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if jobsOwner == 0 || strings.TrimSpace(jobsName) == "" {
			return errors.New("--owner and --name are required")
		}
		st, err := app.OpenStore(cfgPath, logx.Nop())
		if err != nil {
			return err
		}
		defer st.Close()

		key := storage.Key{Owner: jobsOwner, Name: jobsName}
		linked := storage.Key{Owner: jobsOwner, Name: reminder.PreDeadlinePrefix + jobsName}
		if err := st.DeleteJob(cmd.Context(), key, linked); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("no job %s", key)
			}
			return err
		}
		_ = st.AppendAudit(cmd.Context(), storage.AuditEntry{At: time.Now(), Action: "cli.cancel", Target: key.String()})
		fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", key)
		return nil
	},
}

func init() {
	jobsCmd.PersistentFlags().Int64Var(&jobsOwner, "owner", 0, "telegram user id of the job owner")
	jobsCancelCmd.Flags().StringVar(&jobsName, "name", "", "job name")
	jobsCmd.AddCommand(jobsListCmd, jobsCancelCmd)
}

func describeTrigger(tr *storage.Trigger) string {
	if tr == nil {
		return "-"
	}
	at := tr.Start.Format("02.01.2006 15:04")
	switch tr.Kind {
	case storage.TriggerInterval:
		return fmt.Sprintf("every %dm from %s", tr.Every, at)
	case storage.TriggerCalendar:
		return fmt.Sprintf("every %dy from %s", tr.Every, at)
	case storage.TriggerRepeat:
		return fmt.Sprintf("%dx every %dm from %s", tr.Count, tr.Every, at)
	default:
		return "once at " + at
	}
}

func fired(tr *storage.Trigger) string {
	if tr == nil || tr.LastFire.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%d (last %s)", tr.Fired, tr.LastFire.Format("02.01.2006 15:04"))
}

func firstLine(s string) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	if r := []rune(s); len(r) > 48 {
		return string(r[:47]) + "…"
	}
	return s
}
