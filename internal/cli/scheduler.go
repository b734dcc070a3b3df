package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewSchedulerCmd создаёт группу команд жизненного цикла dag run'ов.
func NewSchedulerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Manage collection dag runs",
	}

	cmd.AddCommand(
		newTriggerCmd(clientFn, outputFn),
		newCheckCmd(clientFn, outputFn),
		newTimeoutCmd(clientFn, outputFn),
		newStatusCmd(clientFn, outputFn),
		newSummaryCmd(clientFn, outputFn),
	)

	return cmd
}

func newTriggerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger DAG_ID DAG_RUN_ID",
		Short: "Trigger traffic light collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			result, err := client.Trigger(args[0], args[1])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Collection triggered: %s", result.DagRunID))
			out.Print(
				[]string{"DAG_RUN_ID", "STATUS"},
				[][]string{{result.DagRunID, result.Status}},
				result,
			)
			return nil
		},
	}
}

func newCheckCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "check DAG_ID DAG_RUN_ID",
		Short: "Check whether all commands have settled",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			result, err := client.Check(args[0], args[1])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"DAG_RUN_ID", "IS_COMPLETED", "STATUS", "COMPLETED", "TOTAL"},
				[][]string{{
					result.DagRunID,
					strconv.FormatBool(result.IsCompleted),
					result.Status,
					strconv.Itoa(result.CompletedCommands),
					strconv.Itoa(result.TotalCommands),
				}},
				result,
			)
			return nil
		},
	}
}

func newTimeoutCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "timeout DAG_ID DAG_RUN_ID",
		Short: "Time out pending commands of a run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			result, err := client.SetTimeout(args[0], args[1])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Timed out %d commands", result.TimedOutCommandsCount))
			out.Print(
				[]string{"TIMEDOUT_COMMANDS", "DAG_STATUS_UPDATED"},
				[][]string{{
					strconv.Itoa(result.TimedOutCommandsCount),
					strconv.FormatBool(result.DagStatusUpdated),
				}},
				result,
			)
			return nil
		},
	}
}

func newStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "set-status DAG_ID DAG_RUN_ID STATUS",
		Short: "Override run status (Running, Success, Failed, Timeout, Canceled)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			result, err := client.UpdateStatus(args[0], args[1], args[2], reason)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run status: %s", result.Status))
			out.Print(
				[]string{"UPDATED", "STATUS"},
				[][]string{{strconv.FormatBool(result.Updated), result.Status}},
				result,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Reason for the status change")

	return cmd
}

func newSummaryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var notifyTo []string

	cmd := &cobra.Command{
		Use:   "summary DAG_ID DAG_RUN_ID",
		Short: "Build run summary and push notification",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			s, err := client.Summary(args[0], args[1], notifyTo)
			if err != nil {
				return err
			}

			out.Print(
				[]string{"STATUS", "DURATION", "COMPLETED", "FAILED", "TIMED_OUT", "SUCCESS_RATE"},
				[][]string{{
					s.Status,
					s.Duration,
					strconv.Itoa(s.CompletedCommands),
					strconv.Itoa(s.ErrorCommands),
					strconv.Itoa(s.TimeoutCommands),
					fmt.Sprintf("%.1f%%", s.SuccessRate),
				}},
				s,
			)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&notifyTo, "notify-to", nil, "Notification recipients (emails, Teams channel)")

	return cmd
}
