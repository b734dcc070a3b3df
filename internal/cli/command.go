package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewCommandCmd создаёт группу команд для просмотра и правки commands.
func NewCommandCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "command",
		Short: "Inspect collection commands",
	}

	cmd.AddCommand(
		newCommandShowCmd(clientFn, outputFn),
		newCommandHistoryCmd(clientFn, outputFn),
		newCommandSetStatusCmd(clientFn, outputFn),
	)

	return cmd
}

func newCommandShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show command details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			c, err := client.GetCommand(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"COMMAND_ID", "LIGHT_ID", "STATUS", "REASON_CODE", "RETRIES", "UPDATED"},
				[][]string{{
					c.CommandID,
					strconv.Itoa(c.LightID),
					c.Status,
					c.ReasonCode,
					strconv.Itoa(c.RetryCount),
					c.UpdatedAt,
				}},
				c,
			)
			return nil
		},
	}
}

func newCommandHistoryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "history ID",
		Short: "Show raw results received for a command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			items, err := client.CommandHistory(args[0])
			if err != nil {
				return err
			}

			headers := []string{"RECEIVED", "STATUS", "REASON_CODE", "REASON"}
			rows := make([][]string, len(items))
			for i, h := range items {
				rows[i] = []string{h.ReceivedAt, h.Status, h.ReasonCode, h.Reason}
			}

			out.Print(headers, rows, items)
			return nil
		},
	}
}

func newCommandSetStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reasonCode, reason string

	cmd := &cobra.Command{
		Use:   "set-status ID STATUS",
		Short: "Override command status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			result, err := client.UpdateCommandStatus(args[0], args[1], reasonCode, reason)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Command %s status: %s", args[0], result.Status))
			return nil
		},
	}

	cmd.Flags().StringVar(&reasonCode, "reason-code", "", "Reason code")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason text")

	return cmd
}
