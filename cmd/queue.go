// File: cmd/queue.go
package cmd

import (
	"errors"

	"github.com/polislabs/polis/internal/agents"
	"github.com/polislabs/polis/internal/queue"
	"github.com/spf13/cobra"
)

var queueTaskData map[string]string

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Work the persisted task queue",
}

var queueEnqueueCmd = &cobra.Command{
	Use:   "enqueue <task-type>",
	Short: "Append a task to the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		data := map[string]any{}
		for key, value := range queueTaskData {
			data[key] = value
		}
		task, err := rt.queue.Enqueue(cmd.Context(), agents.Task{Type: args[0], Data: data})
		if err != nil {
			return err
		}
		return printJSON(task)
	},
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending tasks in FIFO order",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		tasks, err := rt.queue.List(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(tasks)
	},
}

var queueProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Process the oldest pending task and apply chain rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		task, result, err := rt.queue.ProcessOne(cmd.Context())
		if errors.Is(err, queue.ErrEmpty) {
			return printJSON(map[string]any{"processed": false})
		}
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"processed": true, "task": task, "result": result})
	},
}

func init() {
	queueEnqueueCmd.Flags().StringToStringVar(&queueTaskData, "data", nil, "task data as key=value pairs")
	queueCmd.AddCommand(queueEnqueueCmd, queueListCmd, queueProcessCmd)
	rootCmd.AddCommand(queueCmd)
}
