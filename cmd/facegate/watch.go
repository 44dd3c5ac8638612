package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	facegate "github.com/facegate-io/facegate-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch live attendance events",
	Long:  "Connect to the attendance socket and print canonical events as they arrive.\nPress Ctrl-C to stop.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		session := facegate.NewSession(client, nil)

		sock := session.Socket()
		sock.OnOpen(func() {
			fmt.Printf("connected to %s\n", client.Realtime().SocketURL())
		})
		sock.OnClosed(func(err error) {
			fmt.Fprintf(os.Stderr, "connection lost: %v\n", err)
		})
		sock.OnReconnecting(func(attempt int, delay time.Duration) {
			fmt.Fprintf(os.Stderr, "reconnecting in %s (attempt %d/%d)\n",
				delay, attempt+1, facegate.MaxReconnectAttempts)
		})

		session.Reconciler().OnChange(func(events []facegate.AttendanceEvent) {
			latest := events[0]
			fmt.Printf("%s  %-6s  %s", latest.Timestamp, latest.EntryType, latest.EmployeeID)
			if latest.EmployeeName != "" {
				fmt.Printf(" (%s)", latest.EmployeeName)
			}
			if latest.IsLate {
				fmt.Print("  LATE")
			}
			if latest.IsEarlyExit {
				fmt.Print("  EARLY-EXIT")
			}
			fmt.Println()
		})
		session.Reconciler().OnEarlyExit(func(c facegate.EarlyExitCase) {
			fmt.Printf("early exit by %s needs a reason (record %s)\n", c.EmployeeID, c.AttendanceRecordID)
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if err := session.Init(ctx); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		defer session.Teardown()

		<-ctx.Done()
		fmt.Println("\nstopping")
		return nil
	},
}
