package main

import (
	"context"
	"fmt"
	"time"

	facegate "github.com/facegate-io/facegate-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check service health and current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		fmt.Printf("Base URL: %s\n", client.BaseURL())

		health, err := client.Health(ctx)
		if err != nil {
			return fmt.Errorf("service unreachable: %w", err)
		}
		if !health.OK {
			fmt.Println("Health:   degraded")
			if health.Error != nil {
				fmt.Printf("          %s\n", health.Error.Message)
			}
			return nil
		}
		fmt.Println("Health:   ok")

		if res, err := client.Timezone().Get(ctx); err == nil && res.OK {
			var tz facegate.TimezoneSetting
			if res.Decode(&tz) == nil && tz.Timezone != "" {
				fmt.Printf("Timezone: %s\n", tz.Timezone)
			}
		}

		if res, err := client.OfficeTimings().Get(ctx); err == nil && res.OK {
			var timing facegate.OfficeTiming
			if res.Decode(&timing) == nil && timing.Checkin != "" {
				fmt.Printf("Office:   %s – %s\n", timing.Checkin, timing.Checkout)
			}
		}

		return nil
	},
}
