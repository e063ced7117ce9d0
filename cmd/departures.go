package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openmobility/transithub/schedule"
)

var departuresCmd = &cobra.Command{
	Use:   "departures <stop_id>",
	Short: "Lists upcoming departures at a stop",
	Args:  cobra.ExactArgs(1),
	RunE:  departures,
}

var (
	limit   int
	routeID string
)

func init() {
	departuresCmd.Flags().IntVarP(&limit, "limit", "l", 20, "Limit the number of departures returned")
	departuresCmd.Flags().StringVarP(&routeID, "route", "r", "", "Restrict to a specific route")
	rootCmd.AddCommand(departuresCmd)
}

func departures(cmd *cobra.Command, args []string) error {
	stopID := args[0]

	feed, err := loadFeed(cmd.Context())
	if err != nil {
		return err
	}

	engine := schedule.NewEngine(nil)
	waiting, err := engine.WaitingTimesFromSchedule(feed, stopID, time.Now(), routeID, limit)
	if err != nil {
		return err
	}

	for _, wt := range waiting {
		fmt.Printf("%-8s %s %s (%s)\n", wt.RouteID, wt.ScheduledTime, wt.Headsign, wt.ScheduledMinutes)
	}

	return nil
}
