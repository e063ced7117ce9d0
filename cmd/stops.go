package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/openmobility/transithub/schedule"
)

var stopsCmd = &cobra.Command{
	Use:   "stops [lat lon] [limit]",
	Short: "Lists stops near a geographical location, or by name",
	Args:  cobra.RangeArgs(0, 3),
	RunE:  stops,
}

var stopQuery string

func init() {
	stopsCmd.Flags().StringVarP(&stopQuery, "query", "q", "", "Search stops by name instead of location")
	rootCmd.AddCommand(stopsCmd)
}

func stops(cmd *cobra.Command, args []string) error {
	feed, err := loadFeed(cmd.Context())
	if err != nil {
		return err
	}
	engine := schedule.NewEngine(nil)

	if stopQuery != "" {
		for _, hit := range engine.StopsByName(feed, stopQuery, 10) {
			fmt.Printf("%s: %s\n", hit.ID, hit.Name)
		}
		return nil
	}

	if len(args) < 2 {
		return fmt.Errorf("lat and lon are required without --query")
	}
	lat, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid lat: %w", err)
	}
	lon, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid lon: %w", err)
	}
	limit := 10
	if len(args) == 3 {
		limit, err = strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid limit: %w", err)
		}
	}

	nearest, err := engine.NearestStops(feed, lat, lon, limit, 5)
	if err != nil {
		return err
	}
	for _, stop := range nearest {
		fmt.Printf("%s: %s (%.0f m)\n", stop.ID, stop.Name, stop.DistanceM)
	}

	return nil
}
