package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Downloads and parses a GTFS bundle, printing a summary",
	Args:  cobra.NoArgs,
	RunE:  load,
}

func init() {
	rootCmd.AddCommand(loadCmd)
}

func load(cmd *cobra.Command, args []string) error {
	feed, err := loadFeed(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("hash:     %s\n", feed.Hash)
	fmt.Printf("timezone: %s\n", feed.Timezone)
	fmt.Printf("agencies: %d\n", len(feed.Agencies))
	fmt.Printf("routes:   %d\n", len(feed.Routes))
	fmt.Printf("stops:    %d\n", len(feed.Stops))
	fmt.Printf("trips:    %d\n", len(feed.Trips))
	fmt.Printf("shapes:   %d\n", len(feed.Shapes))
	fmt.Printf("variants: %d\n", len(feed.Variants))

	return nil
}
