package main

import (
	"FlowSentry/pkg/pcap"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List all network interfaces",
	Long:  `List all network interfaces fs-engine can capture on`,
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := pcap.Interfaces()
		if err != nil {
			return err
		}
		fmt.Println("Available network interfaces:")
		for _, d := range devices {
			fmt.Printf("- %s [%s] %s\n", d.Name, strings.Join(d.Addresses, ", "), d.Description)
		}
		return nil
	},
}
