// Command callbridgectl is a read-only diagnostic companion to callbridged.
// The daemon itself exposes no network surface (spec.md §6 "Daemon
// surface"), so this tool never talks to a running process: it loads the
// same configuration file the daemon would and checks it directly,
// grounded on the teacher's cmd/apicall-cli (cobra + tabwriter tables).
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/axelmiami/callbridge/internal/config"
	"github.com/axelmiami/callbridge/internal/crm"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "callbridgectl",
		Short: "Diagnostic tool for a callbridged configuration file",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/callbridge/callbridge.ini", "path to the callbridge configuration file")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "check-ami",
			Short: "Verify the configured PBX host:port is reachable",
			Run:   runCheckAMI,
		},
		&cobra.Command{
			Use:   "check-crm",
			Short: "Test-ping the CRM webhook with user.get",
			Run:   runCheckCRM,
		},
		&cobra.Command{
			Use:   "queues",
			Short: "Dump the configured queue name, deal-category and lead-target maps",
			Run:   runQueues,
		},
		&cobra.Command{
			Use:   "bindings",
			Short: "Dump the configured per-entity-kind binding policy",
			Run:   runBindings,
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func loadConfigOrExit() *config.Provider {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("loading %s: %v\n", configPath, err)
		os.Exit(1)
	}
	return cfg
}

func runCheckAMI(cmd *cobra.Command, args []string) {
	cfg := loadConfigOrExit()
	addr := cfg.AMI.Address()
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		fmt.Printf("AMI %s: unreachable: %v\n", addr, err)
		os.Exit(1)
	}
	conn.Close()
	fmt.Printf("AMI %s: reachable\n", addr)
}

func runCheckCRM(cmd *cobra.Command, args []string) {
	cfg := loadConfigOrExit()
	gateway := crm.New(&cfg.Bitrix24, cfg.Daemon.CRMRatePerSecond)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Bitrix24.RequestTimeout)
	defer cancel()

	id, err := gateway.LookupUserByInternalExt(ctx, "0")
	if err != nil {
		fmt.Printf("CRM webhook %s: error: %v\n", cfg.Bitrix24.WebhookURL, err)
		os.Exit(1)
	}
	fmt.Printf("CRM webhook %s: reachable (user.get responded, ext 0 -> %q)\n", cfg.Bitrix24.WebhookURL, id)
}

func runQueues(cmd *cobra.Command, args []string) {
	cfg := loadConfigOrExit()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "QUEUE\tLABEL\tDEAL CATEGORIES\tLEAD TARGETS")
	fmt.Fprintln(w, "-----\t-----\t---------------\t------------")
	for queueID, label := range cfg.QueueNames {
		fmt.Fprintf(w, "%s\t%s\t%v\t%v\n", queueID, label, cfg.QueueDealCategories[queueID], cfg.QueueLeadTargets[queueID])
	}
	w.Flush()
}

func runBindings(cmd *cobra.Command, args []string) {
	cfg := loadConfigOrExit()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ENTITY KIND\tPOLICY")
	fmt.Fprintln(w, "-----------\t------")
	for kind, mode := range cfg.BindingPolicy {
		fmt.Fprintf(w, "%s\t%s\n", kind, mode)
	}
	w.Flush()
}
