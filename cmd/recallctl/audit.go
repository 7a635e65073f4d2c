package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mnemolabs/recalld/internal/tenant"
)

var (
	auditLimit    int
	auditPruneAge time.Duration
	auditPruneYes bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect shadow-phase isolation audits",
}

var auditListCmd = &cobra.Command{
	Use:   "list <tenant-id>",
	Short: "List audit entries for an acting tenant, newest first",
	Long: `List would-be isolation violations recorded while the tenant was in
the shadow phase. Each entry names the operation and the target tenant it
would have touched under enforcement.`,
	Args: cobra.ExactArgs(1),
	RunE: runAuditList,
}

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete audit entries older than --age",
	Args:  cobra.NoArgs,
	RunE:  runAuditPrune,
}

func init() {
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "maximum entries to show")
	auditPruneCmd.Flags().DurationVar(&auditPruneAge, "age", 30*24*time.Hour, "delete entries older than this")
	auditPruneCmd.Flags().BoolVar(&auditPruneYes, "yes", false, "skip the confirmation prompt")

	auditCmd.AddCommand(auditListCmd, auditPruneCmd)
	rootCmd.AddCommand(auditCmd)
}

func runAuditList(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext(cmd)
	defer cancel()

	id, err := tenant.ParseID(args[0])
	if err != nil {
		return err
	}

	store, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Auditor().List(ctx, id, auditLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println(dimStyle.Render("no audit entries for " + string(id)))
		return nil
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("%-20s %-20s %-20s %s", "AT", "TARGET", "OPERATION", "DETAIL")))
	for _, e := range entries {
		fmt.Printf("%-20s %-20s %-20s %s\n",
			formatTime(e.At), e.TargetTenant, e.Operation, e.Detail)
	}
	fmt.Println(dimStyle.Render(fmt.Sprintf("%d entries", len(entries))))
	return nil
}

func runAuditPrune(cmd *cobra.Command, _ []string) error {
	ctx, cancel := cmdContext(cmd)
	defer cancel()

	cutoff := time.Now().Add(-auditPruneAge)
	if !auditPruneYes {
		fmt.Printf("delete audit entries older than %s? [y/N] ", formatTime(cutoff))
		var answer string
		if _, err := fmt.Scanln(&answer); err != nil || (answer != "y" && answer != "Y") {
			fmt.Println(dimStyle.Render("aborted"))
			return nil
		}
	}

	store, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	deleted, err := store.Auditor().PruneBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("%s %d entries\n", okStyle.Render("pruned"), deleted)
	return nil
}
