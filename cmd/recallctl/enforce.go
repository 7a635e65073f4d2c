package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mnemolabs/recalld/internal/enforcement"
	"github.com/mnemolabs/recalld/internal/tenant"
)

var (
	enforceActor  string
	enforceReason string
)

var enforceCmd = &cobra.Command{
	Use:   "enforce",
	Short: "Manage a tenant's enforcement phase",
	Long: `Walk a tenant through isolation enforcement: pending -> shadow ->
enforcing -> complete. Shadow audits would-be violations without
blocking; enforcing blocks and filters. Rollbacks are allowed from any
phase except complete and require a reason.`,
}

var enforceStatusCmd = &cobra.Command{
	Use:   "status <tenant-id>",
	Short: "Show the current phase",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnforceStatus,
}

var enforceAdvanceCmd = &cobra.Command{
	Use:   "advance <tenant-id> <phase>",
	Short: "Advance to the next phase",
	Long: `Advance a tenant one step forward. Skipping a step is rejected.

Examples:
  recallctl enforce advance team-alpha shadow --actor ops
  recallctl enforce advance team-alpha enforcing --actor ops --reason "audit clean for 7 days"`,
	Args: cobra.ExactArgs(2),
	RunE: runEnforceAdvance,
}

var enforceRollbackCmd = &cobra.Command{
	Use:   "rollback <tenant-id> <phase>",
	Short: "Roll back to an earlier phase",
	Args:  cobra.ExactArgs(2),
	RunE:  runEnforceRollback,
}

var enforceHistoryCmd = &cobra.Command{
	Use:   "history <tenant-id>",
	Short: "Show phase transitions, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnforceHistory,
}

func init() {
	for _, c := range []*cobra.Command{enforceAdvanceCmd, enforceRollbackCmd} {
		c.Flags().StringVar(&enforceActor, "actor", "recallctl", "operator recorded with the transition")
		c.Flags().StringVar(&enforceReason, "reason", "", "why the phase is changing")
	}
	_ = enforceRollbackCmd.MarkFlagRequired("reason")

	enforceCmd.AddCommand(enforceStatusCmd, enforceAdvanceCmd, enforceRollbackCmd, enforceHistoryCmd)
	rootCmd.AddCommand(enforceCmd)
}

func runEnforceStatus(cmd *cobra.Command, args []string) error {
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

	phase, err := store.Phases().PhaseOf(ctx, store.Pool(), id)
	if err != nil {
		return err
	}
	printKV("tenant", string(id))
	printKV("phase", phaseStyled(string(phase)))
	return nil
}

func runEnforceAdvance(cmd *cobra.Command, args []string) error {
	return runEnforceTransition(cmd, args, false)
}

func runEnforceRollback(cmd *cobra.Command, args []string) error {
	return runEnforceTransition(cmd, args, true)
}

func runEnforceTransition(cmd *cobra.Command, args []string, rollback bool) error {
	ctx, cancel := cmdContext(cmd)
	defer cancel()

	id, err := tenant.ParseID(args[0])
	if err != nil {
		return err
	}
	phase, err := enforcement.ParsePhase(args[1])
	if err != nil {
		return err
	}

	store, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	var tr enforcement.Transition
	if rollback {
		tr, err = store.Phases().ForceRollback(ctx, id, phase, enforceActor, enforceReason)
	} else {
		tr, err = store.Phases().Advance(ctx, id, phase, enforceActor, enforceReason)
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s %s: %s -> %s\n", okStyle.Render("transitioned"), id,
		phaseStyled(string(tr.From)), phaseStyled(string(tr.To)))
	return nil
}

func runEnforceHistory(cmd *cobra.Command, args []string) error {
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

	history, err := store.Phases().History(ctx, store.Pool(), id)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Println(dimStyle.Render("no transitions recorded for " + string(id)))
		return nil
	}

	// Table cells stay unstyled; ANSI escapes would throw off the widths.
	fmt.Println(titleStyle.Render(fmt.Sprintf("%-20s %-11s %-11s %-16s %s", "AT", "FROM", "TO", "ACTOR", "REASON")))
	for _, tr := range history {
		fmt.Printf("%-20s %-11s %-11s %-16s %s\n",
			formatTime(tr.At), tr.From, tr.To, tr.Actor, tr.Reason)
	}
	return nil
}
