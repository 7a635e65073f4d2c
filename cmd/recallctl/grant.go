package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mnemolabs/recalld/internal/tenant"
)

var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Manage read grants between shared tenants",
}

var grantAddCmd = &cobra.Command{
	Use:   "add <grantor> <grantee>",
	Short: "Let grantee read grantor's rows",
	Long: `Record that grantee may read grantor's rows. Grants only take
effect for grantees at the shared access level; isolated tenants ignore
grants and super tenants do not need them.

Examples:
  recallctl grant add team-alpha team-beta`,
	Args: cobra.ExactArgs(2),
	RunE: runGrantAdd,
}

var grantRevokeCmd = &cobra.Command{
	Use:   "revoke <grantor> <grantee>",
	Short: "Remove a grant",
	Args:  cobra.ExactArgs(2),
	RunE:  runGrantRevoke,
}

var grantListCmd = &cobra.Command{
	Use:   "list <tenant-id>",
	Short: "List grants involving a tenant",
	Args:  cobra.ExactArgs(1),
	RunE:  runGrantList,
}

func init() {
	grantCmd.AddCommand(grantAddCmd, grantRevokeCmd, grantListCmd)
	rootCmd.AddCommand(grantCmd)
}

func parseGrantPair(args []string) (grantor, grantee tenant.ID, err error) {
	grantor, err = tenant.ParseID(args[0])
	if err != nil {
		return "", "", fmt.Errorf("grantor: %w", err)
	}
	grantee, err = tenant.ParseID(args[1])
	if err != nil {
		return "", "", fmt.Errorf("grantee: %w", err)
	}
	return grantor, grantee, nil
}

func runGrantAdd(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext(cmd)
	defer cancel()

	grantor, grantee, err := parseGrantPair(args)
	if err != nil {
		return err
	}

	store, svc, err := openRegistry(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := svc.Grant(ctx, grantor, grantee); err != nil {
		return err
	}
	fmt.Printf("%s %s -> %s\n", okStyle.Render("granted"), grantor, grantee)
	return nil
}

func runGrantRevoke(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext(cmd)
	defer cancel()

	grantor, grantee, err := parseGrantPair(args)
	if err != nil {
		return err
	}

	store, svc, err := openRegistry(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := svc.Revoke(ctx, grantor, grantee); err != nil {
		return err
	}
	fmt.Printf("%s %s -> %s\n", okStyle.Render("revoked"), grantor, grantee)
	return nil
}

func runGrantList(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext(cmd)
	defer cancel()

	id, err := tenant.ParseID(args[0])
	if err != nil {
		return err
	}

	store, svc, err := openRegistry(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	grants, err := svc.ListGrants(ctx, id)
	if err != nil {
		return err
	}
	if len(grants) == 0 {
		fmt.Println(dimStyle.Render("no grants for " + string(id)))
		return nil
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("%-32s %-32s %s", "GRANTOR", "GRANTEE", "SINCE")))
	for _, g := range grants {
		fmt.Printf("%-32s %-32s %s\n", g.Grant.Grantor, g.Grant.Grantee, formatTime(g.CreatedAt))
	}
	return nil
}
