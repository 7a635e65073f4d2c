package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mnemolabs/recalld/internal/tenant"
)

var (
	tenantLevel       string
	tenantDisplayName string
	tenantDeleteForce bool
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants",
}

var tenantCreateCmd = &cobra.Command{
	Use:   "create <tenant-id>",
	Short: "Register a tenant",
	Long: `Register a tenant at an access level. New tenants start in the
pending enforcement phase; walk them forward with "recallctl enforce".

Examples:
  recallctl tenant create team-alpha --level isolated
  recallctl tenant create platform --level super --name "Platform Eng"`,
	Args: cobra.ExactArgs(1),
	RunE: runTenantCreate,
}

var tenantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tenants with level and phase",
	Args:  cobra.NoArgs,
	RunE:  runTenantList,
}

var tenantShowCmd = &cobra.Command{
	Use:   "show <tenant-id>",
	Short: "Show one tenant",
	Args:  cobra.ExactArgs(1),
	RunE:  runTenantShow,
}

var tenantSetLevelCmd = &cobra.Command{
	Use:   "set-level <tenant-id>",
	Short: "Change a tenant's access level",
	Args:  cobra.ExactArgs(1),
	RunE:  runTenantSetLevel,
}

var tenantDeleteCmd = &cobra.Command{
	Use:   "delete <tenant-id>",
	Short: "Delete a tenant and its rows",
	Long: `Delete a tenant. Without --force the tenant must hold no memories,
nodes, or grants.`,
	Args: cobra.ExactArgs(1),
	RunE: runTenantDelete,
}

func init() {
	tenantCreateCmd.Flags().StringVar(&tenantLevel, "level", "isolated", "access level: super, shared, or isolated")
	tenantCreateCmd.Flags().StringVar(&tenantDisplayName, "name", "", "human-readable display name")
	tenantSetLevelCmd.Flags().StringVar(&tenantLevel, "level", "", "access level: super, shared, or isolated")
	_ = tenantSetLevelCmd.MarkFlagRequired("level")
	tenantDeleteCmd.Flags().BoolVar(&tenantDeleteForce, "force", false, "delete even when the tenant still owns rows")

	tenantCmd.AddCommand(tenantCreateCmd, tenantListCmd, tenantShowCmd, tenantSetLevelCmd, tenantDeleteCmd)
	rootCmd.AddCommand(tenantCmd)
}

func runTenantCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext(cmd)
	defer cancel()

	id, err := tenant.ParseID(args[0])
	if err != nil {
		return err
	}
	level, err := tenant.ParseAccessLevel(tenantLevel)
	if err != nil {
		return err
	}

	store, svc, err := openRegistry(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	created, err := svc.CreateTenant(ctx, id, tenantDisplayName, level)
	if err != nil {
		return err
	}

	fmt.Println(okStyle.Render("created ") + string(created.ID))
	printKV("level", string(created.Level))
	printKV("phase", phaseStyled(string(created.Phase)))
	return nil
}

func runTenantList(cmd *cobra.Command, _ []string) error {
	ctx, cancel := cmdContext(cmd)
	defer cancel()

	store, svc, err := openRegistry(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	tenants, err := svc.ListTenants(ctx)
	if err != nil {
		return err
	}
	if len(tenants) == 0 {
		fmt.Println(dimStyle.Render("no tenants registered"))
		return nil
	}

	// Table cells stay unstyled; ANSI escapes would throw off the widths.
	fmt.Println(titleStyle.Render(fmt.Sprintf("%-32s %-10s %-10s %-20s %s", "TENANT", "LEVEL", "PHASE", "CREATED", "NAME")))
	for _, t := range tenants {
		fmt.Printf("%-32s %-10s %-10s %-20s %s\n",
			t.ID, t.Level, t.Phase, formatTime(t.CreatedAt), t.DisplayName)
	}
	return nil
}

func runTenantShow(cmd *cobra.Command, args []string) error {
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

	t, err := svc.GetTenant(ctx, id)
	if err != nil {
		return err
	}
	grants, err := svc.ListGrants(ctx, id)
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render(string(t.ID)))
	printKV("name", t.DisplayName)
	printKV("level", string(t.Level))
	printKV("phase", phaseStyled(string(t.Phase)))
	printKV("created", formatTime(t.CreatedAt))
	if len(grants) > 0 {
		fmt.Println(labelStyle.Render("grants:"))
		for _, g := range grants {
			arrow := "reads from"
			other := g.Grant.Grantor
			if g.Grant.Grantor == id {
				arrow = "readable by"
				other = g.Grant.Grantee
			}
			fmt.Printf("  %s %s %s\n", arrow, other, dimStyle.Render("since "+formatTime(g.CreatedAt)))
		}
	}
	return nil
}

func runTenantSetLevel(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext(cmd)
	defer cancel()

	id, err := tenant.ParseID(args[0])
	if err != nil {
		return err
	}
	level, err := tenant.ParseAccessLevel(tenantLevel)
	if err != nil {
		return err
	}

	store, svc, err := openRegistry(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := svc.SetAccessLevel(ctx, id, level); err != nil {
		return err
	}
	fmt.Println(okStyle.Render("updated ") + string(id) + " to " + string(level))
	return nil
}

func runTenantDelete(cmd *cobra.Command, args []string) error {
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

	if err := svc.DeleteTenant(ctx, id, tenantDeleteForce); err != nil {
		return err
	}
	fmt.Println(okStyle.Render("deleted ") + string(id))
	return nil
}
