package main

import (
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootRegistersCommandGroups(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"tenant", "grant", "enforce", "audit", "backfill-embeddings", "migrate"} {
		assert.True(t, names[want], "missing command %q", want)
	}
}

func TestTenantCreateRejectsBadInput(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())

	err := runTenantCreate(cmd, []string{"Bad Tenant!"})
	require.Error(t, err)

	tenantLevel = "supreme"
	t.Cleanup(func() { tenantLevel = "isolated" })
	err = runTenantCreate(cmd, []string{"team-alpha"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown access level")
}

func TestEnforceAdvanceRejectsBadPhase(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())

	err := runEnforceAdvance(cmd, []string{"team-alpha", "turbo"})
	require.Error(t, err)
}

func TestParseGrantPairNamesTheBadSide(t *testing.T) {
	_, _, err := parseGrantPair([]string{"ok-tenant", "***"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grantee")

	_, _, err = parseGrantPair([]string{"***", "ok-tenant"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grantor")

	grantor, grantee, err := parseGrantPair([]string{"team-a", "team-b"})
	require.NoError(t, err)
	assert.Equal(t, "team-a", string(grantor))
	assert.Equal(t, "team-b", string(grantee))
}
