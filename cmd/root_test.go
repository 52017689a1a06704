package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	require.Contains(t, names, "audit")
	require.Contains(t, names, "robots")
	require.Contains(t, names, "serve")
}

func TestAuditCommandFlags(t *testing.T) {
	cmd := newAuditCmd()

	engine, err := cmd.Flags().GetString("engine")
	require.NoError(t, err)
	require.Equal(t, engineAgent, engine)

	require.NotNil(t, cmd.Flags().Lookup("max-pages"))
	require.NotNil(t, cmd.Flags().Lookup("scope"))
	require.NotNil(t, cmd.Flags().Lookup("screenshots"))
	require.NotNil(t, cmd.Flags().Lookup("attended"))

	// A URL argument is required.
	require.Error(t, cmd.Args(cmd, nil))
	require.NoError(t, cmd.Args(cmd, []string{"https://example.com"}))
}
