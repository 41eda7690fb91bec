package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dspace-submission-composer/internal/monitoring"
	"github.com/sells-group/dspace-submission-composer/internal/submission"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"reconcile", "create", "sync", "submit", "finalize", "status"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "dsc", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRootCommand_PersistentFlags(t *testing.T) {
	tests := []struct {
		name      string
		shorthand string
	}{
		{"workflow-name", "w"},
		{"batch-id", "b"},
		{"verbose", "v"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := rootCmd.PersistentFlags().Lookup(tt.name)
			require.NotNil(t, flag)
			assert.Equal(t, tt.shorthand, flag.Shorthand)
		})
	}
}

func TestCreateCommand_Flags(t *testing.T) {
	for _, name := range []string{"sync-data", "sync-dry-run", "sync-source", "sync-destination", "email-recipients", "ids-file"} {
		assert.NotNil(t, createCmd.Flags().Lookup(name), "create should have --%s flag", name)
	}
	assert.Equal(t, "false", createCmd.Flags().Lookup("sync-data").DefValue)
	assert.Equal(t, "s", createCmd.Flags().Lookup("sync-source").Shorthand)
	assert.Equal(t, "d", createCmd.Flags().Lookup("sync-destination").Shorthand)
}

func TestSubmitCommand_RequiresCollectionHandle(t *testing.T) {
	flag := submitCmd.Flags().Lookup("collection-handle")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
	assert.Equal(t, []string{"true"}, flag.Annotations["cobra_annotation_bash_completion_one_required_flag"])
}

func TestFinalizeCommand_RequiresRecipients(t *testing.T) {
	flag := finalizeCmd.Flags().Lookup("email-recipients")
	require.NotNil(t, flag)
	assert.Equal(t, "e", flag.Shorthand)
	assert.Equal(t, []string{"true"}, flag.Annotations["cobra_annotation_bash_completion_one_required_flag"])
}

func TestSyncCommand_Flags(t *testing.T) {
	for _, name := range []string{"source", "destination", "dry-run"} {
		assert.NotNil(t, syncCmd.Flags().Lookup(name), "sync should have --%s flag", name)
	}
}

func TestFormatStatus(t *testing.T) {
	run := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	snap := monitoring.Summarize("sccs", "batch-aaa", []*submission.Item{
		{ItemIdentifier: "123", Status: submission.StatusIngestSuccess, SubmitAttempts: 1, IngestAttempts: 1, DSpaceHandle: "1721.1/9", LastRunDate: &run},
		{ItemIdentifier: "456"},
	})

	var buf bytes.Buffer
	formatStatus(&buf, snap)
	out := buf.String()

	assert.Contains(t, out, "ITEM")
	assert.Contains(t, out, "1721.1/9")
	assert.Contains(t, out, "2025-03-04 05:06:07")
	assert.Contains(t, out, "2 item(s) in batch batch-aaa")
	assert.Contains(t, out, "ingest_success")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
