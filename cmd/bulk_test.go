package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cohort/internal/bulk"
	"cohort/internal/models"
)

func TestNormalizeOp(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "folders", want: bulk.OpFolders},
		{in: "issues", want: bulk.OpIssues},
		{in: "invites", want: bulk.OpInvitations},
		{in: "invitations", want: bulk.OpInvitations},
		{in: "progress", want: bulk.OpProgress},
		{in: "reports", want: bulk.OpReports},
		{in: "bogus", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := normalizeOp(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestKeysOfAndRecordIndex(t *testing.T) {
	records := sampleRecords()

	keys := keysOf(records)
	assert.Equal(t, []string{"204001A", "204002B", "204003C"}, keys)

	byIndex := recordIndex(records)
	require.Len(t, byIndex, 3)
	assert.Equal(t, "Bob", byIndex["204002B"].StudentName)
}

func TestRunDuration(t *testing.T) {
	started := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	ended := started.Add(95 * time.Second)

	run := &models.BulkRun{StartedAt: started, EndedAt: &ended}
	assert.Equal(t, 95*time.Second, runDuration(run))

	assert.Equal(t, time.Duration(0), runDuration(&models.BulkRun{StartedAt: started}))
}
