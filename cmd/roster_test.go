package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cohort/internal/models"
)

func sampleRecords() []models.ProjectRecord {
	return []models.ProjectRecord{
		{IndexNo: "204001A", StudentName: "Alice", ResearchArea: "Deep Learning"},
		{IndexNo: "204002B", StudentName: "Bob", ResearchArea: "Computer Vision"},
		{IndexNo: "204003C", StudentName: "Carol", ResearchArea: "NLP"},
	}
}

func TestSelectRecords_NoArgsSelectsAll(t *testing.T) {
	records := sampleRecords()

	out, err := selectRecords(records, nil)
	require.NoError(t, err)
	assert.Len(t, out, 3)
}

func TestSelectRecords_Subset(t *testing.T) {
	records := sampleRecords()

	out, err := selectRecords(records, []string{"204003C", "204001A"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "204003C", out[0].IndexNo)
	assert.Equal(t, "204001A", out[1].IndexNo)
}

func TestSelectRecords_UnknownIndex(t *testing.T) {
	records := sampleRecords()

	_, err := selectRecords(records, []string{"999999X"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "999999X")
}
