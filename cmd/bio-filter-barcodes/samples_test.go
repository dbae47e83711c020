package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/cellfilter/barcode"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProbeDefs(t *testing.T) {
	defs, err := parseProbeDefs(strings.NewReader("sample_id\tprobe_barcode_ids\nS1\tAA, AC\nS2\tall\n"), 16, 8)
	require.NoError(t, err)
	assert.Equal(t, []barcode.ProbeDef{
		{SampleID: "S1", Sequences: []string{"AA", "AC"}, Offset: 16, Length: 8},
		{SampleID: "S2", Sequences: []string{"all"}, Offset: 16, Length: 8},
	}, defs)
	assert.True(t, defs[1].MatchesAll())

	for _, bad := range []string{
		"sample_id\tprobe_barcode_ids\nS1\tAA\nS1\tAC\n",
		"sample_id\tprobe_barcode_ids\nS1\t\n",
		"sample_id\tprobe_barcode_ids\n\tAA\n",
		"sample\tprobes\nS1\tAA\n",
	} {
		_, err := parseProbeDefs(strings.NewReader(bad), 16, 8)
		assert.Error(t, err, bad)
	}
}

func TestReadLines(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(dir, "targets.txt")
	require.NoError(t, os.WriteFile(path, []byte("g1\n\n g2 \n"), 0644))
	lines, err := readLines(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2"}, lines)
}
