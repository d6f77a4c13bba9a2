package parser

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestParseManualFile_HappyPath(t *testing.T) {
	content := "" +
		"# comment line, should be skipped\n" +
		"\n" +
		"1,FG-LFT-DCR1,FG100,A,B200,jdoe,03/14/2026,12:00:00,100,PASS,1.0,1.5,2.0,OHM\n" +
		"2,FG-LFT-DCR1,FG100,A,B200,jdoe,03/14/2026,12:01:00,101,FAIL,1.0,0.5,2.0,OHM\n"

	path := writeTempFile(t, "manual.csv", content)

	results, rowErrors, err := ParseManualFile(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, rowErrors)
	require.Len(t, results, 2)

	assert.Equal(t, 1, results[0].Result)
	assert.Equal(t, "FG-LFT-DCR1", results[0].Test)
	assert.Equal(t, "100", results[0].SN)
	assert.Equal(t, "PASS", results[0].PassFail)
	assert.Equal(t, "OHM", results[0].UOM)
}

func TestParseManualFile_ShortRowLoggedAndSkipped(t *testing.T) {
	content := "1,FG-LFT-DCR1,FG100,A,B200,jdoe,03/14/2026,12:00:00,100,PASS\n" +
		"2,FG-LFT-DCR1,FG100,A,B200,jdoe,03/14/2026,12:01:00,101,FAIL,1.0,0.5,2.0,OHM\n"

	path := writeTempFile(t, "manual_short.csv", content)

	results, rowErrors, err := ParseManualFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, rowErrors, 1)
	assert.Equal(t, 1, rowErrors[0].LineNumber)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].Result)
}
