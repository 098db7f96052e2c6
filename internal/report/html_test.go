package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateHTMLString(t *testing.T) {
	html, err := GenerateHTMLString(sampleResult(t, true))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(html, "<!DOCTYPE html>"))
	assert.Contains(t, html, "<title>surge-pricing - Load Test Report</title>")
	assert.Contains(t, html, `<span class="badge pass">PASSED</span>`)
	assert.Contains(t, html, "run-123")
	assert.Contains(t, html, "GET /price")
	assert.Contains(t, html, "1,000")
	assert.Contains(t, html, "200=990 503=10")
	assert.Contains(t, html, "p(95)&lt;100", "expressions are escaped")
	assert.Contains(t, html, "has finalPrice")
	assert.Contains(t, html, `class="bar"`)
	assert.NotContains(t, html, "<script")
}

func TestGenerateHTMLString_Failed(t *testing.T) {
	html, err := GenerateHTMLString(sampleResult(t, false))
	require.NoError(t, err)

	assert.Contains(t, html, `<span class="badge fail">FAILED</span>`)
	assert.Contains(t, html, "rate&lt;0.01")
	assert.Contains(t, html, `class="warn">3</td>`, "dropped slots are highlighted")
}

func TestGenerateHTMLString_Nil(t *testing.T) {
	_, err := GenerateHTMLString(nil)
	assert.Error(t, err)
}

func TestGenerateHTML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "run.html")
	require.NoError(t, GenerateHTML(sampleResult(t, true), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "surge-pricing")
}

func TestHTMLHelpers(t *testing.T) {
	assert.Equal(t, "0%", barWidth(5, 0))
	assert.Equal(t, "50.0%", barWidth(5, 10))
	assert.Equal(t, int64(7), peakCount([]BucketDoc{{Count: 3}, {Count: 7}, {Count: 1}}))
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.50 KB", formatBytes(1536))
	assert.Equal(t, "2.00 MB", formatBytes(2*1024*1024))

	statuses := sortedStatuses(map[string]int64{"503": 1, "200": 9})
	require.Len(t, statuses, 2)
	assert.Equal(t, "200", statuses[0].Code)
}
