package s3

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "runs/abc/decompiled/pkg/mod.py", ObjectKey("runs/abc", "decompiled/pkg/mod.py"))
	assert.Equal(t, "runs/abc/report.json", ObjectKey("/runs/abc/", "report.json"))
	assert.Equal(t, "report.json", ObjectKey("", "report.json"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", ContentType("report.json"))
	assert.Equal(t, "application/x-ndjson", ContentType("audit.ndjson"))
	assert.Equal(t, "text/plain; charset=utf-8", ContentType("mod.PY"))
	assert.Equal(t, "application/octet-stream", ContentType("mod.marshaled"))
}

func TestNewDoesNotDial(t *testing.T) {
	c, err := New("localhost:9000", "key", "secret", "us-east-1", false)
	require.NoError(t, err)
	p := NewPublisher(c, "reports")
	assert.Equal(t, "reports", p.bucket)
	assert.Equal(t, "runs/r1", RunPrefix("r1"))
}
