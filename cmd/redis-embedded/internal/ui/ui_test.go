package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummary(t *testing.T) {
	var out bytes.Buffer
	u := NewWithWriters(&out, &out)

	u.Summary("cache", "sentinel", []Member{
		{Role: "redis-server", Ports: []int{6379}, PID: 4242},
		{Role: "redis-sentinel", Ports: []int{26379}},
	})

	got := out.String()
	assert.Contains(t, got, "cache")
	assert.Contains(t, got, "redis-sentinel")
	assert.Contains(t, got, "6379")
	assert.Contains(t, got, "4242")
	assert.Contains(t, got, "26379")
}

func TestErrorGoesToErrStream(t *testing.T) {
	var out, errOut bytes.Buffer
	u := NewWithWriters(&out, &errOut)

	u.Error("port 6379 in use")
	u.KeyValue("platform", "linux-amd64")

	assert.Contains(t, errOut.String(), "port 6379 in use")
	assert.NotContains(t, out.String(), "port 6379 in use")
	assert.Contains(t, out.String(), "linux-amd64")
}

func TestJoinPorts(t *testing.T) {
	assert.Equal(t, "7000,7001,7002", joinPorts([]int{7000, 7001, 7002}))
	assert.Empty(t, joinPorts(nil))
}
