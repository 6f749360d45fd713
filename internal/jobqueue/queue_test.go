package jobqueue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueue_ListAndStatusKeys(t *testing.T) {
	q := &Queue{prefix: "motiond"}
	assert.Equal(t, "motiond:jobs:pending", q.listKey())
	assert.Equal(t, "motiond:jobs:status:abc-123", q.statusKey("abc-123"))
}

func TestConfig_ZeroValueKeyPrefixIsEmpty(t *testing.T) {
	cfg := Config{}
	assert.Equal(t, "", cfg.KeyPrefix) // New applies the "motiond" default; can't connect here without a server
}

func TestJob_MarshalRoundTrip(t *testing.T) {
	job := Job{
		ID:       "job-1",
		Filename: "part.nc",
		Body:     "G1 X10\nG1 Y10\n",
		Status:   StatusPending,
	}

	data, err := json.Marshal(job)
	assert.NoError(t, err)

	var decoded Job
	assert.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, job.ID, decoded.ID)
	assert.Equal(t, job.Filename, decoded.Filename)
	assert.Equal(t, job.Body, decoded.Body)
	assert.Equal(t, StatusPending, decoded.Status)
}
