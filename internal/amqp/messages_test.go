package amqp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobs(t *testing.T) {
	job := NewCategorizeJob("TXN1", "Coffee Shop", 0)
	assert.Equal(t, KindCategorizeTransaction, job.Kind)
	assert.Equal(t, DefaultAttempts, job.Attempts)
	assert.Equal(t, 1, job.Attempt)
	assert.NotEmpty(t, job.ID)

	file := NewFileJob("/uploads/a.csv", 5)
	assert.Equal(t, KindProcessFile, file.Kind)
	assert.Equal(t, 5, file.Attempts)
	assert.NotEqual(t, job.ID, file.ID)
}

func TestJob_WireShape(t *testing.T) {
	data, err := NewCategorizeJob("TXN1", "Coffee Shop", 3).ToJSON()
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "categorize_transaction", body["kind"])
	assert.Equal(t, "TXN1", body["transactionId"])
	assert.Equal(t, "Coffee Shop", body["description"])
	assert.EqualValues(t, 3, body["attempts"])
	assert.NotContains(t, body, "filePath")

	data, err = NewFileJob("/uploads/abc.csv", 3).ToJSON()
	require.NoError(t, err)
	body = map[string]any{}
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "process_file", body["kind"])
	assert.Equal(t, "/uploads/abc.csv", body["filePath"])
	assert.NotContains(t, body, "transactionId")
}

func TestJobFromJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    Job
		wantErr bool
	}{
		{
			name: "tagged categorize job",
			body: `{"kind":"categorize_transaction","transactionId":"TXN1","description":"Coffee Shop","attempts":3}`,
			want: Job{Kind: KindCategorizeTransaction, TransactionID: "TXN1", Description: "Coffee Shop", Attempts: 3, Attempt: 1},
		},
		{
			name: "tagged file job",
			body: `{"kind":"process_file","filePath":"/uploads/abc.csv","attempts":3}`,
			want: Job{Kind: KindProcessFile, FilePath: "/uploads/abc.csv", Attempts: 3, Attempt: 1},
		},
		{
			name: "untagged single transaction",
			body: `{"transactionId":"TXN2","description":"Bakery"}`,
			want: Job{Kind: KindCategorizeTransaction, TransactionID: "TXN2", Description: "Bakery", Attempts: DefaultAttempts, Attempt: 1},
		},
		{
			name: "untagged file",
			body: `{"filePath":"/uploads/x.csv"}`,
			want: Job{Kind: KindProcessFile, FilePath: "/uploads/x.csv", Attempts: DefaultAttempts, Attempt: 1},
		},
		{name: "neither shape", body: `{"description":"orphan"}`, wantErr: true},
		{name: "both shapes untagged", body: `{"transactionId":"T","filePath":"/f"}`, wantErr: true},
		{name: "unknown kind", body: `{"kind":"refund","transactionId":"T"}`, wantErr: true},
		{name: "kind without payload", body: `{"kind":"process_file"}`, wantErr: true},
		{name: "not json", body: `{{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := JobFromJSON([]byte(tt.body))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedJob)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJob_RoundTripKeepsIdentity(t *testing.T) {
	job := NewCategorizeJob("TXN9", "Gym", 4)
	data, err := job.ToJSON()
	require.NoError(t, err)

	got, err := JobFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, job, got)
}

func TestJob_AttemptBudget(t *testing.T) {
	job := NewFileJob("/f.csv", 3)
	assert.False(t, job.Exhausted())

	job = job.Next()
	assert.Equal(t, 2, job.Attempt)
	assert.False(t, job.Exhausted())

	job = job.Next()
	assert.True(t, job.Exhausted())
}
