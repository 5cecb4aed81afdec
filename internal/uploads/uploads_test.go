package uploads

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockHead - mock HeadObject.
type mockHead struct {
	objects map[string]bool
	err     error
	calls   []string
}

func (m *mockHead) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.calls = append(m.calls, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	if m.err != nil {
		return nil, m.err
	}
	if m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] {
		return &s3.HeadObjectOutput{}, nil
	}
	return nil, &s3types.NotFound{}
}

func TestS3CheckerExists(t *testing.T) {
	head := &mockHead{objects: map[string]bool{
		"results/batch-1.csv": true,
		"other/x.csv":         true,
	}}
	c := newS3Checker(head, "results", 0, slog.Default())

	tests := []struct {
		ref  string
		want bool
	}{
		{"batch-1.csv", true},
		{"/batch-1.csv", true},
		{"s3://other/x.csv", true},
		{"missing.csv", false},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			ok, err := c.Exists(context.Background(), tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestS3CheckerInvalidRef(t *testing.T) {
	c := newS3Checker(&mockHead{}, "results", 0, slog.Default())

	for _, ref := range []string{"", "  ", "s3://", "s3://bucket", "s3://bucket/"} {
		_, err := c.Exists(context.Background(), ref)
		assert.Error(t, err, "ref %q", ref)
	}
}

func TestS3CheckerStorageError(t *testing.T) {
	head := &mockHead{err: errors.New("connection refused")}
	c := newS3Checker(head, "results", 0, slog.Default())

	ok, err := c.Exists(context.Background(), "batch-1.csv")
	assert.False(t, ok)
	assert.ErrorContains(t, err, "connection refused")
}

func TestNoop(t *testing.T) {
	ok, err := Noop{}.Exists(context.Background(), "anything")
	require.NoError(t, err)
	assert.True(t, ok)
}
