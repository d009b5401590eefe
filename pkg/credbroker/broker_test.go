package credbroker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSTS hands out a distinct access key per AssumeRole call so tests can
// tell a refresh from a cache hit.
type fakeSTS struct {
	mu       sync.Mutex
	calls    int
	sessions []string
	ttl      time.Duration
	err      error
}

func (f *fakeSTS) AssumeRole(_ context.Context, in *sts.AssumeRoleInput, _ ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sessions = append(f.sessions, aws.ToString(in.RoleSessionName))
	if f.err != nil {
		return nil, f.err
	}
	return &sts.AssumeRoleOutput{
		Credentials: &ststypes.Credentials{
			AccessKeyId:     aws.String(fmt.Sprintf("AKIA-TEST-%d", f.calls)),
			SecretAccessKey: aws.String("secret"),
			SessionToken:    aws.String("token"),
			Expiration:      aws.Time(time.Now().Add(f.ttl)),
		},
	}, nil
}

func (f *fakeSTS) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestBroker(t *testing.T, stsClient *fakeSTS) *Broker {
	t.Helper()
	b, err := New(stsClient, Config{RoleARN: "arn:aws:iam::123456789012:role/vendor-read"})
	require.NoError(t, err)
	return b
}

func TestNewRequiresRoleARN(t *testing.T) {
	_, err := New(&fakeSTS{}, Config{})
	assert.Error(t, err)

	_, err = New(nil, Config{RoleARN: "arn:aws:iam::123456789012:role/x"})
	assert.Error(t, err)
}

func TestRetrieveCaches(t *testing.T) {
	stsClient := &fakeSTS{ttl: time.Hour}
	b := newTestBroker(t, stsClient)

	creds, err := b.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIA-TEST-1", creds.AccessKeyID)
	assert.True(t, creds.CanExpire)

	again, err := b.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIA-TEST-1", again.AccessKeyID)
	assert.Equal(t, 1, stsClient.callCount())

	assert.True(t, strings.HasPrefix(stsClient.sessions[0], "mobsync-"))
}

func TestRetrieveRefreshesInsideMargin(t *testing.T) {
	// Expiry lands 4 minutes out, inside the 5 minute margin, so every
	// Retrieve goes back to STS.
	stsClient := &fakeSTS{ttl: 4 * time.Minute}
	b := newTestBroker(t, stsClient)

	_, err := b.Retrieve(context.Background())
	require.NoError(t, err)
	_, err = b.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stsClient.callCount())
}

func TestInvalidateForcesRefresh(t *testing.T) {
	stsClient := &fakeSTS{ttl: time.Hour}
	b := newTestBroker(t, stsClient)

	first, err := b.Retrieve(context.Background())
	require.NoError(t, err)

	b.Invalidate()

	second, err := b.Retrieve(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessKeyID, second.AccessKeyID)
	assert.Equal(t, 2, stsClient.callCount())
}

// The S3 client holds whatever provider the AWS config loader resolved, so
// invalidation has to reach that provider, not just the broker's own state.
// This drives Retrieve through the loaded config the way the sync command
// wires it.
func TestInvalidateReachesLoadedConfigCredentials(t *testing.T) {
	stsClient := &fakeSTS{ttl: time.Hour}
	b := newTestBroker(t, stsClient)

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(b.Provider()),
	)
	require.NoError(t, err)

	first, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIA-TEST-1", first.AccessKeyID)

	b.Invalidate()

	second, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIA-TEST-2", second.AccessKeyID)
	assert.Equal(t, 2, stsClient.callCount())
}

func TestRetrieveSurfacesAssumeRoleError(t *testing.T) {
	stsClient := &fakeSTS{err: errors.New("AccessDenied: not authorized")}
	b := newTestBroker(t, stsClient)

	_, err := b.Retrieve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assume role")
}

func TestConcurrentRetrievesAssumeOnce(t *testing.T) {
	stsClient := &fakeSTS{ttl: time.Hour}
	b := newTestBroker(t, stsClient)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Retrieve(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, stsClient.callCount())
}
