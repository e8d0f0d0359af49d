// File: internal/captcha/pipeline_test.go
package captcha

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPipeline() *Pipeline {
	return &Pipeline{logger: zap.NewNop()}
}

func TestAttemptLoopSolvesFirstTry(t *testing.T) {
	p := newTestPipeline()

	res, err := p.attemptLoop(context.Background(), 2, func(ctx context.Context, n int) (Method, string, error) {
		return MethodCheckbox, "token-abc", nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSolved, res.Status)
	assert.Equal(t, MethodCheckbox, res.Method)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "token-abc", res.Token)
}

func TestAttemptLoopRetriesThenSolves(t *testing.T) {
	p := newTestPipeline()

	calls := 0
	res, err := p.attemptLoop(context.Background(), 3, func(ctx context.Context, n int) (Method, string, error) {
		calls++
		if n < 3 {
			return MethodNone, "", errors.New("rejected")
		}
		return MethodAudio, "token-xyz", nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, StatusSolved, res.Status)
	assert.Equal(t, 3, res.Attempts)
}

func TestAttemptLoopExhausted(t *testing.T) {
	p := newTestPipeline()

	calls := 0
	res, err := p.attemptLoop(context.Background(), 2, func(ctx context.Context, n int) (Method, string, error) {
		calls++
		return MethodNone, "", errors.New("rejected")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	// The budget is a hard ceiling.
	assert.Equal(t, 2, calls)
	assert.Equal(t, StatusExhausted, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.False(t, res.Solved())
}

func TestAttemptLoopNoTokenCountsAsFailure(t *testing.T) {
	p := newTestPipeline()

	res, err := p.attemptLoop(context.Background(), 1, func(ctx context.Context, n int) (Method, string, error) {
		return MethodCheckbox, "", nil
	})
	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, StatusExhausted, res.Status)
}

func TestAttemptLoopHonorsCancellation(t *testing.T) {
	p := newTestPipeline()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.attemptLoop(ctx, 5, func(ctx context.Context, n int) (Method, string, error) {
		t.Fatal("attempt must not run after cancellation")
		return MethodNone, "", nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEntryForAttempt(t *testing.T) {
	cases := []struct {
		name          string
		attempt       int
		challengeOpen bool
		want          string
	}{
		{"first attempt clicks checkbox", 1, false, entryCheckbox},
		{"first attempt clicks even with challenge open", 1, true, entryCheckbox},
		{"retry without challenge clicks checkbox", 2, false, entryCheckbox},
		{"retry with open challenge reloads it", 2, true, entryReload},
		{"later retries with open challenge reload it", 3, true, entryReload},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, entryForAttempt(tc.attempt, tc.challengeOpen))
		})
	}
}

func TestCheckboxVerified(t *testing.T) {
	// Checked with no challenge frame open is the only solved reading.
	assert.True(t, checkboxVerified(true, false))
	assert.False(t, checkboxVerified(true, true))
	assert.False(t, checkboxVerified(false, false))
	assert.False(t, checkboxVerified(false, true))
}

func TestSolveResultSolved(t *testing.T) {
	assert.True(t, SolveResult{Status: StatusSolved}.Solved())
	assert.False(t, SolveResult{Status: StatusExhausted}.Solved())
	assert.False(t, SolveResult{Status: StatusNotPresent}.Solved())
}

func TestIsAudioResponse(t *testing.T) {
	assert.True(t, isAudioResponse("audio/mpeg", "https://example.com/whatever"))
	assert.True(t, isAudioResponse("application/octet-stream", "https://example.com/payload?audio=1"))
	assert.False(t, isAudioResponse("text/html", "https://example.com/page"))
}
