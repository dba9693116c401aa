package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/tokenguard"
)

// memoryRuntime returns a root command bound to an in-memory runtime whose
// engine is already open, so tests can seed tokens before executing.
func memoryRuntime(t *testing.T) (*runtime, *tokenguard.Engine, func(args ...string) (string, error)) {
	t.Helper()
	rt := &runtime{}
	root := newRootCommand(rt)
	rt.memory = true
	t.Cleanup(rt.close)

	engine, err := rt.openEngine(context.Background(), loadtestVerifier())
	require.NoError(t, err)

	exec := func(args ...string) (string, error) {
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetErr(&out)
		root.SetArgs(append([]string{"--memory"}, args...))
		err := root.ExecuteContext(context.Background())
		return out.String(), err
	}
	return rt, engine, exec
}

func TestInspectAndRevokeAll(t *testing.T) {
	_, engine, exec := memoryRuntime(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := engine.Issue(ctx, "u1", nil, time.Hour)
		require.NoError(t, err)
	}

	out, err := exec("inspect", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "user=u1 active=3")
	assert.Equal(t, 3, strings.Count(out, "  active "))

	out, err = exec("revoke-all", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "user=u1 revoked=3")

	n, err := engine.ActiveTokenCount(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconcileAndSweep(t *testing.T) {
	_, engine, exec := memoryRuntime(t)
	ctx := context.Background()
	_, err := engine.Issue(ctx, "u1", nil, time.Hour)
	require.NoError(t, err)
	_, err = engine.Issue(ctx, "u2", nil, time.Hour)
	require.NoError(t, err)

	out, err := exec("reconcile", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "user=u1 scanned=1 removed=0 live=1")

	out, err = exec("reconcile-all")
	require.NoError(t, err)
	assert.Contains(t, out, "users=2 removed=0 live=2 errors=0")
}

func TestReconcileRequiresUser(t *testing.T) {
	_, _, exec := memoryRuntime(t)
	_, err := exec("reconcile")
	assert.Error(t, err)
}

func TestHealthInMemory(t *testing.T) {
	_, _, exec := memoryRuntime(t)
	out, err := exec("health")
	require.NoError(t, err)
	assert.Contains(t, out, "redis_available=true")
}

func TestBlacklistCommandsNeedPostgres(t *testing.T) {
	_, _, exec := memoryRuntime(t)
	for _, cmd := range []string{"migrate", "purge-blacklist"} {
		_, err := exec(cmd)
		assert.ErrorIs(t, err, errNoPostgres, cmd)
	}
}

func TestLoadtestSmoke(t *testing.T) {
	_, _, exec := memoryRuntime(t)
	out, err := exec("loadtest", "--users", "5", "--concurrency", "4", "--ops", "40")
	require.NoError(t, err)
	assert.Contains(t, out, "seeding 5 sessions")
	assert.Contains(t, out, "validate: ops=40 failures=0")
	assert.Contains(t, out, "refresh: ops=40 failures=0")
}

func TestLoadtestRejectsBadOptions(t *testing.T) {
	_, _, exec := memoryRuntime(t)
	_, err := exec("loadtest", "--users", "0")
	assert.Error(t, err)
}

func TestLoadtestVerifier(t *testing.T) {
	v := loadtestVerifier()
	ctx := context.Background()

	user, err := v.VerifyCredentials(ctx, tokenguard.Credentials{Identifier: "lt-7", Secret: loadtestSecret})
	require.NoError(t, err)
	assert.Equal(t, "lt-7", user.UserID)

	_, err = v.VerifyCredentials(ctx, tokenguard.Credentials{Identifier: "alice", Secret: loadtestSecret})
	assert.ErrorIs(t, err, tokenguard.ErrInvalidCredentials)
}

func TestPercentile(t *testing.T) {
	samples := make([]time.Duration, 0, 100)
	for i := 100; i >= 1; i-- {
		samples = append(samples, time.Duration(i)*time.Millisecond)
	}
	s := computeStats(time.Second, samples, 2)

	assert.Equal(t, 100, s.ops)
	assert.Equal(t, int64(2), s.failures)
	assert.Equal(t, 50*time.Millisecond, s.p50)
	assert.Equal(t, 95*time.Millisecond, s.p95)
	assert.Equal(t, 99*time.Millisecond, s.p99)
	assert.Equal(t, time.Duration(0), percentile(nil, 50))
	assert.Equal(t, time.Millisecond, percentile(samples, 0))
}
