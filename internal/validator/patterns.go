package validator

import "github.com/homelab/sentinel/pkg/types"

// defaultForbiddenRules is the fixed catalog of patterns that can never be
// allowed, regardless of what else might match. Matched anywhere in the
// command string, case-insensitive — a destructive fragment buried inside a
// longer command is exactly what this list exists to catch.
func defaultForbiddenRules() []ForbiddenRule {
	return []ForbiddenRule{
		{Name: "disk_wipe_dd", Kind: MatcherRegex, Pattern: `dd\s+if=.*of=/dev/`},
		{Name: "mkfs", Kind: MatcherRegex, Pattern: `mkfs\.`},
		{Name: "fdisk_write", Kind: MatcherRegex, Pattern: `fdisk\s+/dev/`},
		{Name: "rm_rf_root", Kind: MatcherRegex, Pattern: `^rm\s+-rf\s+/\s*$`},
		{Name: "rm_rf_root_star", Kind: MatcherRegex, Pattern: `^rm\s+-rf\s+/\*`},
		{Name: "forkbomb", Kind: MatcherRegex, Pattern: `:\(\)\s*\{\s*:\|:&\s*\};`},
		{Name: "chmod_777_root", Kind: MatcherRegex, Pattern: `chmod\s+-R\s+777\s+/`},
		{Name: "chown_root_recursive", Kind: MatcherRegex, Pattern: `chown\s+-R\s+.*\s+/\s*$`},
		{Name: "init_shutdown", Kind: MatcherRegex, Pattern: `^init\s+[06]\s*$`},
		{Name: "shutdown_now", Kind: MatcherRegex, Pattern: `^shutdown\b`},
		{Name: "reboot", Kind: MatcherRegex, Pattern: `^reboot\b`},
		{Name: "halt", Kind: MatcherRegex, Pattern: `^halt\b`},
		{Name: "poweroff", Kind: MatcherRegex, Pattern: `^poweroff\b`},
		{Name: "kill_init", Kind: MatcherRegex, Pattern: `kill\s+-9\s+1\s*$`},
		{Name: "killall_9", Kind: MatcherRegex, Pattern: `killall\s+-9\b`},
		{Name: "pkill_9", Kind: MatcherRegex, Pattern: `pkill\s+-9\b`},
		{Name: "iptables_flush", Kind: MatcherRegex, Pattern: `iptables\s+-F`},
		{Name: "iptables_delete_chain", Kind: MatcherRegex, Pattern: `iptables\s+-X`},
		{Name: "pipe_curl_shell", Kind: MatcherRegex, Pattern: `curl\b.*\|\s*(sudo\s+)?(ba)?sh\b`},
		{Name: "pipe_wget_shell", Kind: MatcherRegex, Pattern: `wget\b.*\|\s*(sudo\s+)?(ba)?sh\b`},
		{Name: "eval_expr", Kind: MatcherRegex, Pattern: `^eval\s`},
		{Name: "reverse_shell_nc", Kind: MatcherRegex, Pattern: `nc\s+.*-e\s*/bin/(ba)?sh`},
		{Name: "kernel_sysctl_proc", Kind: MatcherRegex, Pattern: `/proc/sys/kernel`},
		{Name: "sysctl_write", Kind: MatcherRegex, Pattern: `sysctl\s+-w\b`},
		{Name: "userdel", Kind: MatcherRegex, Pattern: `^userdel\b`},
		{Name: "passwd_change", Kind: MatcherRegex, Pattern: `^passwd\b`},
		{Name: "mv_over_etc_passwd", Kind: MatcherRegex, Pattern: `>\s*/etc/passwd`},
		{Name: "mv_over_etc_shadow", Kind: MatcherRegex, Pattern: `>\s*/etc/shadow`},
		{Name: "drop_database", Kind: MatcherSubstring, Pattern: "drop database"},
		{Name: "delete_from_users", Kind: MatcherSubstring, Pattern: "delete from users"},
	}
}

// Argument character classes for the allowed catalog. Every allowed pattern
// is anchored `^...$` and every free-form argument slot uses one of these
// closed classes, so shell metacharacters (&&, |, ;, $, backtick, redirects)
// can never ride along on an allowed command.
const (
	argName = `[A-Za-z0-9._-]+`             // container/service/host/unit names
	argPath = `[A-Za-z0-9._/-]+`            // filesystem paths
	argWord = `[A-Za-z0-9._:@/-]+`          // image refs, remotes, unit@instance
)

// defaultAllowedRules is the ordered registry of SAFE, MEDIUM_RISK, and
// HIGH_RISK command rules. Ordered from most specific (compound diagnostic
// shapes, exact subcommands) to most general so first-match-wins resolves
// predictably. Anchored to the full command string; the validator
// additionally wraps each pattern in `^(?:...)$` at compile time so a rule
// can never degrade into a prefix match.
func defaultAllowedRules() []Rule {
	return []Rule{
		// SAFE / LOW_RISK — read-only introspection.
		{Name: "docker_ps", Kind: MatcherRegex, Pattern: `^docker\s+ps(\s+-a)?$`, RiskLevel: types.RiskSafe},
		{Name: "docker_images", Kind: MatcherRegex, Pattern: `^docker\s+images$`, RiskLevel: types.RiskSafe},
		{Name: "docker_logs", Kind: MatcherRegex, Pattern: `^docker\s+logs(\s+--tail\s+\d+)?\s+` + argName + `$`, RiskLevel: types.RiskSafe},
		{Name: "docker_inspect", Kind: MatcherRegex, Pattern: `^docker\s+inspect\s+` + argName + `$`, RiskLevel: types.RiskSafe},
		{Name: "git_status", Kind: MatcherRegex, Pattern: `^git\s+status$`, RiskLevel: types.RiskSafe},
		{Name: "git_log", Kind: MatcherRegex, Pattern: `^git\s+log(\s+--oneline)?(\s+-n\s*\d+)?$`, RiskLevel: types.RiskSafe},
		{Name: "git_diff", Kind: MatcherRegex, Pattern: `^git\s+diff(\s+` + argPath + `)?$`, RiskLevel: types.RiskSafe},
		{Name: "ls", Kind: MatcherRegex, Pattern: `^ls(\s+-[A-Za-z]+)?(\s+` + argPath + `)?$`, RiskLevel: types.RiskSafe},
		{Name: "cat", Kind: MatcherRegex, Pattern: `^cat\s+` + argPath + `$`, RiskLevel: types.RiskSafe},
		{Name: "head", Kind: MatcherRegex, Pattern: `^head(\s+-n\s+\d+)?\s+` + argPath + `$`, RiskLevel: types.RiskSafe},
		{Name: "tail", Kind: MatcherRegex, Pattern: `^tail(\s+-n\s+\d+)?\s+` + argPath + `$`, RiskLevel: types.RiskSafe},
		{Name: "pwd", Kind: MatcherRegex, Pattern: `^pwd$`, RiskLevel: types.RiskSafe},
		{Name: "echo", Kind: MatcherRegex, Pattern: `^echo(\s+[A-Za-z0-9._\s,:-]*)?$`, RiskLevel: types.RiskSafe},
		{Name: "date", Kind: MatcherRegex, Pattern: `^date$`, RiskLevel: types.RiskSafe},
		{Name: "whoami", Kind: MatcherRegex, Pattern: `^whoami$`, RiskLevel: types.RiskSafe},
		{Name: "hostname", Kind: MatcherRegex, Pattern: `^hostname$`, RiskLevel: types.RiskSafe},
		{Name: "uptime", Kind: MatcherRegex, Pattern: `^uptime$`, RiskLevel: types.RiskSafe},
		{Name: "network_path_check", Kind: MatcherRegex, Pattern: `^ping\s+-c\s+\d+\s+` + argName + `\s+&&\s+traceroute\s+` + argName + `$`, RiskLevel: types.RiskSafe},
		{Name: "ping", Kind: MatcherRegex, Pattern: `^ping\s+-c\s+\d+\s+` + argName + `$`, RiskLevel: types.RiskSafe},
		{Name: "traceroute", Kind: MatcherRegex, Pattern: `^traceroute\s+` + argName + `$`, RiskLevel: types.RiskSafe},
		{Name: "df", Kind: MatcherRegex, Pattern: `^df(\s+-h)?$`, RiskLevel: types.RiskSafe},
		{Name: "free", Kind: MatcherRegex, Pattern: `^free(\s+-[mgh])?$`, RiskLevel: types.RiskSafe},
		{Name: "ps", Kind: MatcherRegex, Pattern: `^ps(\s+aux|\s+-ef)?$`, RiskLevel: types.RiskSafe},
		{Name: "top_batch", Kind: MatcherRegex, Pattern: `^top\s+-bn1$`, RiskLevel: types.RiskSafe},

		// MEDIUM_RISK — scoped mutations, generally allowed but may need a nod.
		{Name: "docker_compose_up", Kind: MatcherRegex, Pattern: `^docker\s+compose\s+up(\s+-d)?(\s+--force-recreate)?(\s+--scale\s+` + argName + `=\d+)?(\s+` + argName + `)?$`, RiskLevel: types.RiskMedium, RequiresApproval: false},
		{Name: "docker_compose_down", Kind: MatcherRegex, Pattern: `^docker\s+compose\s+down(\s+` + argName + `)?$`, RiskLevel: types.RiskMedium, RequiresApproval: true},
		{Name: "docker_compose_restart", Kind: MatcherRegex, Pattern: `^docker\s+compose\s+restart(\s+` + argName + `)?$`, RiskLevel: types.RiskMedium, RequiresApproval: false},
		{Name: "docker_restart", Kind: MatcherRegex, Pattern: `^docker\s+restart\s+` + argName + `$`, RiskLevel: types.RiskMedium, RequiresApproval: true},
		{Name: "docker_stop", Kind: MatcherRegex, Pattern: `^docker\s+stop\s+` + argName + `$`, RiskLevel: types.RiskMedium, RequiresApproval: true},
		{Name: "docker_start", Kind: MatcherRegex, Pattern: `^docker\s+start\s+` + argName + `$`, RiskLevel: types.RiskMedium, RequiresApproval: false},
		{Name: "systemctl_status", Kind: MatcherRegex, Pattern: `^systemctl\s+status\s+` + argWord + `$`, RiskLevel: types.RiskLow, RequiresApproval: false},
		{Name: "systemctl_restart", Kind: MatcherRegex, Pattern: `^systemctl\s+restart\s+` + argWord + `$`, RiskLevel: types.RiskMedium, RequiresApproval: true},
		{Name: "nas_remount", Kind: MatcherRegex, Pattern: `^mount\s+-a\s+&&\s+systemctl\s+restart\s+` + argWord + `$`, RiskLevel: types.RiskMedium, RequiresApproval: true},
		{Name: "mount_all", Kind: MatcherRegex, Pattern: `^mount\s+-a$`, RiskLevel: types.RiskMedium, RequiresApproval: true},
		{Name: "mkdir", Kind: MatcherRegex, Pattern: `^mkdir(\s+-p)?\s+` + argPath + `$`, RiskLevel: types.RiskMedium, RequiresApproval: false},
		{Name: "touch", Kind: MatcherRegex, Pattern: `^touch\s+` + argPath + `$`, RiskLevel: types.RiskMedium, RequiresApproval: false},
		{Name: "cp", Kind: MatcherRegex, Pattern: `^cp(\s+-r)?\s+` + argPath + `\s+` + argPath + `$`, RiskLevel: types.RiskMedium, RequiresApproval: false},
		{Name: "mv", Kind: MatcherRegex, Pattern: `^mv\s+` + argPath + `\s+` + argPath + `$`, RiskLevel: types.RiskMedium, RequiresApproval: true},

		// HIGH_RISK — destructive or broad-effect, always requires approval.
		{Name: "docker_rm", Kind: MatcherRegex, Pattern: `^docker\s+rm(\s+-f)?\s+` + argName + `$`, RiskLevel: types.RiskHigh, RequiresApproval: true},
		{Name: "docker_rmi", Kind: MatcherRegex, Pattern: `^docker\s+rmi\s+` + argWord + `$`, RiskLevel: types.RiskHigh, RequiresApproval: true},
		{Name: "docker_volume_rm", Kind: MatcherRegex, Pattern: `^docker\s+volume\s+rm\s+` + argName + `$`, RiskLevel: types.RiskHigh, RequiresApproval: true},
		{Name: "docker_system_prune", Kind: MatcherRegex, Pattern: `^docker\s+system\s+prune(\s+-a)?(\s+-f)?$`, RiskLevel: types.RiskHigh, RequiresApproval: true},
		{Name: "rm", Kind: MatcherRegex, Pattern: `^rm(\s+-[rf]+)?\s+` + argPath + `$`, RiskLevel: types.RiskHigh, RequiresApproval: true},
		{Name: "git_push", Kind: MatcherRegex, Pattern: `^git\s+push(\s+` + argWord + `)?(\s+` + argWord + `)?$`, RiskLevel: types.RiskHigh, RequiresApproval: true},
		{Name: "systemctl_stop", Kind: MatcherRegex, Pattern: `^systemctl\s+stop\s+` + argWord + `$`, RiskLevel: types.RiskHigh, RequiresApproval: true},
		{Name: "certbot_renew", Kind: MatcherRegex, Pattern: `^certbot\s+renew(\s+--force-renewal)?$`, RiskLevel: types.RiskHigh, RequiresApproval: true},
		{Name: "kvm_gpu_reset", Kind: MatcherRegex, Pattern: `^virsh\s+detach-device\s+` + argName + `\s+` + argPath + `\s+&&\s+virsh\s+attach-device\s+` + argName + `\s+` + argPath + `$`, RiskLevel: types.RiskHigh, RequiresApproval: true},
		{Name: "virsh_device", Kind: MatcherRegex, Pattern: `^virsh\s+(attach|detach)-device\s+` + argName + `\s+` + argPath + `$`, RiskLevel: types.RiskHigh, RequiresApproval: true},
	}
}
