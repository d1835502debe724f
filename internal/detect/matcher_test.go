package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodian/internal/model"
)

func TestMatcher_BuiltinSignatures(t *testing.T) {
	tests := []struct {
		name         string
		goos         string
		command      string
		processName  string
		wantType     model.ThreatType
		wantSeverity model.Severity
	}{
		{
			name:         "windows event log clearing",
			goos:         "windows",
			command:      "wevtutil cl Security",
			processName:  "wevtutil.exe",
			wantType:     model.ThreatLogClearing,
			wantSeverity: model.SeverityCritical,
		},
		{
			name:         "windows shadow copy deletion",
			goos:         "windows",
			command:      "vssadmin delete shadows /all /quiet",
			processName:  "vssadmin.exe",
			wantType:     model.ThreatVSSDeletion,
			wantSeverity: model.SeverityCritical,
		},
		{
			name:         "powershell clear-eventlog",
			goos:         "windows",
			command:      "powershell Clear-EventLog -LogName Security",
			processName:  "powershell.exe",
			wantType:     model.ThreatLogClearing,
			wantSeverity: model.SeverityCritical,
		},
		{
			name:         "windows secure wipe",
			goos:         "windows",
			command:      "cipher /w:C:\\Users",
			processName:  "cipher.exe",
			wantType:     model.ThreatFileWiping,
			wantSeverity: model.SeverityHigh,
		},
		{
			name:         "windows boot config",
			goos:         "windows",
			command:      "bcdedit /set {default} recoveryenabled no",
			processName:  "bcdedit.exe",
			wantType:     model.ThreatBootConfig,
			wantSeverity: model.SeverityHigh,
		},
		{
			name:         "linux log deletion",
			goos:         "linux",
			command:      "rm -rf /var/log",
			processName:  "rm",
			wantType:     model.ThreatLogClearing,
			wantSeverity: model.SeverityCritical,
		},
		{
			name:         "linux audit rule deletion",
			goos:         "linux",
			command:      "auditctl -D",
			processName:  "auditctl",
			wantType:     model.ThreatLogClearing,
			wantSeverity: model.SeverityCritical,
		},
		{
			name:         "linux journal vacuum",
			goos:         "linux",
			command:      "journalctl --vacuum-time=1s",
			processName:  "journalctl",
			wantType:     model.ThreatLogClearing,
			wantSeverity: model.SeverityHigh,
		},
		{
			name:         "linux history clearing",
			goos:         "linux",
			command:      "history -c",
			processName:  "bash",
			wantType:     model.ThreatLogClearing,
			wantSeverity: model.SeverityMedium,
		},
		{
			name:         "linux shred",
			goos:         "linux",
			command:      "shred -u /var/log/auth.log",
			processName:  "shred",
			wantType:     model.ThreatFileWiping,
			wantSeverity: model.SeverityHigh,
		},
		{
			name:         "darwin log erase",
			goos:         "darwin",
			command:      "log erase --all",
			processName:  "log",
			wantType:     model.ThreatLogClearing,
			wantSeverity: model.SeverityCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMatcher(tt.goos, nil)
			match := m.Match(tt.command, tt.command, nil, tt.processName)
			require.NotNil(t, match)
			assert.Equal(t, tt.wantType, match.Type)
			assert.Equal(t, tt.wantSeverity, match.Severity)
		})
	}
}

func TestMatcher_CaseAndPositionInsensitive(t *testing.T) {
	m := NewMatcher("windows", nil)

	tests := []string{
		"WEVTUTIL CL SECURITY",
		"WevtUtil cl Application",
		"cmd /c start /b wevtutil cl System",
	}
	for _, command := range tests {
		match := m.Match(command, command, nil, "cmd.exe")
		require.NotNil(t, match, "command %q should match", command)
		assert.Equal(t, model.ThreatLogClearing, match.Type)
	}
}

func TestMatcher_ObfuscationEscalation(t *testing.T) {
	tests := []struct {
		name         string
		goos         string
		command      string
		extra        []Signature
		markers      []string
		wantSeverity model.Severity
	}{
		{
			name:         "low escalates to medium",
			goos:         "linux",
			command:      "touch /tmp/cleanup.sh",
			extra:        []Signature{{Pattern: "cleanup.sh", Type: model.ThreatOther, Severity: model.SeverityLow, Description: "cleanup script"}},
			markers:      []string{MarkerBase64},
			wantSeverity: model.SeverityMedium,
		},
		{
			name:         "medium escalates to high",
			goos:         "linux",
			command:      "history -c",
			markers:      []string{MarkerHex},
			wantSeverity: model.SeverityHigh,
		},
		{
			name:         "high escalates to critical",
			goos:         "linux",
			command:      "journalctl --vacuum-time=1s",
			markers:      []string{MarkerBase64},
			wantSeverity: model.SeverityCritical,
		},
		{
			name:         "critical stays critical",
			goos:         "windows",
			command:      "vssadmin delete shadows /all",
			markers:      []string{MarkerPowershellEncoded},
			wantSeverity: model.SeverityCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMatcher(tt.goos, tt.extra)
			match := m.Match(tt.command, tt.command, tt.markers, "proc")
			require.NotNil(t, match)
			assert.Equal(t, tt.wantSeverity, match.Severity)
			assert.Equal(t, tt.markers, match.Obfuscation)
			assert.Contains(t, match.Description, "obfuscated")
		})
	}
}

func TestMatcher_MatchesDecodedForm(t *testing.T) {
	m := NewMatcher("windows", nil)

	// The raw command carries an encoded payload; only the decoded form
	// contains the signature substring.
	raw := "powershell -enc QwBsAGUAYQBy..."
	decoded := "powershell -enc Clear-EventLog -LogName Security"

	match := m.Match(raw, decoded, []string{MarkerPowershellEncoded}, "powershell.exe")
	require.NotNil(t, match)
	assert.Equal(t, model.ThreatLogClearing, match.Type)
	assert.Equal(t, model.SeverityCritical, match.Severity)
}

func TestMatcher_RiskyExecutableFallback(t *testing.T) {
	m := NewMatcher("linux", nil)

	match := m.Match("/usr/bin/wipe /home/user/docs", "/usr/bin/wipe /home/user/docs", nil, "wipe")
	require.NotNil(t, match)
	assert.Equal(t, model.ThreatOther, match.Type)
	assert.Equal(t, model.SeverityHigh, match.Severity)
}

func TestMatcher_BenignCommandsDoNotMatch(t *testing.T) {
	m := NewMatcher("linux", nil)

	for _, command := range []string{
		"ls -la /var/log",
		"tail -f /var/log/syslog",
		"systemctl status sshd",
		"journalctl -n 50",
	} {
		assert.Nil(t, m.Match(command, command, nil, "bash"), "command %q should not match", command)
	}
}

func TestMatcher_ExtraSignaturesMatchFirst(t *testing.T) {
	extra := []Signature{
		{Pattern: "rm -rf /var/log", Type: model.ThreatOther, Severity: model.SeverityLow, Description: "override"},
	}
	m := NewMatcher("linux", extra)

	match := m.Match("rm -rf /var/log", "rm -rf /var/log", nil, "rm")
	require.NotNil(t, match)
	assert.Equal(t, model.ThreatOther, match.Type)
	assert.Equal(t, model.SeverityLow, match.Severity)
}

func TestMatcher_ForcedMatchDefaults(t *testing.T) {
	m := NewMatcher("linux", nil)

	match := m.ForcedMatch(model.ThreatVSSDeletion, "", "")
	assert.Equal(t, model.ThreatVSSDeletion, match.Type)
	assert.Equal(t, model.SeverityHigh, match.Severity)
	assert.NotEmpty(t, match.Description)
}

func TestSeverity_Escalate(t *testing.T) {
	assert.Equal(t, model.SeverityMedium, model.SeverityLow.Escalate())
	assert.Equal(t, model.SeverityHigh, model.SeverityMedium.Escalate())
	assert.Equal(t, model.SeverityCritical, model.SeverityHigh.Escalate())
	assert.Equal(t, model.SeverityCritical, model.SeverityCritical.Escalate())
}
