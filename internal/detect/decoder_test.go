package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecode_PowershellEncodedCommand(t *testing.T) {
	// UTF-16LE base64 of "Clear-EventLog -LogName Security".
	payload := "QwBsAGUAYQByAC0ARQB2AGUAbgB0AEwAbwBnACAALQBMAG8AZwBOAGEAbQBlACAAUwBlAGMAdQByAGkAdAB5AA=="

	decoded, markers := Decode("powershell -enc " + payload)
	assert.Contains(t, decoded, "Clear-EventLog -LogName Security")
	assert.Equal(t, []string{MarkerPowershellEncoded}, markers)

	decoded, markers = Decode("powershell -EncodedCommand " + payload)
	assert.Contains(t, decoded, "Clear-EventLog")
	assert.Equal(t, []string{MarkerPowershellEncoded}, markers)
}

func TestDecode_Base64Token(t *testing.T) {
	// base64 of "vssadmin delete shadows /all".
	decoded, markers := Decode("cmd /c dnNzYWRtaW4gZGVsZXRlIHNoYWRvd3MgL2FsbA==")
	assert.Contains(t, decoded, "vssadmin delete shadows /all")
	assert.Equal(t, []string{MarkerBase64}, markers)
}

func TestDecode_HexToken(t *testing.T) {
	// hex of "rm -rf /var/log".
	decoded, markers := Decode("bash -c 726d202d7266202f7661722f6c6f67")
	assert.Contains(t, decoded, "rm -rf /var/log")
	assert.Equal(t, []string{MarkerHex}, markers)

	decoded, markers = Decode("bash -c 0x726d202d7266202f7661722f6c6f67")
	assert.Contains(t, decoded, "rm -rf /var/log")
	assert.Equal(t, []string{MarkerHex}, markers)
}

func TestDecode_PlainCommandsUnchanged(t *testing.T) {
	tests := []string{
		"ls -la /tmp",
		"systemctl restart nginx",
		// Short tokens that happen to be valid base64 must not decode.
		"echo test",
		"cat /etc/passwd",
	}
	for _, command := range tests {
		decoded, markers := Decode(command)
		assert.Equal(t, command, decoded)
		assert.Empty(t, markers)
	}
}

func TestDecode_BinaryPayloadRejected(t *testing.T) {
	// base64 of random bytes decodes to unprintable noise and must be left
	// alone.
	decoded, markers := Decode("run AAECAwQFBgcICQoLDA0ODxAREhM=")
	assert.Equal(t, "run AAECAwQFBgcICQoLDA0ODxAREhM=", decoded)
	assert.Empty(t, markers)
}

func TestDecode_DuplicateMarkersCollapsed(t *testing.T) {
	_, markers := Decode("x 726d202d7266202f7661722f6c6f67 726d202d7266202f7661722f6c6f67")
	assert.Equal(t, []string{MarkerHex}, markers)
}
