package detect

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"unicode"
	"unicode/utf16"
)

// Obfuscation markers reported by Decode.
const (
	MarkerPowershellEncoded = "powershell_encoded"
	MarkerBase64            = "base64"
	MarkerHex               = "hex"
)

// Decode de-obfuscates a command line. Encoded payloads (powershell
// -EncodedCommand, bare base64 tokens, hex blobs) are replaced inline with
// their decoded form so the matcher sees what the command will actually run.
// The returned markers name each technique found; an empty slice means the
// command was returned unchanged.
func Decode(command string) (string, []string) {
	var markers []string

	fields := strings.Fields(command)
	for i, field := range fields {
		// powershell -enc / -EncodedCommand takes a UTF-16LE base64 payload
		// in the next field.
		lower := strings.ToLower(field)
		if (lower == "-enc" || lower == "-encodedcommand" || lower == "-e") && i+1 < len(fields) {
			if decoded, ok := decodeUTF16Base64(fields[i+1]); ok {
				fields[i+1] = decoded
				markers = appendMarker(markers, MarkerPowershellEncoded)
				continue
			}
		}

		if decoded, ok := decodeHexToken(field); ok {
			fields[i] = decoded
			markers = appendMarker(markers, MarkerHex)
			continue
		}

		if decoded, ok := decodeBase64Token(field); ok {
			fields[i] = decoded
			markers = appendMarker(markers, MarkerBase64)
		}
	}

	if len(markers) == 0 {
		return command, nil
	}
	return strings.Join(fields, " "), markers
}

func appendMarker(markers []string, marker string) []string {
	for _, m := range markers {
		if m == marker {
			return markers
		}
	}
	return append(markers, marker)
}

// decodeUTF16Base64 decodes a powershell encoded-command payload.
func decodeUTF16Base64(token string) (string, bool) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil || len(raw) < 2 || len(raw)%2 != 0 {
		return "", false
	}

	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
	}

	decoded := string(utf16.Decode(units))
	if !mostlyPrintable(decoded) {
		return "", false
	}
	return decoded, true
}

// decodeBase64Token decodes standalone base64 payloads. Short tokens are
// skipped: ordinary words are valid base64 too.
func decodeBase64Token(token string) (string, bool) {
	if len(token) < 24 || len(token)%4 != 0 {
		return "", false
	}
	for _, r := range token {
		if !isBase64Rune(r) {
			return "", false
		}
	}

	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", false
	}

	decoded := string(raw)
	if !mostlyPrintable(decoded) {
		return "", false
	}
	return decoded, true
}

// decodeHexToken decodes long hex blobs, with or without a 0x prefix.
func decodeHexToken(token string) (string, bool) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(token, "0x"), "0X")
	if len(trimmed) < 16 || len(trimmed)%2 != 0 {
		return "", false
	}

	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return "", false
	}

	decoded := string(raw)
	if !mostlyPrintable(decoded) {
		return "", false
	}
	return decoded, true
}

func isBase64Rune(r rune) bool {
	return r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' ||
		r == '+' || r == '/' || r == '='
}

// mostlyPrintable reports whether a decoded payload looks like text rather
// than binary noise.
func mostlyPrintable(s string) bool {
	if s == "" {
		return false
	}
	printable := 0
	total := 0
	for _, r := range s {
		total++
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			printable++
		}
	}
	return printable*10 >= total*9
}
