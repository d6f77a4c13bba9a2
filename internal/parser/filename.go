package parser

import "regexp"

// voltechFilenamePattern matches Voltech instrument dump names: a leading
// 'C', one digit 0-9, six more digits, and the .atr extension.
var voltechFilenamePattern = regexp.MustCompile(`^C[0-9]\d{6}\.atr$`)

// IsVoltechFile reports whether name (the base filename, not a full path)
// matches the Voltech naming convention. Non-matching files are silently
// ignored during directory scans.
func IsVoltechFile(name string) bool {
	return voltechFilenamePattern.MatchString(name)
}
