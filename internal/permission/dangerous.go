package permission

import (
	"fmt"
	"strings"
)

// dangerousCommands are flagged wherever they appear in the command.
var dangerousCommands = []string{
	"rm -rf /",
	"rm -rf /*",
	"rm -rf ~",
	"rm -rf ~/*",
	"dd if=",
	"mkfs.",
	":(){ :|:& };:",
	"chmod -R 777 /",
	"chown -R",
	"> /dev/sda",
	"mv / ",
}

// dangerousPrefixes are flagged when the command starts with them.
var dangerousPrefixes = []string{
	"rm -rf /",
	"dd if=/dev/zero of=/dev/",
	"mkfs.",
	"chmod -R 777 /",
}

// riskyPatterns are broader substrings that are usually but not always destructive.
var riskyPatterns = []string{
	"rm -rf",
	"dd if=/dev/",
	"dd of=/dev/",
}

// IsDangerousBashCommand flags commands a reviewer should look at twice.
// It returns a warning describing the first rule that fired.
//
// The string tables are checked against the whole command and against each
// simple command parsed out of it, so "cd /tmp && rm -rf /" is caught by
// its prefix rule as well.
func IsDangerousBashCommand(command string) (bool, string) {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return false, ""
	}

	candidates := []string{cmd}
	if parsed, err := ParseBashCommand(cmd); err == nil && len(parsed) > 1 {
		for _, c := range parsed {
			candidates = append(candidates, c.String())
		}
	}

	for _, c := range candidates {
		for _, dangerous := range dangerousCommands {
			if strings.Contains(c, dangerous) {
				return true, fmt.Sprintf("WARNING: This command contains '%s' which is EXTREMELY DANGEROUS", dangerous)
			}
		}
	}
	for _, c := range candidates {
		for _, prefix := range dangerousPrefixes {
			if strings.HasPrefix(c, prefix) {
				return true, fmt.Sprintf("WARNING: Commands starting with '%s' can destroy your system", prefix)
			}
		}
	}
	for _, c := range candidates {
		for _, pattern := range riskyPatterns {
			if strings.Contains(c, pattern) {
				return true, fmt.Sprintf("WARNING: This command contains '%s' which can be destructive", pattern)
			}
		}
	}
	return false, ""
}
