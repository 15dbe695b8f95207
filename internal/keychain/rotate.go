package keychain

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// runRotationCommand executes a rotation script and captures its stdout.
// The script must print the new value to stdout and nothing else.
func runRotationCommand(command string) (string, error) {
	cmd := exec.Command("/bin/sh", "-c", command)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("exit code %d: %s", exitErr.ExitCode(), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", err
	}
	return strings.TrimRight(string(output), "\n"), nil
}
