package github

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
)

// AuthToken asks the local gh CLI for a token. Used as a fallback when the
// environment carries no GITHUB_TOKEN, typically on a developer machine.
func AuthToken(ctx context.Context, workingDirectory string) (string, error) {
	path, err := exec.LookPath("gh")
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, path, "auth", "token")
	cmd.Dir = workingDirectory

	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return "", err
	}

	scanner := bufio.NewScanner(&out)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	return "", nil
}
