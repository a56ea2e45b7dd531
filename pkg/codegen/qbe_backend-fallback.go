//go:build windows

package codegen

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// assemble pipes QBE IL through the system qbe; libqbe does not build on
// Windows.
func assemble(target, name, il string) (*bytes.Buffer, error) {
	path, err := exec.LookPath("qbe")
	if err != nil {
		return nil, fmt.Errorf("qbe not found in PATH: %w", err)
	}
	var asm, stderr bytes.Buffer
	cmd := exec.Command(path, "-t", target, "-")
	cmd.Stdin = strings.NewReader(il)
	cmd.Stdout, cmd.Stderr = &asm, &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return &asm, nil
}
