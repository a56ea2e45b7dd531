//go:build !windows

package codegen

import (
	"bytes"
	"strings"

	"modernc.org/libqbe"
)

// assemble compiles QBE IL to target assembly in-process.
func assemble(target, name, il string) (*bytes.Buffer, error) {
	var asm bytes.Buffer
	if err := libqbe.Main(target, name, strings.NewReader(il), &asm, nil); err != nil {
		return nil, err
	}
	return &asm, nil
}
