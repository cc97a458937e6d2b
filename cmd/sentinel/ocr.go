package main

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ocrTimeout bounds one external decode; captcha retries handle slow or
// wrong answers.
const ocrTimeout = 10 * time.Second

// execOCR shells out to the configured captcha decoder: image bytes on
// stdin, decoded text on stdout.
type execOCR struct {
	name string
	args []string
}

func newExecOCR(command string) *execOCR {
	fields := strings.Fields(command)
	return &execOCR{name: fields[0], args: fields[1:]}
}

// Classify runs the decoder once and returns its trimmed stdout.
func (o *execOCR) Classify(ctx context.Context, image []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ocrTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, o.name, o.args...)
	cmd.Stdin = bytes.NewReader(image)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ocr command: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(out.String()), nil
}
