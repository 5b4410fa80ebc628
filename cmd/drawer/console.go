package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"cashdrawer/internal/drawer"
)

// console is the terminal's Confirmer and Notifier. Prompts are answered on
// the same input the command loop reads, so Confirm must only be called from
// that loop.
type console struct {
	in  *bufio.Scanner
	out io.Writer

	mu sync.Mutex
}

func newConsole(in io.Reader, out io.Writer) *console {
	return &console{in: bufio.NewScanner(in), out: out}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// readLine returns false at EOF.
func (c *console) readLine() (string, bool) {
	if !c.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(c.in.Text()), true
}

var riskTags = map[drawer.RiskLevel]string{
	drawer.RiskLow:    "",
	drawer.RiskMedium: "[!] ",
	drawer.RiskHigh:   "[!!] ",
}

func (c *console) Confirm(ctx context.Context, p drawer.Prompt) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.printf("\n%s%s\n%s\n%s [s] / %s [n]: ", riskTags[p.Risk], p.Title, p.Description, p.ConfirmText, p.CancelText)
	line, ok := c.readLine()
	if !ok {
		return false, io.EOF
	}
	switch strings.ToLower(line) {
	case "s", "si", "sí", "y", "yes":
		return true, nil
	}
	return false, nil
}

var severityTags = map[drawer.Severity]string{
	drawer.SeverityInfo:    "info",
	drawer.SeveritySuccess: "ok",
	drawer.SeverityWarning: "atención",
	drawer.SeverityError:   "error",
}

func (c *console) Notify(message string, severity drawer.Severity) {
	c.printf("[%s] %s\n", severityTags[severity], message)
}
