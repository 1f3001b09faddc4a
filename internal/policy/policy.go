package policy

import (
	"strings"

	clierr "github.com/ggonzalez94/solagent/internal/errors"
)

// AnnotationHumanOnly marks a cobra command that an autonomous caller must
// never run on its own, such as resetting the circuit breaker.
const AnnotationHumanOnly = "solagent/human-only"

func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	normPath := normalize(commandPath)
	for _, allowed := range allowlist {
		if normalize(allowed) == normPath {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, "command blocked by --enable-commands policy")
}

// HumanGate decides whether a human-only command may run. A named operator
// is always required. Without an interactive terminal the operator must also
// have been given explicitly on the command line.
type HumanGate struct {
	Operator         string
	OperatorExplicit bool
	Interactive      bool
}

func CheckHumanOnly(annotations map[string]string, gate HumanGate) error {
	if annotations[AnnotationHumanOnly] != "true" {
		return nil
	}
	if strings.TrimSpace(gate.Operator) == "" {
		return clierr.New(clierr.CodeBlocked, "human-only command requires --operator")
	}
	if !gate.Interactive && !gate.OperatorExplicit {
		return clierr.New(clierr.CodeBlocked, "human-only command refused without a terminal; pass --operator explicitly")
	}
	return nil
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}
