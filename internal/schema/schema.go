package schema

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	clierr "github.com/ggonzalez94/solagent/internal/errors"
	"github.com/ggonzalez94/solagent/internal/policy"
)

type CommandSchema struct {
	Path        string          `json:"path"`
	Use         string          `json:"use"`
	Short       string          `json:"short"`
	Aliases     []string        `json:"aliases,omitempty"`
	HumanOnly   bool            `json:"human_only,omitempty"`
	Flags       []FlagSchema    `json:"flags,omitempty"`
	Subcommands []CommandSchema `json:"subcommands,omitempty"`
	ExitCodes   []ExitCode      `json:"exit_codes,omitempty"`
}

type FlagSchema struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Type      string `json:"type"`
	Usage     string `json:"usage"`
	Default   string `json:"default,omitempty"`
	Required  bool   `json:"required,omitempty"`
}

// ExitCode pairs a process exit status with the error type emitted in envelopes.
type ExitCode struct {
	Code int    `json:"code"`
	Type string `json:"type"`
}

// Build describes the command at commandPath, or the whole tree when the
// path is empty. Only the whole-tree form carries the exit code table.
func Build(root *cobra.Command, commandPath string) (CommandSchema, error) {
	parts := strings.Fields(commandPath)
	cmd, err := find(root, parts)
	if err != nil {
		return CommandSchema{}, err
	}
	s := serialize(cmd)
	if len(parts) == 0 {
		s.ExitCodes = exitCodes()
	}
	return s, nil
}

func find(root *cobra.Command, parts []string) (*cobra.Command, error) {
	cmd := root
	for _, p := range parts {
		idx := slices.IndexFunc(cmd.Commands(), func(c *cobra.Command) bool {
			return c.Name() == p || slices.Contains(c.Aliases, p)
		})
		if idx < 0 {
			return nil, fmt.Errorf("command not found: %s", strings.Join(parts, " "))
		}
		cmd = cmd.Commands()[idx]
	}
	return cmd, nil
}

func serialize(cmd *cobra.Command) CommandSchema {
	s := CommandSchema{
		Path:      strings.TrimSpace(cmd.CommandPath()),
		Use:       cmd.Use,
		Short:     cmd.Short,
		Aliases:   cmd.Aliases,
		HumanOnly: cmd.Annotations[policy.AnnotationHumanOnly] == "true",
		Flags:     collectFlags(cmd),
	}
	for _, sub := range cmd.Commands() {
		if sub.Hidden {
			continue
		}
		s.Subcommands = append(s.Subcommands, serialize(sub))
	}
	return s
}

func collectFlags(cmd *cobra.Command) []FlagSchema {
	items := []FlagSchema{}
	cmd.NonInheritedFlags().VisitAll(func(f *pflag.Flag) {
		items = append(items, FlagSchema{
			Name:      f.Name,
			Shorthand: f.Shorthand,
			Type:      f.Value.Type(),
			Usage:     f.Usage,
			Default:   f.DefValue,
			Required:  isRequired(f),
		})
	})
	return items
}

func isRequired(f *pflag.Flag) bool {
	vals, ok := f.Annotations[cobra.BashCompOneRequiredFlag]
	return ok && len(vals) > 0 && vals[0] == "true"
}

func exitCodes() []ExitCode {
	codes := clierr.Codes()
	out := make([]ExitCode, 0, len(codes))
	for _, c := range codes {
		out = append(out, ExitCode{Code: int(c), Type: c.String()})
	}
	return out
}
