package schema

import (
	"testing"

	"github.com/spf13/cobra"

	"github.com/ggonzalez94/solagent/internal/policy"
)

func TestBuildSchema(t *testing.T) {
	root := &cobra.Command{Use: "solagent"}
	child := &cobra.Command{Use: "exec", Short: "execute actions"}
	leaf := &cobra.Command{Use: "transfer", Short: "transfer native tokens"}
	leaf.Flags().String("to", "", "recipient")
	_ = leaf.MarkFlagRequired("to")
	child.AddCommand(leaf)
	root.AddCommand(child)

	s, err := Build(root, "exec transfer")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if s.Path != "solagent exec transfer" {
		t.Fatalf("unexpected path: %s", s.Path)
	}
	if len(s.Flags) != 1 || s.Flags[0].Name != "to" || !s.Flags[0].Required {
		t.Fatalf("unexpected flags: %+v", s.Flags)
	}
	if s.HumanOnly {
		t.Fatal("transfer should not be human-only")
	}
}

func TestBuildSchemaHumanOnly(t *testing.T) {
	root := &cobra.Command{Use: "solagent"}
	reset := &cobra.Command{
		Use:         "reset",
		Annotations: map[string]string{policy.AnnotationHumanOnly: "true"},
	}
	root.AddCommand(reset)

	s, err := Build(root, "")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(s.Subcommands) != 1 || !s.Subcommands[0].HumanOnly {
		t.Fatalf("expected human-only subcommand, got %+v", s.Subcommands)
	}
	if _, err := Build(root, "missing"); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestBuildSchemaExitCodes(t *testing.T) {
	root := &cobra.Command{Use: "solagent"}
	root.AddCommand(&cobra.Command{Use: "version"})

	s, err := Build(root, "")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	var veto, advisory bool
	for i, ec := range s.ExitCodes {
		if i > 0 && ec.Code <= s.ExitCodes[i-1].Code {
			t.Fatalf("exit codes not ascending: %+v", s.ExitCodes)
		}
		veto = veto || (ec.Code == 22 && ec.Type == "risk_veto")
		advisory = advisory || (ec.Code == 29 && ec.Type == "advisory")
	}
	if !veto || !advisory {
		t.Fatalf("missing execution exit codes: %+v", s.ExitCodes)
	}

	leaf, err := Build(root, "version")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(leaf.ExitCodes) != 0 {
		t.Fatalf("exit codes only belong to the root schema, got %+v", leaf.ExitCodes)
	}
}
