package policy

import (
	"testing"

	clierr "github.com/ggonzalez94/solagent/internal/errors"
)

func TestCheckCommandAllowed(t *testing.T) {
	if err := CheckCommandAllowed(nil, "exec transfer"); err != nil {
		t.Fatalf("unexpected error with empty allowlist: %v", err)
	}
	if err := CheckCommandAllowed([]string{"Exec  Transfer"}, "exec transfer"); err != nil {
		t.Fatalf("expected command to be allowed: %v", err)
	}
	if err := CheckCommandAllowed([]string{"risk snapshot"}, "exec transfer"); err == nil {
		t.Fatal("expected command to be blocked")
	}
}

func TestCheckHumanOnly(t *testing.T) {
	human := map[string]string{AnnotationHumanOnly: "true"}
	cases := []struct {
		name        string
		annotations map[string]string
		gate        HumanGate
		blocked     bool
	}{
		{"not annotated", nil, HumanGate{}, false},
		{"missing operator", human, HumanGate{Interactive: true}, true},
		{"interactive with operator", human, HumanGate{Operator: "alice", Interactive: true}, false},
		{"non-interactive implicit operator", human, HumanGate{Operator: "alice"}, true},
		{"non-interactive explicit operator", human, HumanGate{Operator: "alice", OperatorExplicit: true}, false},
	}
	for _, tc := range cases {
		err := CheckHumanOnly(tc.annotations, tc.gate)
		if tc.blocked && clierr.CodeOf(err) != clierr.CodeBlocked {
			t.Fatalf("%s: expected blocked error, got %v", tc.name, err)
		}
		if !tc.blocked && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
	}
}
