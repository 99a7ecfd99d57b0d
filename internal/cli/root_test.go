package cli

import (
	"context"
	"reflect"
	"testing"

	"github.com/cruciblehq/cruxbox/internal/paths"
	"github.com/cruciblehq/cruxbox/internal/registry"
)

func TestParseRun(t *testing.T) {
	var status exitStatus
	parser, err := newParser(context.Background(), &status)
	if err != nil {
		t.Fatal(err)
	}

	_, err = parser.Parse([]string{
		"-d", "run",
		"--concurrency", "3",
		"-e", "LIST=a,b",
		"busybox:1.36", "/bin/ls", "-la", "/etc",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cmd := RootCmd.Run
	if !RootCmd.Debug {
		t.Error("debug flag not set")
	}
	if cmd.Image != "busybox:1.36" {
		t.Errorf("Image = %q", cmd.Image)
	}
	if want := []string{"/bin/ls", "-la", "/etc"}; !reflect.DeepEqual(cmd.Command, want) {
		t.Errorf("Command = %q, want %q", cmd.Command, want)
	}
	if want := []string{"LIST=a,b"}; !reflect.DeepEqual(cmd.Env, want) {
		t.Errorf("Env = %q, want %q", cmd.Env, want)
	}
	if cmd.Concurrency != 3 {
		t.Errorf("Concurrency = %d", cmd.Concurrency)
	}
	if cmd.Root != paths.DefaultSandboxRoot {
		t.Errorf("Root = %q", cmd.Root)
	}
	if cmd.AuthURL != registry.DefaultAuthURL || cmd.RegistryURL != registry.DefaultRegistryURL || cmd.AuthService != registry.DefaultService {
		t.Errorf("registry defaults not applied: %+v", cmd)
	}
}

func TestParseRunEnvironment(t *testing.T) {
	t.Setenv("CRUXBOX_REGISTRY_URL", "http://mirror.local")
	t.Setenv("CRUXBOX_AUTH_URL", "http://mirror.local/token")

	var status exitStatus
	parser, err := newParser(context.Background(), &status)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := parser.Parse([]string{"run", "--best-effort-isolation", "alpine", "/bin/true"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cmd := RootCmd.Run
	if cmd.RegistryURL != "http://mirror.local" {
		t.Errorf("RegistryURL = %q", cmd.RegistryURL)
	}
	if cmd.AuthURL != "http://mirror.local/token" {
		t.Errorf("AuthURL = %q", cmd.AuthURL)
	}
	if !cmd.BestEffortIsolation {
		t.Error("best-effort isolation not set")
	}
	if cmd.Concurrency != 1 {
		t.Errorf("Concurrency = %d, want default 1", cmd.Concurrency)
	}
}

func TestParseRunRequiresCommand(t *testing.T) {
	var status exitStatus
	parser, err := newParser(context.Background(), &status)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := parser.Parse([]string{"run", "busybox"}); err == nil {
		t.Fatal("expected error without a command")
	}
}
