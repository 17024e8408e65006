package launch

import (
	"strings"
	"testing"
)

func TestScriptShape(t *testing.T) {
	env := map[string]string{
		"PATH":    "/usr/bin:/bin",
		"API_URL": "http://hub:8081/hub/api",
		"SESSION": "abc",
	}
	script := string(Script(env, "jupyterhub-singleuser --port=40213", "session.log"))

	if !strings.HasPrefix(script, "#!/bin/bash\n") {
		t.Fatalf("missing shebang: %q", script)
	}
	lines := strings.Split(strings.TrimSuffix(script, "\n"), "\n")
	if lines[len(lines)-1] != "echo $pid" {
		t.Fatalf("last line must echo the pid, got %q", lines[len(lines)-1])
	}
	launchLine := lines[len(lines)-2]
	if !strings.Contains(launchLine, "jupyterhub-singleuser --port=40213 < /dev/null >> session.log 2>&1 & pid=$!") {
		t.Fatalf("unexpected launch line: %q", launchLine)
	}
	if !strings.Contains(script, "unset XDG_RUNTIME_DIR\n") {
		t.Fatalf("runtime dir not unset:\n%s", script)
	}
	if !strings.Contains(script, "chmod 600 session.log\n") {
		t.Fatalf("log file permissions not restricted:\n%s", script)
	}
}

func TestScriptSortsEnv(t *testing.T) {
	env := map[string]string{"B": "2", "A": "1", "C": "3"}
	script := string(Script(env, "true", "out.log"))
	a := strings.Index(script, "export A=")
	b := strings.Index(script, "export B=")
	c := strings.Index(script, "export C=")
	if a < 0 || b < 0 || c < 0 || !(a < b && b < c) {
		t.Fatalf("env exports not sorted:\n%s", script)
	}
}

func TestScriptQuotesMetacharacters(t *testing.T) {
	env := map[string]string{"EVIL": "x; rm -rf /; $(reboot)"}
	script := string(Script(env, "true", "out.log"))
	want := "export EVIL='x; rm -rf /; $(reboot)'\n"
	if !strings.Contains(script, want) {
		t.Fatalf("metacharacter value not quoted:\n%s", script)
	}
	// The raw injection must not appear outside single quotes anywhere.
	if strings.Contains(script, "export EVIL=x;") {
		t.Fatalf("unquoted value leaked into script:\n%s", script)
	}
}

func TestScriptEmptyEnv(t *testing.T) {
	script := string(Script(nil, "sleep 60", "out.log"))
	if strings.Contains(script, "export") {
		t.Fatalf("no exports expected:\n%s", script)
	}
	if !strings.Contains(script, "sleep 60 < /dev/null") {
		t.Fatalf("command missing:\n%s", script)
	}
}
