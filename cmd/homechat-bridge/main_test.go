package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestRootCommandHasSubcommands(t *testing.T) {
	root := buildRootCmd()

	want := map[string]bool{"serve": false, "status": false, "schema": false, "version": false}
	for _, cmd := range root.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestSchemaCommandPrintsJSON(t *testing.T) {
	root := buildRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"schema"})

	if err := root.Execute(); err != nil {
		t.Fatalf("schema command failed: %v", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(out.Bytes(), &schema); err != nil {
		t.Fatalf("schema output is not JSON: %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	root := buildRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out.String(), "homechat-bridge") {
		t.Errorf("unexpected version output %q", out.String())
	}
}
