package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wippyai/contract-vm/vmtest"
)

func writeContract(t *testing.T, dir, name string, code []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, code, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCall(t *testing.T) {
	dir := t.TempDir()
	echo := writeContract(t, dir, "echo.wasm", vmtest.Echo())

	out, err := execute(t, "call", echo, "--msg", "hello", "--log-level", "error")
	if err != nil {
		t.Fatalf("call: %v\n%s", err, out)
	}
	var res callOutput
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if res.Data != "hello" || res.Entry != "execute" || res.Address != "contract" {
		t.Errorf("result = %+v", res)
	}
	if res.GasUsed == 0 || res.GasUsed+res.GasLeft != 100_000_000 {
		t.Errorf("gas used %d left %d", res.GasUsed, res.GasLeft)
	}
}

func TestCall_Link(t *testing.T) {
	dir := t.TempDir()
	alpha := writeContract(t, dir, "alpha.wasm", vmtest.Relay(vmtest.RelayOptions{Next: "beta", Key: "alpha"}))
	beta := writeContract(t, dir, "beta.wasm", vmtest.Relay(vmtest.RelayOptions{Key: "beta"}))

	out, err := execute(t, "call", alpha, "--address", "alpha", "--link", "beta="+beta,
		"--msg", "x", "--metrics", "--log-level", "error")
	if err != nil {
		t.Fatalf("call: %v\n%s", err, out)
	}
	for _, want := range []string{
		`"data": "x"`,
		`contractvm_contract_calls_total{entry="relay",nested="true",result="ok"} 1`,
		`contractvm_module_cache_compilations_total 2`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestCall_Failure(t *testing.T) {
	dir := t.TempDir()
	trap := writeContract(t, dir, "trap.wasm", vmtest.Trap())
	if _, err := execute(t, "call", trap, "--log-level", "error"); err == nil {
		t.Fatal("trapping call succeeded")
	}
	if _, err := execute(t, "call", filepath.Join(dir, "absent.wasm"), "--log-level", "error"); err == nil {
		t.Fatal("missing file succeeded")
	}
	if _, err := execute(t, "call", trap, "--link", "nofile", "--log-level", "error"); err == nil {
		t.Fatal("malformed --link succeeded")
	}
}

func TestCall_ConfigAndLogFile(t *testing.T) {
	dir := t.TempDir()
	store := writeContract(t, dir, "store.wasm", vmtest.Store("k"))
	cfg := filepath.Join(dir, "vm.toml")
	toml := "[cache]\nstore = \"file\"\ndir = \"artifacts\"\n\n[storage]\nbackend = \"badger\"\ndir = \"state\"\n"
	if err := os.WriteFile(cfg, []byte(toml), 0o600); err != nil {
		t.Fatal(err)
	}
	logFile := filepath.Join(dir, "logs", "vm.log")

	out, err := execute(t, "call", store, "--config", cfg, "--log-file", logFile, "--log-level", "debug", "--msg", "v")
	if err != nil {
		t.Fatalf("call: %v\n%s", err, out)
	}
	artifacts, _ := filepath.Glob(filepath.Join(dir, "artifacts", "*.cvm"))
	if len(artifacts) != 1 {
		t.Errorf("artifacts = %v", artifacts)
	}
	logs, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(logs), "contract deployed") {
		t.Errorf("log lacks deploy entry:\n%s", logs)
	}
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	relay := writeContract(t, dir, "relay.wasm", vmtest.Relay(vmtest.RelayOptions{Callers: []string{"alpha"}}))

	out, err := execute(t, "inspect", relay, "--log-level", "error")
	if err != nil {
		t.Fatalf("inspect: %v\n%s", err, out)
	}
	var info struct {
		Checksum         string   `json:"checksum"`
		InterfaceVersion int      `json:"interface_version"`
		Entries          []string `json:"entries"`
		CallablePoints   map[string]struct {
			Signature      string   `json:"signature"`
			AllowedCallers []string `json:"allowed_callers"`
		} `json:"callable_points"`
	}
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(info.Checksum) != 64 || info.InterfaceVersion != 1 {
		t.Errorf("info = %+v", info)
	}
	if p, ok := info.CallablePoints["relay"]; !ok || len(p.AllowedCallers) != 1 || p.Signature != "func(region) -> (region)" {
		t.Errorf("callable points = %+v", info.CallablePoints)
	}
}

func TestPrintable(t *testing.T) {
	tests := []struct {
		in   []byte
		want string
	}{
		{[]byte("hello"), "hello"},
		{[]byte{0, 1, 0xff}, "0x0001ff"},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := printable(tt.in); got != tt.want {
			t.Errorf("printable(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
