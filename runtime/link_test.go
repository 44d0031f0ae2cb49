package runtime

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/wippyai/contract-vm/errors"
	"github.com/wippyai/contract-vm/vmtest"
)

func TestLink_Relay(t *testing.T) {
	rt := newRuntime(t)
	deploy(t, rt, "alpha", vmtest.Relay(vmtest.RelayOptions{Next: "beta", Key: "alpha"}))
	deploy(t, rt, "beta", vmtest.Relay(vmtest.RelayOptions{Key: "beta"}))
	backend, store := vmtest.Backend()
	ctx := context.Background()

	leaf, err := rt.Execute(ctx, request("beta", backend), []byte("hi"))
	if err != nil {
		t.Fatalf("leaf: %v", err)
	}

	res, err := rt.Execute(ctx, request("alpha", backend), []byte("hi"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(res.Data) != "hi" {
		t.Errorf("data = %q", res.Data)
	}
	for _, key := range []string{"alpha", "beta"} {
		if v, _ := store.Get([]byte(key)); string(v) != "hi" {
			t.Errorf("%s wrote %q", key, v)
		}
	}
	if res.GasUsed <= leaf.GasUsed {
		t.Errorf("relay gas %d not above leaf gas %d", res.GasUsed, leaf.GasUsed)
	}
	if res.GasUsed+res.GasLeft != gasLimit {
		t.Errorf("gas used %d + left %d != %d", res.GasUsed, res.GasLeft, gasLimit)
	}
}

func TestLink_Rejected(t *testing.T) {
	tests := []struct {
		name      string
		contracts map[string][]byte
		readOnly  bool
		kind      errors.Kind
		path      []string
	}{
		{
			name: "self reentrancy",
			contracts: map[string][]byte{
				"alpha": vmtest.Relay(vmtest.RelayOptions{Next: "alpha"}),
			},
			kind: errors.KindReentrancy,
			path: []string{"alpha", "alpha"},
		},
		{
			name: "cycle",
			contracts: map[string][]byte{
				"alpha": vmtest.Relay(vmtest.RelayOptions{Next: "beta"}),
				"beta":  vmtest.Relay(vmtest.RelayOptions{Next: "alpha"}),
			},
			kind: errors.KindReentrancy,
			path: []string{"alpha", "beta", "alpha"},
		},
		{
			name: "arity mismatch",
			contracts: map[string][]byte{
				"alpha": vmtest.ArityCaller("beta"),
				"beta":  vmtest.Relay(vmtest.RelayOptions{}),
			},
			kind: errors.KindInterfaceMismatch,
		},
		{
			name: "caller not allowed",
			contracts: map[string][]byte{
				"alpha": vmtest.Relay(vmtest.RelayOptions{Next: "beta"}),
				"beta":  vmtest.Relay(vmtest.RelayOptions{Callers: []string{"gamma"}}),
			},
			kind: errors.KindPermissionDenied,
		},
		{
			name: "read-only caller",
			contracts: map[string][]byte{
				"alpha": vmtest.Relay(vmtest.RelayOptions{Next: "beta"}),
				"beta":  vmtest.Relay(vmtest.RelayOptions{}),
			},
			readOnly: true,
			kind:     errors.KindPermissionDenied,
		},
		{
			name: "unknown callee",
			contracts: map[string][]byte{
				"alpha": vmtest.Relay(vmtest.RelayOptions{Next: "nobody"}),
			},
			kind: errors.KindResolution,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newRuntime(t)
			for address, code := range tt.contracts {
				deploy(t, rt, address, code)
			}
			backend, store := vmtest.Backend()
			req := request("alpha", backend)
			req.ReadOnly = tt.readOnly

			_, err := rt.Execute(context.Background(), req, []byte("hi"))
			wantKind(t, err, tt.kind)
			if store.Writes() != 0 {
				t.Errorf("writes = %d, want 0", store.Writes())
			}
			if tt.path != nil {
				e, _ := errors.As(err)
				if !slices.Equal(e.Path, tt.path) {
					t.Errorf("path = %v, want %v", e.Path, tt.path)
				}
			}
		})
	}
}

// chain deploys c0 -> c1 -> ... -> c(n-1) and returns the address of c0.
func chain(t *testing.T, rt *Runtime, n int) string {
	t.Helper()
	for i := 0; i < n; i++ {
		opts := vmtest.RelayOptions{Key: fmt.Sprintf("c%d", i)}
		if i+1 < n {
			opts.Next = fmt.Sprintf("c%d", i+1)
		}
		deploy(t, rt, fmt.Sprintf("c%d", i), vmtest.Relay(opts))
	}
	return "c0"
}

func TestLink_DepthLimit(t *testing.T) {
	const maxDepth = 3
	ctx := context.Background()

	t.Run("at limit", func(t *testing.T) {
		rt := newRuntime(t, func(c *Config) { c.MaxCallDepth = maxDepth })
		root := chain(t, rt, maxDepth+1)
		backend, store := vmtest.Backend()
		if _, err := rt.Execute(ctx, request(root, backend), []byte("x")); err != nil {
			t.Fatalf("depth %d: %v", maxDepth, err)
		}
		if store.Writes() != maxDepth+1 {
			t.Errorf("writes = %d", store.Writes())
		}
	})

	t.Run("one beyond", func(t *testing.T) {
		rt := newRuntime(t, func(c *Config) { c.MaxCallDepth = maxDepth })
		root := chain(t, rt, maxDepth+2)
		backend, store := vmtest.Backend()
		_, err := rt.Execute(ctx, request(root, backend), []byte("x"))
		wantKind(t, err, errors.KindCallDepthExceeded)
		e, _ := errors.As(err)
		if len(e.Path) != maxDepth+2 {
			t.Errorf("path = %v", e.Path)
		}
		if store.Writes() != 0 {
			t.Errorf("writes = %d", store.Writes())
		}
	})
}

func TestLink_OutOfGasInCallee(t *testing.T) {
	rt := newRuntime(t)
	deploy(t, rt, "alpha", vmtest.Relay(vmtest.RelayOptions{Next: "spin"}))
	deploy(t, rt, "spin", vmtest.Spin())
	backend, store := vmtest.Backend()

	req := request("alpha", backend)
	req.GasLimit = 1_000_000
	res, err := rt.Execute(context.Background(), req, []byte("x"))
	wantKind(t, err, errors.KindOutOfGas)
	if res.GasLeft != 0 || res.GasUsed != req.GasLimit {
		t.Errorf("gas used %d, left %d", res.GasUsed, res.GasLeft)
	}
	if store.Writes() != 0 {
		t.Errorf("writes = %d", store.Writes())
	}
}

func TestLink_CallerAddress(t *testing.T) {
	rt := newRuntime(t)
	deploy(t, rt, "who", vmtest.WhoAmI())
	deploy(t, rt, "asker", vmtest.AskWhoAmI("who"))
	backend, _ := vmtest.Backend()
	ctx := context.Background()

	res, err := rt.Execute(ctx, request("asker", backend), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(res.Data) != "asker" {
		t.Errorf("execute: caller = %q", res.Data)
	}

	res, err = rt.Query(ctx, request("asker", backend), nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if string(res.Data) != "asker" {
		t.Errorf("query: caller = %q", res.Data)
	}

	req := request("who", backend)
	req.Sender = "alice"
	res, err = rt.Query(ctx, req, nil)
	if err != nil {
		t.Fatalf("top-level: %v", err)
	}
	if string(res.Data) != "alice" {
		t.Errorf("top-level caller = %q", res.Data)
	}

	res, err = rt.Query(ctx, request("who", backend), nil)
	if err != nil || res.Data != nil {
		t.Errorf("no sender = %q, %v", res.Data, err)
	}
}

func TestLink_ValidateInterface(t *testing.T) {
	rt := newRuntime(t)
	deploy(t, rt, "checker", vmtest.CheckInterface("beta"))
	deploy(t, rt, "beta", vmtest.Relay(vmtest.RelayOptions{}))
	deploy(t, rt, "lost", vmtest.CheckInterface("nobody"))
	backend, _ := vmtest.Backend()
	ctx := context.Background()

	tests := []struct {
		name    string
		address string
		iface   string
		want    string
	}{
		{"match", "checker", `{"relay": "` + vmtest.BytesSignature + `"}`, ""},
		{"signature differs", "checker", `{"relay": "func() -> u32"}`, "interface_mismatch"},
		{"missing point", "checker", `{"other": "func()"}`, "interface_mismatch"},
		{"malformed", "checker", `{"relay": "func(("}`, "validation"},
		{"unknown contract", "lost", `{}`, "resolution"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := rt.Execute(ctx, request(tt.address, backend), []byte(tt.iface))
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if tt.want == "" {
				if res.Data != nil {
					t.Fatalf("unexpected error %q", res.Data)
				}
				return
			}
			if !strings.Contains(string(res.Data), tt.want) {
				t.Errorf("error = %q, want %q", res.Data, tt.want)
			}
		})
	}
}
