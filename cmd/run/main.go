// Command run executes contracts against a local runtime.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/contract-vm/engine"
	"github.com/wippyai/contract-vm/runtime"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:          "run",
		Short:        "Run smart contracts in a sandboxed wasm runtime",
		SilenceUsage: true,
	}
	opts.register(root)
	root.AddCommand(
		newCallCommand(opts),
		newInspectCommand(opts),
		newInteractiveCommand(opts),
	)
	return root
}

type callOptions struct {
	address     string
	entry       string
	msg         string
	msgFile     string
	sender      string
	gasLimit    uint64
	instantiate bool
	initMsg     string
	readOnly    bool
	json        bool
	metrics     bool
}

func newCallCommand(global *globalOptions) *cobra.Command {
	var opts callOptions
	cmd := &cobra.Command{
		Use:   "call [OPTIONS] FILE",
		Short: "Deploy a contract and call one entry point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd.Context(), cmd.OutOrStdout(), global, opts, args[0])
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.address, "address", "a", "contract", "Address to deploy the contract at")
	flags.StringVarP(&opts.entry, "entry", "e", engine.EntryExecute, "Entry point to call")
	flags.StringVarP(&opts.msg, "msg", "m", "", "Message passed to the entry point")
	flags.StringVar(&opts.msgFile, "msg-file", "", "Read the message from a file")
	flags.StringVar(&opts.sender, "sender", "", "Address of the top-level caller")
	flags.Uint64Var(&opts.gasLimit, "gas", 100_000_000, "Gas limit")
	flags.BoolVar(&opts.instantiate, "instantiate", false, "Call instantiate before the entry point")
	flags.StringVar(&opts.initMsg, "init-msg", "", "Message passed to instantiate")
	flags.BoolVar(&opts.readOnly, "read-only", false, "Reject storage writes")
	flags.BoolVar(&opts.json, "json", false, "Print the result as JSON")
	flags.BoolVar(&opts.metrics, "metrics", false, "Print runtime metrics after the call")
	return cmd
}

// callOutput is the JSON form of a call result.
type callOutput struct {
	Address string `json:"address"`
	Entry   string `json:"entry"`
	Data    string `json:"data"`
	DataHex string `json:"data_hex"`
	GasUsed uint64 `json:"gas_used"`
	GasLeft uint64 `json:"gas_left"`
}

func runCall(ctx context.Context, out io.Writer, global *globalOptions, opts callOptions, path string) error {
	msg := []byte(opts.msg)
	if opts.msgFile != "" {
		data, err := os.ReadFile(opts.msgFile)
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		msg = data
	}

	a, err := newApp(ctx, global)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	if _, err := a.deploy(ctx, opts.address, path); err != nil {
		return err
	}

	req := runtime.CallRequest{
		Address:  opts.address,
		Backend:  a.backend,
		GasLimit: opts.gasLimit,
		ReadOnly: opts.readOnly,
		Sender:   opts.sender,
	}
	if opts.instantiate && opts.entry != engine.EntryInstantiate {
		if _, err := a.rt.Instantiate(ctx, req, []byte(opts.initMsg)); err != nil {
			return fmt.Errorf("instantiate: %w", err)
		}
	}

	req.Entry = opts.entry
	req.Args = [][]byte{msg}
	res, err := a.rt.Call(ctx, req)
	if err != nil {
		return fmt.Errorf("%s: %w", opts.entry, err)
	}

	if opts.json || !isTerminal(out) {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(callOutput{
			Address: opts.address,
			Entry:   opts.entry,
			Data:    string(res.Data),
			DataHex: hex.EncodeToString(res.Data),
			GasUsed: res.GasUsed,
			GasLeft: res.GasLeft,
		}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "%s %s\n", titleStyle.Render(opts.entry), opts.address)
		fmt.Fprintf(out, "result:   %s\n", resultStyle.Render(printable(res.Data)))
		fmt.Fprintf(out, "gas used: %d\n", res.GasUsed)
		fmt.Fprintf(out, "gas left: %d\n", res.GasLeft)
	}

	if opts.metrics {
		return writeMetrics(out, a)
	}
	return nil
}

func newInspectCommand(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE",
		Short: "Validate a contract and print its static information as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, global)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			code, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			checksum, err := a.rt.StoreCode(ctx, code)
			if err != nil {
				return err
			}
			info, err := a.rt.Info(ctx, checksum)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Checksum string `json:"checksum"`
				*engine.Info
			}{checksum.String(), info})
		},
	}
}

func writeMetrics(out io.Writer, a *app) error {
	families, err := a.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(out, mf); err != nil {
			return err
		}
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// printable returns data as text when it is valid printable UTF-8 and as
// hex otherwise.
func printable(data []byte) string {
	for _, r := range string(data) {
		if r == 0xFFFD || (r < 0x20 && r != '\n' && r != '\t') {
			return "0x" + hex.EncodeToString(data)
		}
	}
	return string(data)
}
