package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/SimplyPrint/pcsc-agent/internal/api"
	"github.com/SimplyPrint/pcsc-agent/internal/pcsc"
)

func newReadersCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "readers",
		Short: "List connected readers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := o.establish()
			if err != nil {
				return err
			}
			defer ctx.Close()

			names, err := ctx.ListReaderNames(o.cfg.ReaderBuffer)
			if err != nil {
				return fmt.Errorf("list readers: %w", err)
			}
			readers := api.ReadersFromNames(names)

			out := cmd.OutOrStdout()
			if o.jsonOutput {
				return printJSON(out, readers)
			}
			if len(readers) == 0 {
				fmt.Fprintln(out, "No readers found")
				return nil
			}
			for _, r := range readers {
				fmt.Fprintf(out, "%s\t%s\t%s\n", r.ID, r.Type, r.Name)
			}
			return nil
		},
	}
}

// establish opens a context on the calling goroutine with the configured
// scope.
func (o *options) establish() (*pcsc.Context, error) {
	o.printVerbose("establishing %s context", o.cfg.Scope)
	ctx, err := pcsc.EstablishWith(o.svc, o.cfg.Scope)
	if err != nil {
		return nil, fmt.Errorf("establish context (is the smart card service running?): %w", err)
	}
	return ctx, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
