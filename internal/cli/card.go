package cli

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SimplyPrint/pcsc-agent/internal/api"
	"github.com/SimplyPrint/pcsc-agent/internal/pcsc"
)

func newStatusCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <reader>",
		Short: "Show the state, protocol and ATR of the card in a reader",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := args[0]

			ctx, err := o.establish()
			if err != nil {
				return err
			}
			defer ctx.Close()

			card, err := ctx.Connect(reader, pcsc.ShareShared, pcsc.ProtocolsT0|pcsc.ProtocolsT1)
			if err != nil {
				return fmt.Errorf("connect to %q: %w", reader, err)
			}
			defer card.Close()

			status, proto, err := card.Status()
			if err != nil {
				return fmt.Errorf("card status: %w", err)
			}
			result := api.CardStatus{
				Reader:   reader,
				Status:   status.String(),
				Protocol: proto.String(),
			}
			atr, err := card.GetAttribute(pcsc.AttrAtrString, make([]byte, 64))
			switch {
			case err == nil:
				result.ATR = hex.EncodeToString(atr)
			case errors.Is(err, pcsc.ErrUnsupportedFeature):
			default:
				o.printVerbose("reading ATR failed: %v", err)
			}

			if err := card.Disconnect(pcsc.LeaveCard); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if o.jsonOutput {
				return printJSON(out, result)
			}
			fmt.Fprintf(out, "Reader:   %s\n", result.Reader)
			fmt.Fprintf(out, "Status:   %s\n", result.Status)
			fmt.Fprintf(out, "Protocol: %s\n", result.Protocol)
			if result.ATR != "" {
				fmt.Fprintf(out, "ATR:      %s\n", strings.ToUpper(result.ATR))
			}
			return nil
		},
	}
}

func newTransmitCmd(o *options) *cobra.Command {
	var exclusive bool

	cmd := &cobra.Command{
		Use:   "transmit <reader> <apdu>...",
		Short: "Send APDUs to the card in a reader inside one transaction",
		Long: `Send one or more hex encoded APDUs to the card in a reader. All of
them are exchanged inside a single transaction, in order.

Example:
  pcsc-agent transmit "ACS ACR1252 Dual Reader PICC" "FF CA 00 00 00"`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := args[0]

			apdus := make([][]byte, 0, len(args)-1)
			for _, arg := range args[1:] {
				apdu, err := hex.DecodeString(strings.ReplaceAll(arg, " ", ""))
				if err != nil || len(apdu) == 0 {
					return fmt.Errorf("invalid APDU %q: must be a non-empty hex string", arg)
				}
				if len(apdu) > pcsc.MaxBufferSizeExtended {
					return fmt.Errorf("APDU %q is too long", arg)
				}
				apdus = append(apdus, apdu)
			}

			mode := pcsc.ShareShared
			if exclusive {
				mode = pcsc.ShareExclusive
			}

			ctx, err := o.establish()
			if err != nil {
				return err
			}
			defer ctx.Close()

			card, err := ctx.Connect(reader, mode, pcsc.ProtocolsT0|pcsc.ProtocolsT1)
			if err != nil {
				return fmt.Errorf("connect to %q: %w", reader, err)
			}
			defer card.Close()
			o.printVerbose("connected to %s using %s", reader, card.ActiveProtocol())

			tx, err := card.Transaction()
			if err != nil {
				return fmt.Errorf("begin transaction: %w", err)
			}
			defer tx.Close()

			recv := make([]byte, pcsc.MaxBufferSizeExtended)
			results := make([]api.TransmitResponse, 0, len(apdus))
			out := cmd.OutOrStdout()
			for _, apdu := range apdus {
				rsp, err := tx.Transmit(apdu, recv)
				if err != nil {
					return fmt.Errorf("transmit %X: %w", apdu, err)
				}
				result := api.TransmitResponse{
					Response: hex.EncodeToString(rsp),
					Protocol: tx.ActiveProtocol().String(),
				}
				if len(rsp) >= 2 {
					result.SW = hex.EncodeToString(rsp[len(rsp)-2:])
				}
				results = append(results, result)

				if !o.jsonOutput {
					fmt.Fprintf(out, "> %X\n", apdu)
					fmt.Fprintf(out, "< %X\n", rsp)
				}
			}

			if err := tx.End(pcsc.LeaveCard); err != nil {
				return err
			}
			if err := card.Disconnect(pcsc.LeaveCard); err != nil {
				return err
			}

			if o.jsonOutput {
				return printJSON(out, results)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&exclusive, "exclusive", false, "connect in exclusive mode")
	return cmd
}
