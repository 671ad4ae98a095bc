package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"flowdistributor/internal/app"
	"flowdistributor/internal/core"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// Opener builds the application service for one command run. The returned func
// releases whatever it opened.
type Opener func(ctx context.Context) (app.ApplicationService, func(), error)

type ctxKey struct{}

// NewRootCommand returns the flowctl command tree and a cleanup func that releases
// whatever open returned. Subcommands call open lazily, so `flowctl --help` works
// without a database.
func NewRootCommand(open Opener) (*cobra.Command, func()) {
	cleanup := func() {}
	root := &cobra.Command{
		Use:           "flowctl",
		Short:         "Operate the FlowDistributor ledger from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			cleanup = closeFn
			cmd.SetContext(context.WithValue(cmd.Context(), ctxKey{}, svc))
			return nil
		},
	}
	root.PersistentFlags().Bool("json", false, "Print results as JSON")
	root.PersistentFlags().String("key", "", "Idempotency key for commands that move money")
	root.PersistentFlags().String("note", "", "Note stored on the ledger entry")

	root.AddCommand(
		bucketsCmd(), statementCmd(), dashboardCmd(), reconcileCmd(),
		recordsCmd(), recordCmd(), partiesCmd(), entriesCmd(),
		saleCmd(), purchaseOrderCmd(),
		paySaleCmd(), payClientCmd(), payDistributorCmd(),
		expenseCmd(), incomeCmd(), transferCmd(),
		askCmd(),
	)
	return root, func() { cleanup() }
}

func service(cmd *cobra.Command) app.ApplicationService {
	return cmd.Context().Value(ctxKey{}).(app.ApplicationService)
}

func asJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func flagString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	return d, nil
}

// parseLine parses "product:qty:price:cost[:freight]" for sales and
// "product:qty:cost" for purchase orders.
func parseLine(s string, sale bool) (app.LineInput, error) {
	parts := strings.Split(s, ":")
	want := "product:qty:cost"
	if sale {
		want = "product:qty:price:cost[:freight]"
	}
	if (sale && (len(parts) < 4 || len(parts) > 5)) || (!sale && len(parts) != 3) {
		return app.LineInput{}, fmt.Errorf("line %q: want %s", s, want)
	}
	nums := make([]decimal.Decimal, len(parts)-1)
	for i, p := range parts[1:] {
		d, err := decimal.NewFromString(p)
		if err != nil {
			return app.LineInput{}, fmt.Errorf("line %q: invalid number %q", s, p)
		}
		nums[i] = d
	}
	in := app.LineInput{Product: parts[0], Quantity: nums[0]}
	if !sale {
		in.UnitCost = nums[1]
		return in, nil
	}
	in.UnitPrice, in.UnitCost = nums[1], nums[2]
	if len(nums) == 4 {
		in.UnitFreight = nums[3]
	}
	return in, nil
}

// ── Printers ──────────────────────────────────────────────────────────────────

func printBuckets(w io.Writer, buckets []core.Bucket) {
	fmt.Fprintln(w, strings.Repeat("=", 62))
	fmt.Fprintf(w, "  %-16s %-22s %-8s %12s\n", "ID", "NAME", "KIND", "CAPITAL")
	fmt.Fprintln(w, strings.Repeat("-", 62))
	for _, b := range buckets {
		fmt.Fprintf(w, "  %-16s %-22s %-8s %12s\n", b.ID, b.Name, b.Kind, b.Capital.StringFixed(2))
	}
	fmt.Fprintln(w, strings.Repeat("=", 62))
}

func printRecords(w io.Writer, recs []core.Record) {
	fmt.Fprintf(w, "%-12s %-16s %-20s %12s %12s %-8s\n", "NUMBER", "KIND", "PARTY", "TOTAL", "PAID", "STATUS")
	fmt.Fprintln(w, strings.Repeat("-", 86))
	for _, r := range recs {
		fmt.Fprintf(w, "%-12s %-16s %-20s %12s %12s %-8s\n",
			r.Number, r.Kind, r.PartyName, r.Total.StringFixed(2), r.PaidToDate.StringFixed(2), r.Status)
	}
}

func printReceipt(w io.Writer, rc *core.Receipt) {
	for _, e := range rc.Entries {
		fmt.Fprintf(w, "%s %-8s %12s", e.ID, e.Type, e.Amount.StringFixed(2))
		if e.SourceBucket != "" {
			fmt.Fprintf(w, "  from %s", e.SourceBucket)
		}
		fmt.Fprintln(w)
		for _, l := range e.Breakdown {
			fmt.Fprintf(w, "    → %-16s %12s\n", l.Target, l.Amount.StringFixed(2))
		}
	}
	for _, r := range rc.Records {
		fmt.Fprintf(w, "%s %s: paid %s of %s (%s)\n",
			r.Kind, r.Number, r.PaidToDate.StringFixed(2), r.Total.StringFixed(2), r.Status)
	}
}

func emitReceipt(cmd *cobra.Command, rc *core.Receipt) error {
	if asJSON(cmd) {
		return printJSON(cmd.OutOrStdout(), rc)
	}
	printReceipt(cmd.OutOrStdout(), rc)
	return nil
}
