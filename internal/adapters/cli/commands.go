package cli

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"flowdistributor/internal/app"
	"flowdistributor/internal/core"

	"github.com/spf13/cobra"
)

// ── Queries ───────────────────────────────────────────────────────────────────

func bucketsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "buckets",
		Aliases: []string{"bal"},
		Short:   "List buckets and their capital",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := service(cmd).ListBuckets(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printBuckets(cmd.OutOrStdout(), res.Buckets)
			return nil
		},
	}
}

func statementCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "statement BUCKET",
		Short: "Show every movement of a bucket with its running balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var from, to time.Time
			var err error
			if s := flagString(cmd, "from"); s != "" {
				if from, err = time.Parse("2006-01-02", s); err != nil {
					return fmt.Errorf("--from: %w", err)
				}
			}
			if s := flagString(cmd, "to"); s != "" {
				if to, err = time.Parse("2006-01-02", s); err != nil {
					return fmt.Errorf("--to: %w", err)
				}
				to = to.Add(24*time.Hour - time.Nanosecond)
			}
			res, err := service(cmd).GetBucketStatement(cmd.Context(), args[0], from, to)
			if err != nil {
				return err
			}
			if asJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), res)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s (%s): capital %s\n", res.Bucket.Name, res.Bucket.ID, res.Bucket.Capital.StringFixed(2))
			fmt.Fprintf(w, "%-10s %-9s %12s %12s %12s  %s\n", "DATE", "TYPE", "IN", "OUT", "BALANCE", "NOTE")
			for _, l := range res.Lines {
				fmt.Fprintf(w, "%-10s %-9s %12s %12s %12s  %s\n", l.Date.Format("2006-01-02"), l.Type,
					l.In.StringFixed(2), l.Out.StringFixed(2), l.RunningBalance.StringFixed(2), l.Note)
			}
			return nil
		},
	}
	cmd.Flags().String("from", "", "First day (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "Last day (YYYY-MM-DD)")
	return cmd
}

func dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show cash, stock, receivables and payables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := service(cmd).GetDashboard(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), sum)
			}
			w := cmd.OutOrStdout()
			printBuckets(w, sum.Buckets)
			fmt.Fprintf(w, "Cash:        %12s\n", sum.Cash.StringFixed(2))
			fmt.Fprintf(w, "Stock:       %12s\n", sum.Stock.StringFixed(2))
			fmt.Fprintf(w, "Receivable:  %12s  (%d open sales)\n", sum.Receivable.StringFixed(2), sum.OpenSales)
			fmt.Fprintf(w, "Payable:     %12s  (%d open purchase orders)\n", sum.Payable.StringFixed(2), sum.OpenPurchaseOrders)
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Replay the ledger and compare it with stored balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := service(cmd).Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON(cmd) {
				if err := printJSON(cmd.OutOrStdout(), rep); err != nil {
					return err
				}
			} else {
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "%d entries replayed\n", rep.Entries)
				for _, d := range rep.BucketDrifts {
					fmt.Fprintf(w, "bucket %s: stored %s, replayed %s\n", d.BucketID, d.Stored.StringFixed(2), d.Replayed.StringFixed(2))
				}
				for _, d := range rep.RecordDrifts {
					fmt.Fprintf(w, "record %s: stored %s, replayed %s\n", d.RecordID, d.Stored.StringFixed(2), d.Replayed.StringFixed(2))
				}
				for _, id := range rep.UnbalancedEntry {
					fmt.Fprintf(w, "entry %s does not balance\n", id)
				}
			}
			if !rep.OK() {
				return fmt.Errorf("ledger does not reconcile")
			}
			if !asJSON(cmd) {
				fmt.Fprintln(cmd.OutOrStdout(), "OK")
			}
			return nil
		},
	}
}

func recordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "List sales and purchase orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := service(cmd).ListRecords(cmd.Context(), core.RecordFilter{
				Kind:    core.RecordKind(flagString(cmd, "kind")),
				Status:  core.RecordStatus(flagString(cmd, "status")),
				PartyID: flagString(cmd, "party"),
			})
			if err != nil {
				return err
			}
			if asJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printRecords(cmd.OutOrStdout(), res.Records)
			return nil
		},
	}
	cmd.Flags().String("kind", "", "sale or purchase_order")
	cmd.Flags().String("status", "", "pending, partial or paid")
	cmd.Flags().String("party", "", "Party ID")
	return cmd
}

func recordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "record ID",
		Short: "Show one record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := service(cmd).GetRecord(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func partiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parties",
		Short: "List clients or distributors with what they owe or are owed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := service(cmd).ListParties(cmd.Context(), core.PartyKind(flagString(cmd, "kind")))
			if err != nil {
				return err
			}
			if asJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), res)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-38s %-12s %-20s %12s %5s\n", "ID", "KIND", "NAME", "OUTSTANDING", "OPEN")
			for _, p := range res.Parties {
				fmt.Fprintf(w, "%-38s %-12s %-20s %12s %5d\n",
					p.Party.ID, p.Party.Kind, p.Party.Name, p.Outstanding.StringFixed(2), p.OpenRecords)
			}
			return nil
		},
	}
	cmd.Flags().String("kind", "client", "client or distributor")
	return cmd
}

func entriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entries",
		Short: "List ledger entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := core.EntryFilter{
				RecordID: flagString(cmd, "record"),
				BucketID: flagString(cmd, "bucket"),
				Type:     core.EntryType(flagString(cmd, "type")),
			}
			if csvOut, _ := cmd.Flags().GetBool("csv"); csvOut {
				return service(cmd).ExportEntriesCSV(cmd.Context(), filter, cmd.OutOrStdout())
			}
			res, err := service(cmd).ListEntries(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if asJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printReceipt(cmd.OutOrStdout(), &core.Receipt{Entries: res.Entries})
			return nil
		},
	}
	cmd.Flags().String("record", "", "Record ID")
	cmd.Flags().String("bucket", "", "Bucket ID (source or target)")
	cmd.Flags().String("type", "", "income, expense, payment or transfer")
	cmd.Flags().Bool("csv", false, "Export as CSV")
	return cmd
}

// ── Records ───────────────────────────────────────────────────────────────────

func saleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sale",
		Short: "Record a sale",
		Example: `  flowctl sale --client "Juan" --line caja:10:8800:7400 --pay 5000
  flowctl sale --client-id 6f1c... --line caja:1:1000:700:100 --paid`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := app.CreateSaleRequest{
				IdempotencyKey: flagString(cmd, "key"),
				ClientID:       flagString(cmd, "client-id"),
				ClientName:     flagString(cmd, "client"),
				Notes:          flagString(cmd, "note"),
			}
			if req.ClientID == "" && req.ClientName == "" {
				return fmt.Errorf("--client or --client-id is required")
			}
			lines, _ := cmd.Flags().GetStringArray("line")
			for _, l := range lines {
				in, err := parseLine(l, true)
				if err != nil {
					return err
				}
				req.Lines = append(req.Lines, in)
			}
			if s := flagString(cmd, "pay"); s != "" {
				amt, err := parseAmount(s)
				if err != nil {
					return err
				}
				req.InitialPayment = amt
			}
			req.PayInFull, _ = cmd.Flags().GetBool("paid")

			rc, err := service(cmd).CreateSale(cmd.Context(), req)
			if err != nil {
				return err
			}
			return emitReceipt(cmd, rc)
		},
	}
	cmd.Flags().String("client", "", "Client name (created if new)")
	cmd.Flags().String("client-id", "", "Existing client ID")
	cmd.Flags().StringArray("line", nil, "product:qty:price:cost[:freight] (repeatable)")
	cmd.Flags().String("pay", "", "Initial payment")
	cmd.Flags().Bool("paid", false, "Pay the sale in full")
	return cmd
}

func purchaseOrderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "purchase-order",
		Aliases: []string{"po"},
		Short:   "Record a purchase order",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := app.CreatePurchaseOrderRequest{
				IdempotencyKey:  flagString(cmd, "key"),
				DistributorID:   flagString(cmd, "distributor-id"),
				DistributorName: flagString(cmd, "distributor"),
				Notes:           flagString(cmd, "note"),
				SourceBucket:    flagString(cmd, "from"),
			}
			if req.DistributorID == "" && req.DistributorName == "" {
				return fmt.Errorf("--distributor or --distributor-id is required")
			}
			lines, _ := cmd.Flags().GetStringArray("line")
			for _, l := range lines {
				in, err := parseLine(l, false)
				if err != nil {
					return err
				}
				req.Lines = append(req.Lines, in)
			}
			if s := flagString(cmd, "pay"); s != "" {
				amt, err := parseAmount(s)
				if err != nil {
					return err
				}
				req.InitialPayment = amt
			}

			rc, err := service(cmd).CreatePurchaseOrder(cmd.Context(), req)
			if err != nil {
				return err
			}
			return emitReceipt(cmd, rc)
		},
	}
	cmd.Flags().String("distributor", "", "Distributor name (created if new)")
	cmd.Flags().String("distributor-id", "", "Existing distributor ID")
	cmd.Flags().StringArray("line", nil, "product:qty:cost (repeatable)")
	cmd.Flags().String("pay", "", "Initial payment")
	cmd.Flags().String("from", "", "Bucket the initial payment comes from")
	return cmd
}

// ── Payments & movements ──────────────────────────────────────────────────────

func paySaleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pay-sale RECORD_ID AMOUNT",
		Short: "Record an abono on one sale",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			rc, err := service(cmd).PaySale(cmd.Context(), app.PaySaleRequest{
				IdempotencyKey: flagString(cmd, "key"),
				RecordID:       args[0],
				Amount:         amt,
				Note:           flagString(cmd, "note"),
			})
			if err != nil {
				return err
			}
			return emitReceipt(cmd, rc)
		},
	}
}

func payClientCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pay-client CLIENT_ID AMOUNT",
		Short: "Apply a client payment to their open sales, oldest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			rc, err := service(cmd).PayClient(cmd.Context(), app.PayClientRequest{
				IdempotencyKey: flagString(cmd, "key"),
				ClientID:       args[0],
				Amount:         amt,
				Note:           flagString(cmd, "note"),
			})
			if err != nil {
				return err
			}
			return emitReceipt(cmd, rc)
		},
	}
}

func payDistributorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pay-distributor DISTRIBUTOR_ID AMOUNT",
		Short: "Pay a distributor from a bucket",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			rc, err := service(cmd).PayDistributor(cmd.Context(), app.PayDistributorRequest{
				IdempotencyKey: flagString(cmd, "key"),
				DistributorID:  args[0],
				RecordID:       flagString(cmd, "record"),
				SourceBucket:   flagString(cmd, "from"),
				Amount:         amt,
				Note:           flagString(cmd, "note"),
			})
			if err != nil {
				return err
			}
			return emitReceipt(cmd, rc)
		},
	}
	cmd.Flags().String("from", "", "Bucket the money comes from")
	cmd.Flags().String("record", "", "Pay only this purchase order")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func expenseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expense BUCKET AMOUNT",
		Short: "Record money leaving a bucket",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			rc, err := service(cmd).RecordExpense(cmd.Context(), app.ExpenseRequest{
				IdempotencyKey: flagString(cmd, "key"),
				BucketID:       args[0],
				Amount:         amt,
				Note:           flagString(cmd, "note"),
			})
			if err != nil {
				return err
			}
			return emitReceipt(cmd, rc)
		},
	}
}

func incomeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "income BUCKET AMOUNT",
		Short: "Record money entering a bucket",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			rc, err := service(cmd).RecordIncome(cmd.Context(), app.IncomeRequest{
				IdempotencyKey: flagString(cmd, "key"),
				BucketID:       args[0],
				Amount:         amt,
				Note:           flagString(cmd, "note"),
			})
			if err != nil {
				return err
			}
			return emitReceipt(cmd, rc)
		},
	}
}

func transferCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transfer FROM TO AMOUNT",
		Short: "Move money between buckets",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := parseAmount(args[2])
			if err != nil {
				return err
			}
			rc, err := service(cmd).RecordTransfer(cmd.Context(), app.TransferRequest{
				IdempotencyKey: flagString(cmd, "key"),
				From:           args[0],
				To:             args[1],
				Amount:         amt,
				Note:           flagString(cmd, "note"),
			})
			if err != nil {
				return err
			}
			return emitReceipt(cmd, rc)
		},
	}
}

// ── AI ────────────────────────────────────────────────────────────────────────

func askCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask TEXT",
		Short: "Describe a payment in plain words and confirm it",
		Example: `  flowctl ask "Juan abonó 5000 a su venta V-000042"
  flowctl ask --yes "pagué 2000 de fletes por gasolina"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := service(cmd)
			res, err := svc.InterpretPayment(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "SUMMARY:    %s\n", res.Summary)
			fmt.Fprintf(w, "REASONING:  %s\n", res.Intent.Reasoning)
			fmt.Fprintf(w, "CONFIDENCE: %.2f\n", res.Intent.Confidence)
			if !res.Ready {
				for _, p := range res.Problems {
					fmt.Fprintf(w, "  - %s\n", p)
				}
				return fmt.Errorf("cannot record this payment as described")
			}
			if res.Intent.Confidence < 0.6 {
				fmt.Fprintln(w, "WARNING: Low confidence interpretation.")
			}

			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				fmt.Fprint(w, "Record this payment? (y/n): ")
				choice, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				choice = strings.ToLower(strings.TrimSpace(choice))
				if choice != "y" && choice != "yes" {
					fmt.Fprintln(w, "Cancelled.")
					return nil
				}
			}
			rc, err := svc.ExecuteIntent(cmd.Context(), res.Intent, flagString(cmd, "key"))
			if err != nil {
				return err
			}
			return emitReceipt(cmd, rc)
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "Record without asking")
	return cmd
}
