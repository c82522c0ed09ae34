package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xraph/farmledger"
	"github.com/xraph/farmledger/event"
	"github.com/xraph/farmledger/inventory"
	"github.com/xraph/farmledger/journal"
	"github.com/xraph/farmledger/requisition"
	"github.com/xraph/farmledger/store/memory"
	"github.com/xraph/farmledger/tenant"
)

func newSimulateCmd(root *rootOptions) *cobra.Command {
	var (
		fixturePath string
		version     string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Post a YAML fixture through an in-memory engine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fx, err := loadFixture(fixturePath)
			if err != nil {
				return err
			}
			sim, err := simulate(cmd.Context(), fx, profileVersion(version), root.logger)
			if err != nil {
				return err
			}
			return sim.render(cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&fixturePath, "fixture", "f", "", "fixture file (YAML)")
	cmd.Flags().StringVar(&version, "profile-version", "", "posting profile version (default $"+envProfileVersion+" or v1)")
	_ = cmd.MarkFlagRequired("fixture")
	return cmd
}

type outcome struct {
	Index    int
	Event    *event.Event
	Result   *farmledger.PostingResult
	Err      error
	Reversal *farmledger.Reversal
	Entries  []*journal.Entry
}

type simulation struct {
	outcomes     []outcome
	balances     []*inventory.Balance
	requisitions []*requisition.Requisition
}

func simulate(ctx context.Context, fx *Fixture, version string, logger *slog.Logger) (*simulation, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	mem := memory.New()
	eng := farmledger.New(mem,
		farmledger.WithLogger(logger),
		farmledger.WithPostingProfileVersion(version),
		farmledger.WithWorkerID("farmledger-cli"),
	)
	if err := eng.Start(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = eng.Stop() }()

	tenantID := fx.Tenant.ID
	if err := mem.CreateTenant(ctx, &tenant.Tenant{ID: tenantID, Name: fx.Tenant.Name, Settings: fx.Tenant.Settings}); err != nil {
		return nil, err
	}
	for _, fi := range fx.Items {
		it, err := fi.build(tenantID)
		if err != nil {
			return nil, err
		}
		if err := mem.CreateItem(ctx, it); err != nil {
			return nil, err
		}
	}
	if _, err := eng.SeedChartOfAccounts(ctx, tenantID); err != nil {
		return nil, err
	}

	sim := &simulation{}
	sites := map[string]bool{}
	for i, fe := range fx.Events {
		sites[fe.SiteID] = true
		if to, ok := fe.Payload["toSiteId"].(string); ok && to != "" {
			sites[to] = true
		}

		evt := &event.Event{
			TenantID:   tenantID,
			SiteID:     fe.SiteID,
			Type:       fe.Type,
			Payload:    fe.Payload,
			OccurredAt: fe.OccurredAt,
			CreatedBy:  "simulate",
		}
		o := outcome{Index: i + 1, Event: evt}
		if err := eng.SubmitEvent(ctx, evt); err != nil {
			o.Err = err
			sim.outcomes = append(sim.outcomes, o)
			continue
		}
		o.Result, o.Err = eng.ProcessEvent(ctx, tenantID, evt.ID, "")
		if o.Err == nil {
			entries, err := eng.GetEntries(ctx, tenantID, o.Result.TransactionID)
			if err != nil {
				return nil, err
			}
			o.Entries = entries
			if fe.Reverse != "" {
				o.Reversal, o.Err = eng.ReverseTransaction(ctx, tenantID, o.Result.TransactionID, fe.Reverse)
			}
		}
		sim.outcomes = append(sim.outcomes, o)
	}

	siteIDs := make([]string, 0, len(sites))
	for s := range sites {
		siteIDs = append(siteIDs, s)
	}
	sort.Strings(siteIDs)
	for _, s := range siteIDs {
		for _, fi := range fx.Items {
			b, err := eng.GetBalance(ctx, tenantID, s, fi.ID)
			if err != nil {
				return nil, err
			}
			if b.Version == 0 {
				continue
			}
			sim.balances = append(sim.balances, b)
		}
	}

	reqs, err := eng.ListRequisitions(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	sim.requisitions = reqs
	return sim, nil
}

func (s *simulation) render(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "#\tTYPE\tSITE\tRESULT\tTRANSACTION\tENTRIES")
	for _, o := range s.outcomes {
		switch {
		case o.Err != nil:
			fmt.Fprintf(w, "%d\t%s\t%s\tFAILED: %v\t-\t-\n", o.Index, o.Event.Type, o.Event.SiteID, o.Err)
		case o.Reversal != nil:
			fmt.Fprintf(w, "%d\t%s\t%s\tREVERSED by %s\t%s\t%d\n", o.Index, o.Event.Type, o.Event.SiteID,
				o.Reversal.Transaction.ID, o.Result.TransactionID, o.Result.EntriesCount)
		default:
			fmt.Fprintf(w, "%d\t%s\t%s\tPOSTED\t%s\t%d\n", o.Index, o.Event.Type, o.Event.SiteID,
				o.Result.TransactionID, o.Result.EntriesCount)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintln(w, "#\tACCOUNT\tDEBIT\tCREDIT\tMEMO")
	for _, o := range s.outcomes {
		for _, e := range o.Entries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", o.Index, e.AccountCode, e.Debit.StringFixed(2), e.Credit.StringFixed(2), e.Memo)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintln(w, "SITE\tITEM\tQTY\tAVG COST\tVALUE")
	for _, b := range s.balances {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", b.SiteID, b.ItemID, b.QtyOnHand.String(),
			b.AvgCostPerUnit.StringFixed(4), b.TotalValue().StringFixed(2))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(s.requisitions) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(w, "REQUISITION\tSITE\tITEM\tQTY\tEST. COST\tSTATUS")
		for _, r := range s.requisitions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.SiteID, r.ItemID, r.Qty.String(),
				r.EstimatedCost.StringFixed(2), r.Status)
		}
	}
	return w.Flush()
}
