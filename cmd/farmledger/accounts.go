package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xraph/farmledger/account"
)

func newAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "Print the default chart of accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tNAME\tTYPE\tSUBTYPE\tNORMAL")
			for _, tpl := range account.DefaultChart {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					tpl.Code, tpl.Name, tpl.Type, tpl.Subtype, account.NormalBalanceFor(tpl.Type))
			}
			return w.Flush()
		},
	}
}
