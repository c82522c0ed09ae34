package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xraph/farmledger/idempotency"
)

func newKeyCmd() *cobra.Command {
	var (
		tenantID string
		eventID  string
		payload  string
		version  string
	)

	cmd := &cobra.Command{
		Use:   "key",
		Short: "Print the idempotency key of an event",
		Long: "Computes the key the engine derives for an event from its tenant, id, payload\n" +
			"and posting profile version. Field order in --payload does not matter.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := map[string]any{}
			if payload != "" {
				d := json.NewDecoder(bytes.NewReader([]byte(payload)))
				d.UseNumber()
				if err := d.Decode(&p); err != nil {
					return fmt.Errorf("--payload: %w", err)
				}
			}
			key, err := idempotency.Key(tenantID, eventID, p, profileVersion(version))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&eventID, "event", "", "event id")
	cmd.Flags().StringVar(&payload, "payload", "{}", "event payload as JSON")
	cmd.Flags().StringVar(&version, "profile-version", "", "posting profile version (default $"+envProfileVersion+" or v1)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}
