package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-dali/internal/bridges/dali"
	"github.com/nerrad567/gray-logic-dali/internal/commissioning"
)

type commissionOptions struct {
	jsonOut bool
	noStore bool
}

func newCommissionCmd(flags *globalFlags) *cobra.Command {
	opts := &commissionOptions{}
	cmd := &cobra.Command{
		Use:   "commission",
		Short: "Assign short addresses to new devices and exit",
		Long: `Runs one commissioning pass against the configured gateway: scans the
addresses already in use, randomises unaddressed devices and binds each one
found to the lowest free short address.

Exit status is 0 when every device was addressed, 2 when the 64 short
addresses ran out, and 1 on any other failure.

Do not run this while the service is running against the same bus.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCommission(cmd.Context(), flags, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print the result as JSON")
	cmd.Flags().BoolVar(&opts.noStore, "no-store", false, "do not record the run in the database")
	return cmd
}

func runCommission(ctx context.Context, flags *globalFlags, opts *commissionOptions, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	log := commandLogger(flags, cfg, stderr)
	if !cfg.DALI.Enabled {
		return errors.New("dali is disabled in config")
	}

	var store commissioning.ResultStore
	if !opts.noStore {
		db, err := openDatabase(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer db.Close()
		store = commissioning.NewSQLiteRepository(db.DB)
	}

	influxClient, err := connectInflux(cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer influxClient.Close()
	}

	gateway, err := connectGateway(ctx, cfg.DALI, log)
	if err != nil {
		return err
	}
	defer gateway.Close()

	c := commissioning.NewCommissioner(dali.NewGatewayBus(gateway), commissioning.Options{
		Logger:  log,
		Store:   store,
		Metrics: runMetrics(influxClient),
	})

	res, runErr := c.Run(ctx)
	if res != nil {
		if err := printResult(stdout, res, opts.jsonOut); err != nil {
			return err
		}
	}
	return runErr
}

func newScanCmd(flags *globalFlags) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List the short addresses in use on the bus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			log := commandLogger(flags, cfg, cmd.ErrOrStderr())
			if !cfg.DALI.Enabled {
				return errors.New("dali is disabled in config")
			}

			gateway, err := connectGateway(cmd.Context(), cfg.DALI, log)
			if err != nil {
				return err
			}
			defer gateway.Close()

			c := commissioning.NewCommissioner(dali.NewGatewayBus(gateway), commissioning.Options{Logger: log})
			used, err := c.ScanOnly(cmd.Context())
			if err != nil {
				return err
			}
			return printScan(cmd.OutOrStdout(), used, jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the result as JSON")
	return cmd
}

// printResult renders a run for an installer, or as JSON for scripts.
func printResult(w io.Writer, res *commissioning.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %s in %s\n", res.RunID, res.Phase, res.Duration().Round(time.Millisecond))
	fmt.Fprintf(&b, "Addresses already in use: %d %s\n", res.Used.Len(), joinAddresses(res.Used.Addresses()))
	fmt.Fprintf(&b, "Assigned: %d\n", len(res.Assignments))
	for _, a := range res.Assignments {
		note := ""
		if !a.Verified {
			note = " (verify failed)"
		}
		fmt.Fprintf(&b, "  %s -> %d%s\n", a.Random, a.Short, note)
	}
	if len(res.Unassigned) > 0 {
		fmt.Fprintf(&b, "Unassigned: %d\n", len(res.Unassigned))
		for _, r := range res.Unassigned {
			fmt.Fprintf(&b, "  %s\n", r)
		}
	}
	fmt.Fprintf(&b, "Compare probes: %d\n", res.Probes)
	if res.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", res.Error)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

type scanOutput struct {
	Used  commissioning.AddressSet `json:"used"`
	Count int                      `json:"count"`
}

func printScan(w io.Writer, used commissioning.AddressSet, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(scanOutput{Used: used, Count: used.Len()})
	}
	_, err := fmt.Fprintf(w, "%d addresses in use %s\n", used.Len(), joinAddresses(used.Addresses()))
	return err
}

func joinAddresses(addrs []dali.ShortAddress) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}
