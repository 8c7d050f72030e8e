/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
	"encoding/json"
	"fmt"

	"github.com/HamedShams/timepulse/internal/app"
	"github.com/HamedShams/timepulse/internal/config"
	"github.com/HamedShams/timepulse/internal/logger"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var year int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once in-process and print its summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if year != 0 {
				cfg.ReportYear = year
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log := logger.New(cfg)

			a, err := app.Build(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			res, runErr := a.Service.Run(cmd.Context(), "cli")
			if res != nil {
				out, err := json.MarshalIndent(res, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			}
			return runErr
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "Report year (defaults to REPORT_YEAR)")
	return cmd
}
