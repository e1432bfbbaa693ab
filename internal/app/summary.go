package app

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"vadash/internal/export"
	"vadash/internal/integrations/llm"
	slackbot "vadash/internal/integrations/slack"
)

func newSummaryCmd() *cobra.Command {
	var (
		flags   queryFlags
		narrate bool
	)
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Fetch the feed and print a digest of the filtered dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := flags.query(time.Now())
			if err != nil {
				return err
			}
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.warmUp(cmd.Context(), true); err != nil {
				return err
			}
			if q, err = q.Resolve(rt.controller); err != nil {
				return err
			}

			snap := rt.controller.Query(q.Criteria, q.Level, q.View)
			narrative := ""
			if narrate {
				if !rt.cfg.LLMConfigured() {
					return fmt.Errorf("--narrate needs anthropic_api_key")
				}
				narrative, _, err = llm.New(rt.cfg.AnthropicAPIKey, rt.cfg.LLMModel, rt.logger).Narrate(cmd.Context(), snap)
				if err != nil {
					return err
				}
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), slackbot.FormatDigest(snap, narrative))
			return err
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&narrate, "narrate", false, "add an LLM-written narrative line")
	return cmd
}

func newExportCmd() *cobra.Command {
	var (
		flags queryFlags
		out   string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Fetch the feed and write the filtered dashboard as an XLSX workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := flags.query(time.Now())
			if err != nil {
				return err
			}
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.warmUp(cmd.Context(), true); err != nil {
				return err
			}
			if q, err = q.Resolve(rt.controller); err != nil {
				return err
			}

			snap := rt.controller.Query(q.Criteria, q.Level, q.View)
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := export.WriteWorkbook(f, snap); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			rt.logger.Infof("export written path=%s active=%d", out, snap.ActiveVAs)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "va-dashboard.xlsx", "output file")
	return cmd
}
