package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/supacrawl/internal/report"
)

func newReportCmd() *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Analyze recently crawled pages and email or store a report",
		Long: `Loads pages updated within report.lookback_hours, asks the language model
for an analysis and renders it as HTML. The report is appended to the
reports table when report.store is set and emailed when email.enabled is set.
With --every the report repeats on that interval until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := appFrom(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var c cleanup
			defer c.run()

			st, err := openStores(ctx, rt.cfg.DB)
			if err != nil {
				return err
			}
			c.add(st.pages.Close)

			gen, err := newGenerator(ctx, rt.cfg, true, rt.logger)
			if err != nil {
				return err
			}
			mailer, err := newMailer(rt.cfg.Email, rt.logger)
			if err != nil {
				return err
			}
			blobs, err := newBlobStore(ctx, rt.cfg.Storage, &c)
			if err != nil {
				return err
			}
			pub, err := newPublisher(ctx, rt.cfg.PubSub, &c)
			if err != nil {
				return err
			}

			reporter, err := report.New(report.Deps{
				Pages:     st.pages,
				Reports:   st.reports,
				Generator: gen,
				Mailer:    mailer,
				Blobs:     blobs,
				Publisher: pub,
			}, report.Config{
				TitlePrefix:   rt.cfg.Report.TitlePrefix,
				Lookback:      rt.cfg.ReportLookback(),
				MaxDocuments:  rt.cfg.Report.MaxDocuments,
				MaxInputChars: rt.cfg.LLM.MaxInputChars,
				Temperature:   rt.cfg.LLM.Temperature,
				Store:         rt.cfg.Report.Store,
				Archive:       rt.cfg.Report.Archive && blobs != nil,
				Topic:         rt.cfg.PubSub.ReportTopic,
			}, rt.logger)
			if err != nil {
				return fmt.Errorf("init reporter: %w", err)
			}

			if every > 0 {
				rt.logger.Info("scheduling reports", zap.Duration("every", every))
				return reporter.Schedule(ctx, every)
			}
			rep, err := reporter.Run(ctx)
			if err != nil {
				return fmt.Errorf("run report: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "report %d %s: %d documents\n", rep.ID, rep.Status, rep.DocumentsAnalyzed)
			return err
		},
	}
	cmd.Flags().DurationVar(&every, "every", 0, "repeat the report on this interval (e.g. 24h) until interrupted")
	return cmd
}
