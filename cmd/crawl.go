package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/supacrawl/internal/crawler"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl [urls...]",
		Short: "Crawl URLs, summarize each page and upsert it into the page store",
		Long: `Fetches the given URLs (or crawler.urls from configuration) through the
worker pool, converts each page to markdown, asks the language model for a
title and summary and upserts the row keyed on URL. One job is submitted
per URL; the command exits once every job has finished.`,
		RunE: runCrawl,
	}
}

func runCrawl(cmd *cobra.Command, args []string) error {
	rt, err := appFrom(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	urls := args
	if len(urls) == 0 {
		urls = rt.cfg.Crawler.URLs
	}
	if len(urls) == 0 {
		return errors.New("no urls given and crawler.urls is empty")
	}

	var c cleanup
	defer c.run()

	st, err := openStores(ctx, rt.cfg.DB)
	if err != nil {
		return err
	}
	c.add(st.pages.Close)

	gen, err := newGenerator(ctx, rt.cfg, false, rt.logger)
	if err != nil {
		return err
	}
	p, err := newPipeline(ctx, rt.cfg, st.pages, gen, rt.logger, &c)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.dispatcher.Run(ctx)
	}()

	jobIDs := make([]string, 0, len(urls))
	for _, raw := range urls {
		u, err := crawler.NormalizePageURL(raw)
		if err != nil {
			rt.logger.Error("skipping invalid url", zap.String("url", raw), zap.Error(err))
			continue
		}
		jobID, err := p.dispatcher.Submit(ctx, crawler.JobParameters{
			URLs:            []string{u},
			HeadlessAllowed: rt.cfg.Headless.Enabled,
			RespectRobots:   rt.cfg.Crawler.RespectRobots,
		})
		if err != nil {
			rt.logger.Error("submit job failed", zap.String("url", u), zap.Error(err))
			continue
		}
		jobIDs = append(jobIDs, jobID)
	}
	p.queue.Close()
	<-done

	return printJobSummaries(context.WithoutCancel(ctx), cmd.OutOrStdout(), p.jobs, jobIDs)
}

func printJobSummaries(ctx context.Context, out io.Writer, jobs crawler.JobStore, jobIDs []string) error {
	for _, id := range jobIDs {
		job, err := jobs.GetJob(ctx, id)
		if err != nil {
			return fmt.Errorf("load job %s: %w", id, err)
		}
		url := ""
		if len(job.Parameters.URLs) > 0 {
			url = job.Parameters.URLs[0]
		}
		line := fmt.Sprintf("%-9s %s (stored=%d unchanged=%d failed=%d retries=%d)",
			job.Status, url,
			job.Counters.PagesSucceeded, job.Counters.PagesUnchanged,
			job.Counters.PagesFailed, job.Counters.Retries)
		if job.ErrorText != "" {
			line += ": " + job.ErrorText
		}
		if _, err := fmt.Fprintln(out, line); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	return nil
}
