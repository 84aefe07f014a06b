package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/supacrawl/internal/chat"
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Ask questions about crawled pages in plain language",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := appFrom(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			st, err := openStores(ctx, rt.cfg.DB)
			if err != nil {
				return err
			}
			defer st.pages.Close()

			gen, err := newGenerator(ctx, rt.cfg, false, rt.logger)
			if err != nil {
				return err
			}
			r, err := newRouter(rt.cfg, st.pages, gen, rt.logger)
			if err != nil {
				return err
			}
			repl, err := chat.New(r, cmd.InOrStdin(), cmd.OutOrStdout(), rt.logger)
			if err != nil {
				return err
			}
			return repl.Run(ctx)
		},
	}
}
