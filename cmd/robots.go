package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"webaudit/internal/robots"
	"webaudit/internal/sitemap"
)

func newRobotsCmd() *cobra.Command {
	var checkURLs []string

	cmd := &cobra.Command{
		Use:   "robots <url>",
		Short: "Inspect a site's robots policy without crawling",
		Long: `Fetches and summarizes <origin>/robots.txt for the given URL: whether
it exists, declared sitemaps, crawl delay, and, with --check, whether
specific URLs would be admitted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			policy := robots.NewFetcher(cfg.Crawl.UserAgent, logger).Fetch(cmd.Context(), args[0])

			fmt.Println(policy.Summary())
			if policy.CrawlDelay > 0 {
				fmt.Printf("Crawl delay: %s\n", policy.CrawlDelay)
			}
			candidates := sitemap.Candidates(args[0], policy)
			if len(candidates) > 0 {
				fmt.Println("Sitemap candidates:")
				for _, c := range candidates {
					fmt.Println("  -", c)
				}
			}
			for _, u := range checkURLs {
				verdict := "allowed"
				if !policy.Allowed(u) {
					verdict = "disallowed"
				}
				fmt.Printf("%s: %s\n", u, verdict)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&checkURLs, "check", nil, "URL to test against the policy (repeatable)")
	return cmd
}
