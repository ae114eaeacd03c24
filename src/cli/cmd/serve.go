package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sofmeright/freightqueue/src/badge"
	"github.com/sofmeright/freightqueue/src/config"
	"github.com/sofmeright/freightqueue/src/server"
)

var (
	serveListen     string
	serveMaxBuilds  int
	serveEmbedFonts bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the build API and scheduler",
	Long: `Run the HTTP build API.

Builds submitted to POST /api/builds are admitted at most
queue.max_concurrent_builds at a time; the rest wait in submission order.
Status is logged, served over websockets and, with status.redis.addr set,
stored in Redis.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (overrides server.listen)")
	serveCmd.Flags().IntVar(&serveMaxBuilds, "max-concurrent-builds", -1, "override queue.max_concurrent_builds")
	serveCmd.Flags().BoolVar(&serveEmbedFonts, "embed-badge-font", false, "inline the badge font into every SVG")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serveListen != "" {
		cfg.Server.Listen = serveListen
	}
	if serveMaxBuilds >= 0 {
		cfg.Queue.MaxConcurrentBuilds = serveMaxBuilds
	}

	st := newStack(cfg, true)
	defer st.Close()

	sched, err := st.scheduler(ctx, cfg.Queue)
	if err != nil {
		return err
	}

	opts, err := serverOptions(cfg)
	if err != nil {
		return err
	}
	opts.Scheduler = sched
	opts.Hub = st.hub
	if st.redis != nil {
		opts.Store = st.redis
	}

	srv, err := server.New(opts)
	if err != nil {
		return err
	}

	log.WithField("max_concurrent_builds", cfg.Queue.MaxConcurrentBuilds).Info("scheduler ready")
	if err := srv.ListenAndServe(ctx, cfg.Server.Listen); err != nil {
		return err
	}
	log.Info("shut down")
	return nil
}

// serverOptions translates config into server options, minus the
// runtime collaborators.
func serverOptions(c *config.Config) (server.Options, error) {
	repos, err := config.CompilePatterns(c.Server.AllowedRepos)
	if err != nil {
		return server.Options{}, fmt.Errorf("server.allowed_repos: %w", err)
	}

	metrics, err := badge.Load(c.Badge.Font, c.Badge.FontFile, c.Badge.FontSize)
	if err != nil {
		return server.Options{}, err
	}
	badges := badge.New(metrics)
	badges.EmbedFont = serveEmbedFonts

	return server.Options{
		Badges:           badges,
		Label:            c.Badge.Label,
		Registries:       c.Registries,
		AllowedRepos:     repos,
		AllowedProviders: c.Server.AllowedProviders,
	}, nil
}

