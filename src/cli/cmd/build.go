package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sofmeright/freightqueue/src/build"
	"github.com/sofmeright/freightqueue/src/gitver"
	"github.com/sofmeright/freightqueue/src/output"
	"github.com/sofmeright/freightqueue/src/source"
)

var (
	bContext    string
	bProvider   string
	bSource     string
	bRef        string
	bTags       []string
	bDockerfile string
	bBuildArgs  map[string]string
	bVersion    string
	bMaxBuilds  int
	bJUnitDir   string
	bSkipScan   bool
)

var buildCmd = &cobra.Command{
	Use:   "build REPO...",
	Short: "Build and push images once",
	Long: `Build one image per repository from the same context and push every tag.

The builds run through the same scheduler as "serve", so at most
queue.max_concurrent_builds run at once. For a local context the version,
commit and branch are read from git, and VERSION, COMMIT and BUILD_DATE are
passed as build args when the Dockerfile declares them. A local context is
scanned for credentials first unless --skip-secret-scan is set.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVar(&bContext, "context", ".", "build context directory (local provider)")
	buildCmd.Flags().StringVar(&bProvider, "provider", source.DefaultProvider, "context provider: "+fmt.Sprint(source.All()))
	buildCmd.Flags().StringVar(&bSource, "source", "", "clone or archive URL (git and url providers)")
	buildCmd.Flags().StringVar(&bRef, "ref", "", "git branch or tag to build (git provider)")
	buildCmd.Flags().StringSliceVar(&bTags, "tag", nil, "tag templates, e.g. latest,{version},{major}.{minor}")
	buildCmd.Flags().StringVar(&bDockerfile, "dockerfile", "Dockerfile", "Dockerfile path inside the context")
	buildCmd.Flags().StringToStringVar(&bBuildArgs, "build-arg", nil, "build args (KEY=VALUE)")
	buildCmd.Flags().StringVar(&bVersion, "version", "", "version for the {version} templates (default: from git)")
	buildCmd.Flags().IntVar(&bMaxBuilds, "max-concurrent-builds", -1, "override queue.max_concurrent_builds")
	buildCmd.Flags().StringVar(&bJUnitDir, "junit", "", "write a JUnit report of the builds to this directory")
	buildCmd.Flags().BoolVar(&bSkipScan, "skip-secret-scan", false, "skip the secret scan of a local build context")

	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := cmd.OutOrStdout()
	color := output.UseColor()

	if bMaxBuilds >= 0 {
		cfg.Queue.MaxConcurrentBuilds = bMaxBuilds
	}
	if cfg.Queue.MaxConcurrentBuilds == 0 {
		return errors.New("queue.max_concurrent_builds is 0, nothing would ever build")
	}

	base, err := baseOptions()
	if err != nil {
		return err
	}

	output.CIHeader(w)
	output.ContextBlock(w, []output.KV{
		{Key: "provider", Value: base.Provider},
		{Key: "source", Value: base.Source},
		{Key: "version", Value: base.Version},
		{Key: "branch", Value: base.Branch},
		{Key: "commit", Value: shortSHA(base.Commit)},
		{Key: "builds", Value: fmt.Sprintf("%d (max %d)", len(args), cfg.Queue.MaxConcurrentBuilds)},
	})

	if base.Provider == "local" && !bSkipScan {
		if err := scanContext(ctx, w, base.Source, color); err != nil {
			return err
		}
	}

	st := newStack(cfg, false)
	defer st.Close()
	sched, err := st.scheduler(ctx, cfg.Queue)
	if err != nil {
		return err
	}

	jobs := make([]*build.Job, 0, len(args))
	for _, repo := range args {
		opts := base
		opts.Repo = repo
		opts.BuildArgs = maps.Clone(base.BuildArgs)
		jobs = append(jobs, sched.Submit(opts))
	}
	queueSection(w, jobs, sched.Queued(), color)

	output.SectionStart(w, "fq_build", "Build")
	snaps := make([]build.Snapshot, 0, len(jobs))
	for _, job := range jobs {
		if err := job.Wait(ctx); err != nil {
			output.SectionEnd(w, "fq_build")
			return fmt.Errorf("waiting for %s: %w", job.Options.Repo, err)
		}
		snap := job.Snapshot()
		output.BuildSection(w, snap, color)
		snaps = append(snaps, snap)
	}
	output.SectionEnd(w, "fq_build")

	ok := output.Summary(w, snaps, color)

	if bJUnitDir != "" {
		if err := output.WriteBuildJUnit(bJUnitDir, snaps); err != nil {
			return err
		}
	}

	if !ok {
		failed := 0
		for _, s := range snaps {
			if s.Status != build.StatusSuccess {
				failed++
			}
		}
		return fmt.Errorf("%d of %d builds failed", failed, len(snaps))
	}
	return nil
}

// baseOptions builds the options shared by every job of the run.
func baseOptions() (build.Options, error) {
	opts := build.Options{
		Tags:           bTags,
		Version:        bVersion,
		BuildArgs:      maps.Clone(bBuildArgs),
		Dockerfile:     bDockerfile,
		Provider:       bProvider,
		Source:         bSource,
		Ref:            bRef,
		RegistryConfig: cfg.Registries,
	}
	if _, err := source.Get(opts.Provider); err != nil {
		return opts, err
	}
	if opts.Provider != "local" {
		if opts.Source == "" {
			return opts, fmt.Errorf("--source is required for the %s provider", opts.Provider)
		}
		return opts, nil
	}

	dir, err := filepath.Abs(bContext)
	if err != nil {
		return opts, fmt.Errorf("resolving context: %w", err)
	}
	opts.Source = dir

	if v, err := gitver.Detect(dir); err != nil {
		log.WithError(err).Debug("no git metadata for the build context")
	} else {
		v.Apply(&opts)
	}

	f, err := os.Open(filepath.Join(dir, opts.Dockerfile))
	if err != nil {
		return opts, fmt.Errorf("reading dockerfile: %w", err)
	}
	defer f.Close()
	declared, err := build.DeclaredArgs(f)
	if err != nil {
		return opts, fmt.Errorf("reading dockerfile: %w", err)
	}
	build.InjectBuildArgs(&opts, declared, time.Now())
	return opts, nil
}

// scanContext refuses to ship a build context that contains credentials.
func scanContext(ctx context.Context, w io.Writer, dir string, color bool) error {
	start := time.Now()
	findings, err := source.ScanSecrets(ctx, dir)
	if err != nil {
		return err
	}

	sec := output.NewSection(w, "Secrets", time.Since(start), color)
	if len(findings) == 0 {
		output.RowStatus(sec, "context", "no secrets found", "success", color)
		sec.Close()
		return nil
	}
	for _, f := range findings {
		output.RowStatus(sec, f.File, fmt.Sprintf("line %d %s", f.Line, f.RuleID), "failure", color)
	}
	sec.Close()
	return fmt.Errorf("%d probable secret(s) in the build context; remove them, add them to .dockerignore or pass --skip-secret-scan", len(findings))
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

// queueSection shows where each submitted job stands right after submission.
func queueSection(w io.Writer, jobs, queued []*build.Job, color bool) {
	snaps := make([]build.Snapshot, len(jobs))
	for i, j := range jobs {
		snaps[i] = j.Snapshot()
	}
	ids := make([]string, len(queued))
	for i, j := range queued {
		ids[i] = j.ID
	}
	output.QueueSection(w, snaps, ids, color)
}
