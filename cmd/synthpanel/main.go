// Command synthpanel runs synthetic consumer panels from the command line
// (run, evaluate, runs, show, chat).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/klejdi94/synthpanel"
	"github.com/klejdi94/synthpanel/config"
	"github.com/klejdi94/synthpanel/core"
	"github.com/klejdi94/synthpanel/logger"
)

func main() {
	envFile := flag.String("env", "", "Load environment from this file before .env")
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *envFile != "" {
		if err := loadEnvFile(*envFile); err != nil {
			fail(err)
		}
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		fail(err)
	}
	logger.Init(cfg.Environment, cfg.LogLevel)

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "run":
		err = run(ctx, cfg, rest)
	case "evaluate":
		err = evaluate(ctx, cfg, rest)
	case "runs":
		err = listRuns(ctx, cfg)
	case "show":
		err = show(ctx, cfg, rest)
	case "chat":
		err = chatRun(ctx, cfg, rest)
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fail(err)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: synthpanel [ -env <file> ] <command> [args]

Commands:
  run -image <path> [-panel <file>] [-n <count>] [-trials <n>] [-concurrency <n>] [-question <q>] [-json] [-dry-run]
                          Rate an image with the whole panel (-dry-run only estimates usage)
  evaluate -image <path> [-profile <id>] [-question <q>]
                          Rate an image with one consumer, once
  runs                    List archived runs
  show <run-id>           Print an archived report (JSON)
  chat <run-id> [message] Ask the analyst about an archived run; without a message, print the conversation

Providers, credentials and stores come from the environment (see .env.example).
`)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "synthpanel:", err)
	os.Exit(1)
}

func openPanel(ctx context.Context, cfg *config.Config) (*synthpanel.Panel, error) {
	if !cfg.HasCredentials() {
		return nil, fmt.Errorf("credentials for %s/%s are not configured", cfg.Response.Provider, cfg.Embedding.Provider)
	}
	return synthpanel.FromConfig(ctx, cfg, prometheus.NewRegistry())
}

func run(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	imagePath := fs.String("image", "", "Product image (jpg, png, gif, webp)")
	panelFile := fs.String("panel", cfg.PanelFile, "YAML panel file (question, anchor sets, profiles)")
	n := fs.Int("n", 0, "Use only the first n profiles (0 = all)")
	trials := fs.Int("trials", cfg.SSR.Trials, "Responses per consumer")
	concurrency := fs.Int("concurrency", cfg.SSR.Concurrency, "Concurrent upstream calls")
	question := fs.String("question", "", "Question asked to every consumer")
	asJSON := fs.Bool("json", false, "Print the full report as JSON")
	dryRun := fs.Bool("dry-run", false, "Estimate token usage and cost without calling any provider")
	_ = fs.Parse(args)
	if *imagePath == "" {
		return fmt.Errorf("run requires -image")
	}
	img, err := core.LoadImage(*imagePath)
	if err != nil {
		return err
	}
	cfg.PanelFile = *panelFile
	cfg.SSR.Trials = *trials
	cfg.SSR.Concurrency = *concurrency
	if err := cfg.Validate(); err != nil {
		return err
	}

	panel, err := openPanel(ctx, cfg)
	if err != nil {
		return err
	}
	defer panel.Close()

	profiles := panel.Profiles()
	if *n > 0 && *n < len(profiles) {
		profiles = profiles[:*n]
	}
	job := synthpanel.Job{Profiles: profiles, Image: img, Question: *question}
	if *dryRun {
		usage, err := panel.Estimate(ctx, job)
		if err != nil {
			return err
		}
		if *asJSON {
			return printJSON(usage)
		}
		printEstimate(os.Stdout, len(profiles), *trials, usage)
		return nil
	}
	if !*asJSON {
		fmt.Printf("Evaluating product with %d synthetic consumers...\n", len(profiles))
		fmt.Printf("Running %d evaluations (concurrency %d)...\n\n", len(profiles)**trials, *concurrency)
	}
	report, err := panel.Run(ctx, job)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(report)
	}
	printReport(os.Stdout, report)
	return nil
}

func evaluate(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	imagePath := fs.String("image", "", "Product image")
	profileID := fs.String("profile", "", "Profile id (default: first profile)")
	question := fs.String("question", "", "Question asked to the consumer")
	_ = fs.Parse(args)
	if *imagePath == "" {
		return fmt.Errorf("evaluate requires -image")
	}
	img, err := core.LoadImage(*imagePath)
	if err != nil {
		return err
	}
	panel, err := openPanel(ctx, cfg)
	if err != nil {
		return err
	}
	defer panel.Close()

	profiles := panel.Profiles()
	profile := profiles[0]
	if *profileID != "" {
		found := false
		for _, p := range profiles {
			if p.ID() == *profileID {
				profile, found = p, true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown profile %q", *profileID)
		}
	}
	res, err := panel.Evaluate(ctx, profile, img, *question)
	if err != nil {
		return err
	}
	fmt.Printf("Consumer: %s\n\n%s\n\n", profile.Describe(), strings.TrimSpace(res.Response))
	for _, r := range res.Ratings {
		fmt.Printf("  %-12s %.2f  %v\n", r.AnchorSet, r.Mean(), formatPMF(r.PMF))
	}
	fmt.Printf("\nMean rating: %.2f\n", res.Rating)
	return nil
}

func listRuns(ctx context.Context, cfg *config.Config) error {
	panel, err := openPanel(ctx, cfg)
	if err != nil {
		return err
	}
	defer panel.Close()
	if panel.Archive == nil {
		return fmt.Errorf("run archive is disabled (ARCHIVE_BACKEND=none)")
	}
	ids, err := panel.Archive.List(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func show(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("show requires <run-id>")
	}
	panel, err := openPanel(ctx, cfg)
	if err != nil {
		return err
	}
	defer panel.Close()
	if panel.Archive == nil {
		return fmt.Errorf("run archive is disabled (ARCHIVE_BACKEND=none)")
	}
	report, err := panel.Archive.Load(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(report)
}

func chatRun(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("chat requires <run-id>")
	}
	panel, err := openPanel(ctx, cfg)
	if err != nil {
		return err
	}
	defer panel.Close()
	if panel.Analyst == nil {
		return fmt.Errorf("run archive is disabled (ARCHIVE_BACKEND=none)")
	}
	runID := args[0]
	if len(args) == 1 {
		msgs, err := panel.Analyst.History(ctx, runID)
		if err != nil {
			return err
		}
		printChat(os.Stdout, msgs)
		return nil
	}
	reply, err := panel.Analyst.Ask(ctx, runID, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Println(reply.Content)
	return nil
}

func printJSON(v interface{}) error {
	out, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Println(string(out))
	return err
}
