package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/analysis"
	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/config"
	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/extractor"
	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/graph"
	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/ledger"
	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/pipeline"
	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/report"
	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/resilience"
	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/resolver"
	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/translation"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "calcmigrate",
		Short: "Resolve, convert and harden report calculations for Power BI",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig()
			if err != nil {
				log.Fatalf("Failed to load config: %v", err)
			}
			cfg.ConfigureLogging(verbose)
		},
	}
	configPath string
	ledgerPath string
	verbose    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "calcmigrate.yaml", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&ledgerPath, "ledger", "", "Path to the conversion ledger (SQLite); overrides config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	convertCmd.Flags().StringSlice("ids", nil, "Calculation ids to convert (default: all)")
	convertCmd.Flags().StringP("out", "o", "out", "Directory for artifacts.json and report.json")
	convertCmd.Flags().Bool("dry-run", false, "Use an in-memory ledger instead of the configured one")
	convertCmd.Flags().Bool("force", false, "Convert again even when the ledger already holds a conversion")

	planCmd.Flags().StringSlice("ids", nil, "Calculation ids to plan (default: all)")
	planCmd.Flags().String("cycle-policy", "", "Cycle policy: drop-edge or block (default from config)")

	wrapCmd.Flags().String("kind", "relational", "Source kind: relational, flatFile or webApi")
	wrapCmd.Flags().StringSlice("schema", nil, "Declared output columns, in order")

	ledgerListCmd.Flags().String("status", "", "Filter by status: Pending, Converted or Failed")
	ledgerCmd.AddCommand(ledgerListCmd)

	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(wrapCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if ledgerPath != "" {
		cfg.Ledger.Path = ledgerPath
	}
	return cfg, nil
}

// loadGraph reads the manifest and builds the linked dependency graph.
func loadGraph(cfg *config.Config, manifestPath string) (*extractor.Manifest, *graph.Graph, *extractor.Extractor, error) {
	m, err := extractor.LoadManifest(manifestPath)
	if err != nil {
		return nil, nil, nil, err
	}
	ext, err := extractor.NewExtractor(cfg.Pipeline.ReferencePattern)
	if err != nil {
		return nil, nil, nil, err
	}
	g, err := m.BuildGraph(ext)
	if err != nil {
		return nil, nil, nil, err
	}
	return m, g, ext, nil
}

func openLedger(cfg *config.Config, dryRun bool) (ledger.Ledger, error) {
	if dryRun {
		return ledger.NewMemoryLedger(), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Ledger.Path), 0755); err != nil {
		return nil, err
	}
	return ledger.NewSQLiteLedger(cfg.Ledger.Path)
}

func pipelineOptions(cfg *config.Config, columnMappings map[string]string) (pipeline.Options, error) {
	var opts pipeline.Options
	timeout, err := cfg.CallTimeoutDuration()
	if err != nil {
		return opts, err
	}
	policy, err := resolver.ParseCyclePolicy(cfg.Pipeline.CyclePolicy)
	if err != nil {
		return opts, err
	}
	mode, err := translation.ParseErrorHandlingMode(cfg.Pipeline.ErrorHandlingMode)
	if err != nil {
		return opts, err
	}
	compliance, err := translation.ParseTemplateCompliance(cfg.Pipeline.TemplateCompliance)
	if err != nil {
		return opts, err
	}
	opts = pipeline.Options{
		Workers:            cfg.Pipeline.Workers,
		RatePerSecond:      cfg.Pipeline.RatePerSecond,
		Burst:              cfg.Pipeline.Burst,
		CallTimeout:        timeout,
		SkipConverted:      cfg.Pipeline.SkipConverted,
		CyclePolicy:        policy,
		DefaultAggregation: strings.ToUpper(cfg.Pipeline.DefaultAggregation),
		ErrorHandling:      mode,
		TemplateCompliance: compliance,
		ColumnMappings:     columnMappings,
	}
	if cfg.Pipeline.TemplatesDir != "" {
		opts.Templates = os.DirFS(cfg.Pipeline.TemplatesDir)
	}
	return opts, nil
}

var convertCmd = &cobra.Command{
	Use:   "convert [manifest.json]",
	Short: "Convert calculations in dependency order and write resilient artifacts",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ids, _ := cmd.Flags().GetStringSlice("ids")
		outDir, _ := cmd.Flags().GetString("out")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		force, _ := cmd.Flags().GetBool("force")

		cfg, err := loadConfig()
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Invalid configuration: %v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rep := report.NewRunReport()

		// 1. Manifest & graph
		h := rep.BeginStage("load")
		m, g, ext, err := loadGraph(cfg, args[0])
		if err != nil {
			log.Fatalf("Failed to load manifest: %v", err)
		}
		for _, d := range g.Diagnostics() {
			rep.AddDiagnostic("load", d)
		}
		rep.EndStage(h, map[string]float64{
			"calculations": float64(len(g.Nodes)),
			"edges":        float64(len(g.Edges)),
			"unresolved":   float64(len(g.Unresolved)),
		}, nil, nil)
		fmt.Printf("📊 Loaded %d calculations (%d references, %d unresolved)\n", len(g.Nodes), len(g.Edges), len(g.Unresolved))

		// 2. Collaborators
		tr, err := translation.NewTranslator(ctx, translation.TranslatorOptions{
			Provider: cfg.Translator.Provider,
			APIKey:   cfg.Translator.APIKey,
			Model:    cfg.Translator.Model,
			Endpoint: cfg.Translator.Endpoint,
		})
		if err != nil {
			log.Fatalf("Failed to create translator: %v", err)
		}
		l, err := openLedger(cfg, dryRun)
		if err != nil {
			log.Fatalf("Failed to open ledger: %v", err)
		}
		defer l.Close()

		opts, err := pipelineOptions(cfg, m.ColumnMappings)
		if err != nil {
			log.Fatalf("Invalid pipeline options: %v", err)
		}
		if force {
			opts.SkipConverted = false
		}
		if opts.SkipConverted {
			impact, err := analysis.NewAnalyzer(g, l).AnalyzeImpact(ctx)
			if err != nil {
				log.Fatalf("Impact analysis failed: %v", err)
			}
			opts.Reconvert = impact.IDs()
			if len(impact.DirectlyAffected) > 0 || len(impact.IndirectlyAffected) > 0 {
				fmt.Printf("🧭 %d changed or new calculations, %d dependents to refresh\n", len(impact.DirectlyAffected), len(impact.IndirectlyAffected))
			}
		}
		orch, err := pipeline.NewOrchestrator(g, ext, tr, l, opts)
		if err != nil {
			log.Fatalf("Failed to create orchestrator: %v", err)
		}

		// 3. Run
		fmt.Println("🚀 Converting calculations...")
		h = rep.BeginStage("convert")
		start := time.Now()
		run, err := orch.Run(ctx, ids)
		if err != nil {
			log.Fatalf("Conversion failed: %v", err)
		}
		counts := run.Counts()
		rep.EndStage(h, map[string]float64{
			"units":     float64(run.Units),
			"converted": float64(counts[graph.StatusConverted]),
			"failed":    float64(counts[graph.StatusFailed]),
			"pending":   float64(counts[graph.StatusPending]),
		}, nil, nil)
		rep.AddRun(run)

		// 4. Outputs
		artifactsPath := filepath.Join(outDir, "artifacts.json")
		if err := report.SaveArtifacts(artifactsPath, run); err != nil {
			log.Fatalf("Failed to write artifacts: %v", err)
		}
		reportPath := filepath.Join(outDir, "report.json")
		if err := rep.Save(reportPath); err != nil {
			log.Fatalf("Failed to write report: %v", err)
		}

		fmt.Printf("✅ Finished in %v: %d converted, %d failed, %d pending\n",
			time.Since(start).Round(time.Millisecond), counts[graph.StatusConverted], counts[graph.StatusFailed], counts[graph.StatusPending])
		if run.Cancelled {
			fmt.Println("⚠️  Run was cancelled; pending calculations were left untouched in the ledger.")
		}
		fmt.Printf("📝 Artifacts: %s\n📝 Report: %s\n", artifactsPath, reportPath)
	},
}

var planCmd = &cobra.Command{
	Use:   "plan [manifest.json]",
	Short: "Print the dependency-first processing order without converting",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ids, _ := cmd.Flags().GetStringSlice("ids")
		policyFlag, _ := cmd.Flags().GetString("cycle-policy")

		cfg, err := loadConfig()
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		_, g, _, err := loadGraph(cfg, args[0])
		if err != nil {
			log.Fatalf("Failed to load manifest: %v", err)
		}
		if policyFlag == "" {
			policyFlag = cfg.Pipeline.CyclePolicy
		}
		policy, err := resolver.ParseCyclePolicy(policyFlag)
		if err != nil {
			log.Fatalf("%v", err)
		}

		if len(ids) == 0 {
			ids = g.IDs()
		}
		units, err := resolver.NewChainResolver(g, policy).Partition(ids)
		if err != nil {
			log.Fatalf("Failed to resolve: %v", err)
		}

		for i, u := range units {
			fmt.Printf("\n📦 Unit %d (requested: %s)\n", i+1, strings.Join(u.Roots, ", "))
			for pos, id := range u.Order {
				n := g.Nodes[id]
				marker := ""
				if u.Blocked[id] {
					marker = " ⛔ blocked"
				}
				fmt.Printf("  %2d. %s  %s%s\n", pos+1, id, n.DisplayName(), marker)
			}
			for _, d := range u.Diagnostics {
				fmt.Printf("  ⚠️  %s\n", d)
			}
		}
		for _, d := range g.Diagnostics() {
			fmt.Printf("⚠️  %s\n", d)
		}
	},
}

var wrapCmd = &cobra.Command{
	Use:   "wrap [query.m]",
	Short: "Validate a Power Query M expression and wrap it with a resilient fallback",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		kindFlag, _ := cmd.Flags().GetString("kind")
		schema, _ := cmd.Flags().GetStringSlice("schema")

		data, err := os.ReadFile(args[0])
		if err != nil {
			log.Fatalf("Failed to read %s: %v", args[0], err)
		}
		kind, ok := graph.ParseSourceKind(kindFlag)
		if !ok {
			log.Fatalf("Unknown source kind %q", kindFlag)
		}
		if len(schema) == 0 {
			schema = []string{strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))}
		}

		cfg, err := loadConfig()
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		var overrides fs.FS
		if cfg.Pipeline.TemplatesDir != "" {
			overrides = os.DirFS(cfg.Pipeline.TemplatesDir)
		}
		w, err := resilience.NewWrapperFS(overrides)
		if err != nil {
			log.Fatalf("Failed to load templates: %v", err)
		}
		art, err := w.Wrap(filepath.Base(args[0]), string(data), schema, kind)
		if err != nil {
			log.Fatalf("Wrap failed: %v", err)
		}

		v := art.Validation
		fmt.Fprintf(os.Stderr, "protected=%t errorCheck=%t fallback=%t compliant=%t wrapped=%t\n",
			v.HasProtectedAcquisition, v.HasErrorCheck, v.HasSchemaPreservingFallback, v.IsCompliant, art.Wrapped)
		fmt.Println(art.TargetExpression)
	},
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the conversion ledger",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ledger records, optionally filtered by status",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		status, _ := cmd.Flags().GetString("status")
		if status != "" {
			status = strings.ToUpper(status[:1]) + strings.ToLower(status[1:])
		}

		cfg, err := loadConfig()
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		l, err := openLedger(cfg, false)
		if err != nil {
			log.Fatalf("Failed to open ledger: %v", err)
		}
		defer l.Close()

		records, err := l.ListByStatus(context.Background(), graph.Status(status))
		if err != nil {
			log.Fatalf("Failed to list records: %v", err)
		}
		if len(records) == 0 {
			fmt.Println("No records.")
			return
		}
		for _, rec := range records {
			icon := "✅"
			if rec.Status != graph.StatusConverted {
				icon = "❌"
			}
			fmt.Printf("%s %-20s %-10s %-30s conf=%.2f run=%s\n", icon, rec.ID, rec.Status, rec.TargetName, rec.Confidence, rec.RunID)
			for _, d := range rec.Diagnostics {
				fmt.Printf("     %s\n", d)
			}
		}
	},
}
