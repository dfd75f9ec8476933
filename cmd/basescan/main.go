package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/project-copacetic/basescan/internal/basescanmcp"
	"github.com/project-copacetic/basescan/internal/config"
)

// These variables are set by the build process using ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type options struct {
	configPath  string
	logLevel    string
	resolver    string
	source      string
	registryURL string
	proxyURL    string
	platform    string
	filter      string
	literalHost string
	vexFile     string
	noCache     bool
	reportClean bool
}

var (
	opts           options
	activeDocument string
	cfg            *config.Config
	logger         *logrus.Entry
)

var rootCmd = &cobra.Command{
	Use:   "basescan",
	Short: "Annotate Dockerfile base images with vulnerability information",
	Long: `basescan scans the FROM lines of Dockerfiles, resolves each base image to its digest
and reports the vulnerabilities known for it as per-line diagnostics.`,
	Version:       fmt.Sprintf("Version: %s\nCommit: %s\nBuild Date: %s", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg = loaded
		logger = logrus.NewEntry(cfg.Logger())
		return nil
	},
}

var stdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Start stdio server",
	Long:  `Start a server that communicates via standard input/output streams using the Model Context Protocol (MCP).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return basescanmcp.Run(cmd.Context(), cfg, version, activeDocument, logger)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "basescan %s (commit %s, built %s)\n", version, commit, date)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to a YAML config file (default ./"+config.DefaultFile+" when present)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.resolver, "resolver", "", "digest resolver: pull, manifest or registry")
	flags.StringVar(&opts.source, "source", "", "vulnerability source: quay, proxy or trivy")
	flags.StringVar(&opts.registryURL, "registry-url", "", "Quay API base URL")
	flags.StringVar(&opts.proxyURL, "proxy-url", "", "vulnerability proxy base URL")
	flags.StringVar(&opts.platform, "platform", "", "target platform os/arch[/variant] (default host platform)")
	flags.StringVar(&opts.filter, "filter", "", "regular expression selecting image references to scan")
	flags.StringVar(&opts.literalHost, "literal-host", "", "scan every reference containing this registry host instead of using --filter")
	flags.StringVar(&opts.vexFile, "vex", "", "OpenVEX document whose not_affected and fixed statements suppress vulnerabilities")
	flags.BoolVar(&opts.noCache, "no-cache", false, "disable the result cache")
	flags.BoolVar(&opts.reportClean, "report-clean", false, "emit an information diagnostic for images without vulnerabilities")

	stdioCmd.Flags().StringVar(&activeDocument, "active", "", "Dockerfile open in the editor at startup; scanned immediately")

	rootCmd.AddCommand(stdioCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig layers flags that were set explicitly over the file and
// environment configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	c, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Root().PersistentFlags()
	strs := map[string]struct {
		dst *string
		val string
	}{
		"log-level":    {&c.LogLevel, opts.logLevel},
		"resolver":     {&c.Resolver, opts.resolver},
		"source":       {&c.Source, opts.source},
		"registry-url": {&c.RegistryURL, opts.registryURL},
		"proxy-url":    {&c.ProxyURL, opts.proxyURL},
		"platform":     {&c.Platform, opts.platform},
		"filter":       {&c.Filter, opts.filter},
		"literal-host": {&c.LiteralHost, opts.literalHost},
		"vex":          {&c.VEXFile, opts.vexFile},
	}
	for name, f := range strs {
		if flags.Changed(name) {
			*f.dst = f.val
		}
	}
	if flags.Changed("no-cache") {
		c.Cache = !opts.noCache
	}
	if flags.Changed("report-clean") {
		c.ReportClean = opts.reportClean
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		stop()
		os.Exit(1)
	}
}
