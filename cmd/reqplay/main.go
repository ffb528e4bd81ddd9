package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/funnyzak/reqplay/internal/config"
	"github.com/funnyzak/reqplay/internal/logger"
	"github.com/funnyzak/reqplay/internal/server"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "reqplay",
	Short: "HTTP traffic capture and replay engine",
	Long: `ReqPlay captures outbound HTTP traffic as it forwards requests upstream,
keeps a bounded in-memory history, and replays captured requests on demand:
one at a time with modifications, as concurrent batches, or as sustained-rate
load tests with latency statistics.
`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run:   showVersion,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().IntP("port", "p", 0, "Listen port")
	rootCmd.PersistentFlags().String("path", "", "URL path prefix to forward")
	rootCmd.PersistentFlags().StringP("target", "t", "", "Default upstream target URL")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().Bool("log-file-enable", false, "Enable file logging")
	rootCmd.PersistentFlags().String("log-file-path", "", "Log file path")
	rootCmd.PersistentFlags().Int("capture-max-requests", 0, "Maximum captured requests to retain in memory")
	rootCmd.PersistentFlags().StringSlice("capture-domains", []string{}, "Domains to capture (empty captures all)")
	rootCmd.PersistentFlags().StringSlice("capture-methods", []string{}, "HTTP methods to capture (empty captures all)")
	rootCmd.PersistentFlags().Bool("api-enable", false, "Enable/disable the admin API")
	rootCmd.PersistentFlags().String("api-path", "", "Admin API base path")
	rootCmd.PersistentFlags().String("api-token", "", "Bearer token guarding the admin API")
	rootCmd.PersistentFlags().String("output-mode", "", "Result output mode (console, json)")
	rootCmd.PersistentFlags().String("output-locale", "", "Result output locale")
	rootCmd.PersistentFlags().Bool("archive-enable", false, "Enable/disable the session report archive")
	rootCmd.PersistentFlags().String("archive-path", "", "Archive database path")

	bindFlags(rootCmd)

	rootCmd.AddCommand(versionCmd)
}

func bindFlags(cmd *cobra.Command) {
	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.path", cmd.Flags().Lookup("path"))
	viper.BindPFlag("server.default_target", cmd.Flags().Lookup("target"))
	viper.BindPFlag("log.level", cmd.Flags().Lookup("log-level"))
	viper.BindPFlag("log.file_logging.enable", cmd.Flags().Lookup("log-file-enable"))
	viper.BindPFlag("log.file_logging.path", cmd.Flags().Lookup("log-file-path"))
	viper.BindPFlag("capture.max_requests", cmd.Flags().Lookup("capture-max-requests"))
	viper.BindPFlag("capture.domains", cmd.Flags().Lookup("capture-domains"))
	viper.BindPFlag("capture.methods", cmd.Flags().Lookup("capture-methods"))
	viper.BindPFlag("api.enable", cmd.Flags().Lookup("api-enable"))
	viper.BindPFlag("api.path", cmd.Flags().Lookup("api-path"))
	viper.BindPFlag("api.auth_token", cmd.Flags().Lookup("api-token"))
	viper.BindPFlag("output.mode", cmd.Flags().Lookup("output-mode"))
	viper.BindPFlag("output.locale", cmd.Flags().Lookup("output-locale"))
	viper.BindPFlag("archive.enable", cmd.Flags().Lookup("archive-enable"))
	viper.BindPFlag("archive.path", cmd.Flags().Lookup("archive-path"))
}

func runServer(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.LoadConfig(configPath, viper.GetViper())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Command line flags take precedence over config file values.
	if port, err := cmd.Flags().GetInt("port"); err == nil && port != 0 {
		cfg.Server.Port = port
	}
	if path, err := cmd.Flags().GetString("path"); err == nil && path != "" {
		cfg.Server.Path = path
	}
	if target, err := cmd.Flags().GetString("target"); err == nil && target != "" {
		cfg.Server.DefaultTarget = target
	}
	if logLevel, err := cmd.Flags().GetString("log-level"); err == nil && logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if enable, err := cmd.Flags().GetBool("log-file-enable"); err == nil && cmd.Flags().Changed("log-file-enable") {
		cfg.Log.FileLogging.Enable = enable
	}
	if path, err := cmd.Flags().GetString("log-file-path"); err == nil && path != "" {
		cfg.Log.FileLogging.Path = path
	}
	if max, err := cmd.Flags().GetInt("capture-max-requests"); err == nil && max != 0 {
		cfg.Capture.MaxRequests = max
	}
	if domains, err := cmd.Flags().GetStringSlice("capture-domains"); err == nil && len(domains) > 0 {
		cfg.Capture.Domains = domains
	}
	if methods, err := cmd.Flags().GetStringSlice("capture-methods"); err == nil && len(methods) > 0 {
		cfg.Capture.Methods = methods
	}
	if enable, err := cmd.Flags().GetBool("api-enable"); err == nil && cmd.Flags().Changed("api-enable") {
		cfg.API.Enable = enable
	}
	if path, err := cmd.Flags().GetString("api-path"); err == nil && path != "" {
		cfg.API.Path = path
	}
	if token, err := cmd.Flags().GetString("api-token"); err == nil && token != "" {
		cfg.API.AuthToken = token
	}
	if mode, err := cmd.Flags().GetString("output-mode"); err == nil && mode != "" {
		cfg.Output.Mode = mode
	}
	if locale, err := cmd.Flags().GetString("output-locale"); err == nil && locale != "" {
		cfg.Output.Locale = locale
	}
	if enable, err := cmd.Flags().GetBool("archive-enable"); err == nil && cmd.Flags().Changed("archive-enable") {
		cfg.Archive.Enable = enable
	}
	if path, err := cmd.Flags().GetString("archive-path"); err == nil && path != "" {
		cfg.Archive.Path = path
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := logger.New(logger.Options{
		Level:          cfg.Log.Level,
		FileEnable:     cfg.Log.FileLogging.Enable,
		FilePath:       cfg.Log.FileLogging.Path,
		FileMaxSizeMB:  cfg.Log.FileLogging.MaxSizeMB,
		FileMaxBackups: cfg.Log.FileLogging.MaxBackups,
		FileMaxAgeDays: cfg.Log.FileLogging.MaxAgeDays,
		FileCompress:   cfg.Log.FileLogging.Compress,
	})

	printStartupBanner(cfg, log)

	srv, err := server.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}
	return srv.Start()
}

func showVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("ReqPlay version %s\n", version)
	fmt.Printf("Commit: %s\n", commit)
	fmt.Printf("Built: %s\n", buildDate)
}

func printStartupBanner(cfg *config.Config, log logger.Logger) {
	titleLine := fmt.Sprintf("ReqPlay v%s", version)
	subtitleLine := "HTTP Capture & Replay Engine"

	var lines []string
	lines = append(lines, titleLine, subtitleLine, "")

	forwardPath := cfg.Server.Path
	if forwardPath == "/" {
		forwardPath = "/ (All Paths)"
	}
	target := cfg.Server.DefaultTarget
	if target == "" {
		target = fmt.Sprintf("per-request via %s header", cfg.Server.TargetHeader)
	}

	lines = append(lines, fmt.Sprintf("Listening on:     http://0.0.0.0:%d%s", cfg.Server.Port, cfg.Server.Path))
	lines = append(lines, fmt.Sprintf("Forward Path:     %s", forwardPath))
	lines = append(lines, fmt.Sprintf("Upstream Target:  %s", target))
	lines = append(lines, fmt.Sprintf("Log Level:        %s", cfg.Log.Level))
	lines = append(lines, fmt.Sprintf("Capture Buffer:   %d requests", cfg.Capture.MaxRequests))

	if cfg.API.Enable {
		lines = append(lines, "Admin API:        Enabled")
		lines = append(lines, fmt.Sprintf("   - Path:        %s", cfg.API.Path))
		authStatus := "Disabled"
		if cfg.API.AuthToken != "" {
			authStatus = "Bearer token"
		}
		lines = append(lines, fmt.Sprintf("   - Auth:        %s", authStatus))
	} else {
		lines = append(lines, "Admin API:        Disabled")
	}

	if cfg.Archive.Enable {
		lines = append(lines, fmt.Sprintf("Report Archive:   %s (%s)", cfg.Archive.Path, cfg.Archive.Driver))
	} else {
		lines = append(lines, "Report Archive:   Disabled")
	}

	lines = append(lines, "")
	lines = append(lines, "(Press Ctrl+C to stop)")

	maxLength := 0
	for _, line := range lines {
		if w := runewidth.StringWidth(line); w > maxLength {
			maxLength = w
		}
	}

	boxWidth := maxLength + 4
	if boxWidth < 50 {
		boxWidth = 50
	}

	fmt.Println()
	printBoxTop(boxWidth)
	printBoxContent(titleLine, boxWidth, true)
	printBoxContent(subtitleLine, boxWidth, true)
	printBoxSeparator(boxWidth)
	for i := 3; i < len(lines); i++ {
		printBoxContent(lines[i], boxWidth, false)
	}
	printBoxBottom(boxWidth)
	fmt.Println()

	log.Info("ReqPlay starting",
		"version", version,
		"port", cfg.Server.Port,
		"path", cfg.Server.Path,
		"default_target", cfg.Server.DefaultTarget,
		"log_level", cfg.Log.Level,
		"capture_max", cfg.Capture.MaxRequests,
		"api_enable", cfg.API.Enable,
		"archive_enable", cfg.Archive.Enable,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func printBoxTop(width int) {
	fmt.Printf("┌%s┐\n", strings.Repeat("─", width-2))
}

func printBoxBottom(width int) {
	fmt.Printf("└%s┘\n", strings.Repeat("─", width-2))
}

func printBoxSeparator(width int) {
	fmt.Printf("├%s┤\n", strings.Repeat("─", width-2))
}

func printBoxContent(content string, boxWidth int, center bool) {
	contentWidth := runewidth.StringWidth(content)

	padding := boxWidth - 2 - contentWidth
	if padding < 0 {
		padding = 0
	}

	var leftPad, rightPad string
	if center {
		leftPad = strings.Repeat(" ", padding/2)
		rightPad = strings.Repeat(" ", padding-padding/2)
	} else {
		leftPad = "  "
		if padding >= 2 {
			rightPad = strings.Repeat(" ", padding-2)
		}
	}

	fmt.Printf("│%s%s%s│\n", leftPad, content, rightPad)
}
