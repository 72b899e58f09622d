package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"steadyvu/internal/banner"
	"steadyvu/internal/cli"
	"steadyvu/internal/config"
	"steadyvu/internal/dummy"
	"steadyvu/internal/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "steadyvu",
	Short: "SteadyVU - Staged Virtual-User Load Testing",
	Long: `
SteadyVU ramps virtual users through load stages, runs a user journey
against an HTTP API and checks the results against thresholds.

Commands:
1. run:   Execute a test plan (headless progress or --tui)
2. dummy: Serve a local API the journey can run against`,
	SilenceUsage: true,
}

func Execute() {
	// Custom Help with Banner
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		cmd.Usage()
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(dummyCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.steadyvu.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "Log format (console, json)")
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))

	runCmd.Flags().StringP("plan", "p", "", "Test plan file (.yaml, .yml or .json)")
	runCmd.Flags().StringP("base-url", "u", "", "Target base URL (env STEADYVU_BASE_URL)")
	runCmd.Flags().Int("vus", 0, "Constant VU count (replaces the plan's stages)")
	runCmd.Flags().Duration("duration", 0, "Duration of the constant-VU run")
	runCmd.Flags().Int64("iterations", 0, "Total iterations across all VUs")
	runCmd.Flags().StringP("out", "o", "", "Output filename prefix for auto-reporting")
	runCmd.Flags().Bool("tui", false, "Show the live terminal view")
	runCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	viper.BindPFlag("base_url", runCmd.Flags().Lookup("base-url"))
	viper.BindPFlag("out", runCmd.Flags().Lookup("out"))
	viper.BindPFlag("metrics_addr", runCmd.Flags().Lookup("metrics-addr"))

	dummyCmd.Flags().IntP("port", "p", 8080, "Port to run dummy server on")
	dummyCmd.Flags().Float64("error-rate", 0, "Share of requests answered with a random 500 or 429")
	dummyCmd.Flags().Duration("jitter", 0, "Maximum random delay added to each response")
}

func initConfig() {
	// A missing .env is fine.
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".steadyvu")
		}
	}
	viper.SetEnvPrefix("STEADYVU")
	viper.AutomaticEnv()
	viper.ReadInConfig()
}

func newLogger() (*zap.Logger, error) {
	return logger.New(viper.GetString("log_level"), viper.GetString("log_format"))
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// --- Run Subcommand ---
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a load test",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger()
		if err != nil {
			return err
		}
		defer log.Sync()

		plan, err := buildPlan(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		tuiMode, _ := cmd.Flags().GetBool("tui")
		code, err := cli.Start(ctx, plan, cli.Options{
			OutPrefix:   viper.GetString("out"),
			TUI:         tuiMode,
			MetricsAddr: viper.GetString("metrics_addr"),
			Log:         log,
		})
		if err != nil {
			return err
		}
		if code != 0 {
			log.Sync()
			os.Exit(code)
		}
		return nil
	},
}

// buildPlan loads --plan (or the default plan) and applies flag and
// environment overrides.
func buildPlan(cmd *cobra.Command) (*config.Plan, error) {
	plan := config.Default()
	if path, _ := cmd.Flags().GetString("plan"); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		plan = loaded
	}

	if u := viper.GetString("base_url"); u != "" {
		plan.BaseURL = u
	}
	if plan.BaseURL == "" {
		return nil, fmt.Errorf("base URL required: set --base-url, STEADYVU_BASE_URL or base_url in the plan")
	}

	if cmd.Flags().Changed("vus") {
		vus, _ := cmd.Flags().GetInt("vus")
		plan.VUs = vus
		plan.Stages = nil
	}
	if cmd.Flags().Changed("duration") {
		d, _ := cmd.Flags().GetDuration("duration")
		plan.Duration = config.Duration(d)
	}
	if cmd.Flags().Changed("iterations") {
		n, _ := cmd.Flags().GetInt64("iterations")
		plan.Iterations = n
	}
	return plan, nil
}

// --- Dummy Subcommand ---
var dummyCmd = &cobra.Command{
	Use:   "dummy",
	Short: "Run internal dummy server",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger()
		if err != nil {
			return err
		}
		defer log.Sync()

		port, _ := cmd.Flags().GetInt("port")
		errorRate, _ := cmd.Flags().GetFloat64("error-rate")
		jitter, _ := cmd.Flags().GetDuration("jitter")

		ctx, stop := signalContext()
		defer stop()

		return dummy.Run(ctx, dummy.ServerConfig{
			Port:      port,
			ErrorRate: errorRate,
			MaxJitter: jitter,
			Log:       logger.Component(log, "dummy"),
		})
	},
}
