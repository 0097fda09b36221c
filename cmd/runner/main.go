package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/CZERTAINLY/Runner/internal/log"
	"github.com/CZERTAINLY/Runner/internal/model"
	"github.com/CZERTAINLY/Runner/internal/service"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
)

var (
	userConfigPath string // /default/config/path/runner on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
	flagJobPath        string // value of --job-path flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "runner")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is runner.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	rootCmd.PersistentFlags().StringVar(&flagJobPath, "job-path", "", "job root directory, overrides job.path")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initRunner

	execCmd.Flags().StringVar(&flagClient, "client", "", "client directory under the job root")
	execCmd.Flags().StringVar(&flagClassName, "class", "", "type owning the method, empty for a package function")
	execCmd.Flags().StringVar(&flagMethod, "method", "", "method to call, default is the one of deployment.yml")
	execCmd.Flags().StringArrayVar(&flagParams, "param", nil, "argument as key=value, can be repeated")
	_ = execCmd.MarkFlagRequired("client")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runAllCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("runner failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "runner",
	Short:        "Runs client scripts from a job directory",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve starts the HTTP API and the batch scheduler",
	RunE:  doServe,
}

var runAllCmd = &cobra.Command{
	Use:   "run-all",
	Short: "run-all executes every active job once and prints the summary",
	RunE:  doRunAll,
}

var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "exec executes a single job and prints it",
	RunE:  doExec,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a runner",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("runner: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config: %s\n", configPath)
		}
		fmt.Printf("runner: %s\n", info.Main.Version)
		fmt.Printf("go:     %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:  %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func initRunner(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("RUNNERCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{".", userConfigPath} {
			path := filepath.Join(d, "runner.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting working directory: %w", err)
		}
		config = model.DefaultConfig(filepath.Join(cwd, "jobs"))
		configPath = filepath.Join(userConfigPath, "runner.yaml")
		if err := writeConfig(configPath, config); err != nil {
			return err
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		cfg, err := model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error("invalid config", d.Attr("detail"))
			}
			return fmt.Errorf("parsing config: %w", err)
		}
		config = *cfg
	}

	// RUNNER_* variables and flags have a precedence over config file
	v, err := service.NewViper()
	if err != nil {
		return err
	}
	if err := v.BindPFlag("verbose", cmd.Root().PersistentFlags().Lookup("verbose")); err != nil {
		return err
	}
	if err := v.BindPFlag("job.path", cmd.Root().PersistentFlags().Lookup("job-path")); err != nil {
		return err
	}
	config, err = service.ApplyOverrides(v, config)
	if err != nil {
		return err
	}
	if err := config.Validate(); err != nil {
		for _, d := range model.CueErrDetails(err) {
			slog.Error("invalid config", d.Attr("detail"))
		}
		return fmt.Errorf("validating config: %w", err)
	}

	slog.SetDefault(log.New(os.Stderr, config.Verbose))

	slog.Debug("runner run", "configPath", configPath)
	slog.Debug("runner run", "config", config)
	return nil
}

func writeConfig(path string, cfg model.Config) error {
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return enc.Close()
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
