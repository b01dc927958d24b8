package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sutehoge/catapult-server/internal/logger"
)

const (
	// prefix for configuration keys inside environment
	envPrefix = "FIN"

	defaultHomeDir = "$HOME/.finality"
)

type (
	finalityApp struct {
		rootCmd    *cobra.Command
		rootConfig *rootConfiguration
	}

	rootConfiguration struct {
		// HomeDir is the finality node home directory.
		HomeDir string
		// CfgFile is the configuration file location; relative paths resolve
		// against HomeDir.
		CfgFile string
		// LogLevel is one of NONE, ERROR, WARNING, INFO, DEBUG, TRACE.
		LogLevel string
	}
)

// New creates the finality CLI application.
func New() *finalityApp {
	rootCmd, rootConfig := newRootCmd()
	return &finalityApp{rootCmd: rootCmd, rootConfig: rootConfig}
}

// Execute adds all child commands and runs the application.
func (a *finalityApp) Execute(ctx context.Context) {
	a.rootCmd.AddCommand(newRunCmd(a.rootConfig))
	cobra.CheckErr(a.rootCmd.ExecuteContext(ctx))
}

func newRootCmd() (*cobra.Command, *rootConfiguration) {
	config := &rootConfiguration{}
	rootCmd := &cobra.Command{
		Use:   "finality",
		Short: "The block finality node CLI",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := initializeConfig(cmd, config); err != nil {
				return err
			}
			logger.SetGlobalLevel(logger.LevelFromString(strings.ToUpper(config.LogLevel)))
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&config.HomeDir, "home", defaultHomeDir, "node home directory")
	rootCmd.PersistentFlags().StringVar(&config.CfgFile, "config", "", "config file location (default is <home>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&config.LogLevel, "log-level", "INFO", "log level (NONE|ERROR|WARNING|INFO|DEBUG|TRACE)")
	return rootCmd, config
}

// initializeConfig binds flags, the optional config file and FIN_* environment
// variables; flags win over environment values, environment values over file
// values.
func initializeConfig(cmd *cobra.Command, config *rootConfiguration) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if config.CfgFile != "" {
		cfgFile := config.CfgFile
		if !filepath.IsAbs(cfgFile) {
			cfgFile = filepath.Join(os.ExpandEnv(config.HomeDir), cfgFile)
		}
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading configuration file: %w", err)
		}
	} else {
		v.AddConfigPath(config.HomeDir)
		v.SetConfigName("config")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return fmt.Errorf("reading configuration file: %w", err)
			}
		}
	}

	var bindErr error
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if !flag.Changed && v.IsSet(flag.Name) {
			if err := cmd.Flags().Set(flag.Name, fmt.Sprintf("%v", v.Get(flag.Name))); err != nil && bindErr == nil {
				bindErr = err
			}
		}
	})
	return bindErr
}
