package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/config"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/logger"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/recorder"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/signals"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/version"
)

const envPrefix = "RECAPVOICE"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "recapvoice",
	Short: "recapvoice records PBX calls from mirrored traffic",
	Long: fmt.Sprintf(`recapvoice %s - passive VoIP call recorder

Listens on a mirror port (or replays a pcap), follows SIP dialogs and writes
every answered call as IN, OUT and MERGE WAV files with one catalog record.`, version.GetVersion()),
	Version:       version.GetFullVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRecorder,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("recapvoice failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	logger.Initialize()

	rootCmd.AddCommand(interfacesCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./recapvoice.yaml or $HOME/.config/recapvoice/config.yaml)")
	rootCmd.Flags().StringP("interface", "i", "", "interface to capture from")
	rootCmd.Flags().StringP("read-file", "r", "", "replay a pcap file instead of capturing")
	rootCmd.Flags().StringP("filter", "f", "", "bpf filter to apply")
	rootCmd.Flags().String("save-path", "", "root directory for finalized recordings")

	_ = viper.BindPFlag("interface", rootCmd.Flags().Lookup("interface"))
	_ = viper.BindPFlag("read_file", rootCmd.Flags().Lookup("read-file"))
	_ = viper.BindPFlag("bpf_filter", rootCmd.Flags().Lookup("filter"))
	_ = viper.BindPFlag("save_path", rootCmd.Flags().Lookup("save-path"))
}

func initConfig() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("recapvoice")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.config/recapvoice")
		}
	}

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		fmt.Fprintln(os.Stderr, "Cannot read config file:", err)
		os.Exit(1)
	}
}

func runRecorder(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logger.Configure(logger.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		return fmt.Errorf("invalid log configuration: %w", err)
	}

	rec, err := recorder.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	cleanup := signals.SetupHandler(ctx, cancel, func() {
		logger.Error("Forced shutdown, queued calls are lost")
		os.Exit(1)
	})
	defer cleanup()

	logger.Info("Starting recapvoice", "version", version.GetShortVersion())
	return rec.Run(ctx)
}
