// Command gdocsfs mounts a Google Drive as a local filesystem.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// version is stamped by the build via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gdocsfs",
		Short: "Mount Google Drive as a local filesystem",
		Long: `gdocsfs projects a Google Drive onto a local directory through FUSE.

Native Workspace documents appear as editable Office files, writes are
buffered locally and uploaded on close, and remote changes made in the
web UI show up in the mount within the poll interval.

Run "gdocsfs auth" once to authorize, then "gdocsfs mount /path".`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	}

	// Accept underscore spellings too, so flags match their config file
	// and GDOCSFS_* environment names.
	root.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	root.PersistentFlags().String("config", "", "config file (default searches ~/.config/gdocsfs and .)")
	root.PersistentFlags().String("client-id", "", "OAuth client id")
	root.PersistentFlags().String("client-secret", "", "OAuth client secret")
	root.PersistentFlags().String("token-file", "", "OAuth token path (default ~/.config/gdocsfs/token.json)")
	root.PersistentFlags().String("log-file", "", "append logs to this file with rotation instead of stderr")

	root.AddCommand(newMountCmd())
	root.AddCommand(newAuthCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// initConfig layers configuration: flags beat GDOCSFS_* environment
// variables beat the config file. A missing default config file is fine;
// an explicitly named one must exist.
func initConfig(cmd *cobra.Command) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(filepath.Join(dir, "gdocsfs"))
		}
	}

	viper.SetEnvPrefix("GDOCSFS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if logFile := viper.GetString("log-file"); logFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gdocsfs version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gdocsfs %s\n", version)
		},
	}
}
