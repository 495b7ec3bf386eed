package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sogobanwo/GiG-Economy/pkg/ledgerConfig"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "gigledger",
	Short: "Task bounty escrow ledger",
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

var configFile string
var Config *ledgerConfig.LedgerConfig

func init() {
	cobra.OnInitialize(initConfigIfPresent)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	initConfig(rootCmd)

	rootCmd.PersistentFlags().Bool(ledgerConfig.Debug, false, `"true" or "false"`)

	rootCmd.AddCommand(runCmd)

	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		key := ledgerConfig.KebabToSnakeCase(f.Name)
		viper.BindPFlag(key, f) //nolint:errcheck
		viper.BindEnv(key)      //nolint:errcheck
	})
}

func initConfig(cmd *cobra.Command) {
	viper.SetEnvPrefix(ledgerConfig.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

// initConfigIfPresent loads --config when given. Without one the config is
// built from flags and GIGLEDGER_* variables once the run command binds them.
func initConfigIfPresent() {
	if configFile == "" {
		return
	}
	fmt.Printf("Using config file: %s\n", configFile)
	data, err := os.ReadFile(configFile)
	if err != nil {
		panic(err)
	}
	Config, err = ledgerConfig.NewLedgerConfigFromYamlBytes(data)
	if err != nil {
		panic(err)
	}
	if viper.GetBool(ledgerConfig.Debug) {
		Config.Debug = true
	}
}

func main() {
	Execute()
}
