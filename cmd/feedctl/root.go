package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/complaintfeed/internal/api"
	"github.com/matheus3301/complaintfeed/internal/profile"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "feedctl",
	Short: "Operate a running complaint feed daemon",
	Long: `feedctl drives the feed API of a running feedd: switch categories,
apply filters, page, expand rows and update complaints.

The daemon address comes from --addr, COMPLAINTFEED_ADDR, or
server.http_addr in ~/.complaintfeed/config.toml.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("profile", "", "profile name (overrides config default)")
	rootCmd.PersistentFlags().String("addr", "", "daemon feed API address")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Duration("timeout", 10*time.Second, "request timeout")

	_ = viper.BindPFlag("profile", rootCmd.PersistentFlags().Lookup("profile"))
	_ = viper.BindPFlag("server.http_addr", rootCmd.PersistentFlags().Lookup("addr"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	_ = viper.BindEnv("server.http_addr", "COMPLAINTFEED_ADDR")
}

// initConfig reads the shared config.toml. Missing files are fine.
func initConfig() {
	viper.SetConfigFile(profile.ConfigPath())
	viper.SetConfigType("toml")
	viper.SetEnvPrefix("complaintfeed")
	viper.AutomaticEnv()
	viper.SetDefault("server.http_addr", "127.0.0.1:8787")
	_ = viper.ReadInConfig()
}

func profileName() (string, error) {
	name := profile.Resolve(viper.GetString("profile"))
	return name, profile.ValidateName(name)
}

func newClient() *api.Client {
	return api.NewClient(viper.GetString("server.http_addr"), viper.GetDuration("timeout"))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// output prints v as JSON with --json, otherwise calls text.
func output(v any, text func()) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	text()
	return nil
}

func exactArgs(n int, usage string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("usage: feedctl %s", usage)
		}
		return nil
	}
}
