package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/blkluv/photo-booth-sogni-sub001/pkg/logging"
)

var (
	cfgFile      string
	apiURL       string
	apiKey       string
	outputFormat string
	logLevel     string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "photobooth",
	Short: "Batch AI style transfer for portrait images",
	Long: `photobooth drives batches of portrait images through a remote AI
style-transfer service with a bounded worker pool, live per-lane
progress, and a recorded run history.`,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.photobooth/config)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "style-transfer API base URL (default from config)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".photobooth")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	viper.BindEnv("api_key", "PHOTOBOOTH_API_KEY")
	viper.BindEnv("api_url", "PHOTOBOOTH_API_URL")

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetString("api_url") != "" && apiURL == "" {
			apiURL = viper.GetString("api_url")
		}
	}

	if apiKey == "" && viper.GetString("api_key") != "" {
		apiKey = viper.GetString("api_key")
	}
	if apiURL == "" && viper.GetString("api_url") != "" {
		apiURL = viper.GetString("api_url")
	}

	if apiURL == "" {
		apiURL = "https://api.sogni.ai"
	}
}

// GetAPIURL returns the configured API base URL with trailing slashes removed
func GetAPIURL() string {
	return strings.TrimRight(apiURL, "/")
}

// GetAPIKey returns the configured API key
func GetAPIKey() string {
	return apiKey
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

func newLogger() *logging.Logger {
	return logging.NewLogger(logging.ParseLevel(logLevel), false)
}

// defaultHistoryPath returns the sqlite run-history location, creating
// the directory if needed
func defaultHistoryPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	dir := filepath.Join(home, ".photobooth")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}
