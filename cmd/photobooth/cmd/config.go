package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configRecommendOutput string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management and recommendations",
}

var configRecommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Generate recommended batch settings",
	Long: `Analyzes system hardware (CPU, RAM) and generates batch settings that
keep concurrent conversions within what this machine can render and
decode comfortably.`,
	RunE: runConfigRecommend,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configRecommendCmd)

	configRecommendCmd.Flags().StringVarP(&configRecommendOutput, "output", "o", "text",
		"Output format: text, json, yaml")
}

type ConfigRecommendation struct {
	Hardware        HardwareInfo  `json:"hardware" yaml:"hardware"`
	Recommendations BatchSettings `json:"recommendations" yaml:"recommendations"`
	Rationale       string        `json:"rationale" yaml:"rationale"`
}

type HardwareInfo struct {
	CPUModel     string `json:"cpu_model" yaml:"cpu_model"`
	CPUThreads   int    `json:"cpu_threads" yaml:"cpu_threads"`
	RAMBytes     uint64 `json:"ram_bytes" yaml:"ram_bytes"`
	RAMGB        string `json:"ram_gb" yaml:"ram_gb"`
	OS           string `json:"os" yaml:"os"`
	Architecture string `json:"architecture" yaml:"architecture"`
}

type BatchSettings struct {
	Concurrency int    `json:"concurrency" yaml:"concurrency"`
	MaxBatch    int    `json:"max_batch" yaml:"max_batch"`
	JobTimeout  string `json:"job_timeout" yaml:"job_timeout"`
}

func runConfigRecommend(cmd *cobra.Command, args []string) error {
	hardware, err := detectHardware()
	if err != nil {
		return fmt.Errorf("failed to detect hardware: %w", err)
	}

	settings := calculateRecommendations(hardware)
	rationale := fmt.Sprintf(
		"Based on %d CPU threads and %s: %d concurrent lanes keeps image "+
			"decode and progress rendering responsive while the remote service "+
			"does the heavy lifting",
		hardware.CPUThreads, hardware.RAMGB, settings.Concurrency)

	recommendation := ConfigRecommendation{
		Hardware:        hardware,
		Recommendations: settings,
		Rationale:       rationale,
	}

	return outputRecommendation(recommendation, configRecommendOutput)
}

func detectHardware() (HardwareInfo, error) {
	info := HardwareInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
	}

	counts, err := cpu.Counts(true)
	if err != nil {
		return info, fmt.Errorf("cpu count: %w", err)
	}
	info.CPUThreads = counts

	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}

	vmem, err := mem.VirtualMemory()
	if err != nil {
		return info, fmt.Errorf("memory info: %w", err)
	}
	info.RAMBytes = vmem.Total
	info.RAMGB = fmt.Sprintf("%.1f GB", float64(vmem.Total)/(1<<30))

	return info, nil
}

func calculateRecommendations(hw HardwareInfo) BatchSettings {
	// Conversion is remote; the local ceiling is event handling and
	// image decode, roughly one lane per two threads
	concurrency := hw.CPUThreads / 2
	if concurrency < 2 {
		concurrency = 2
	}
	if concurrency > 8 {
		concurrency = 8
	}

	// Below 4GB free headroom gets tight with large portraits in flight
	if hw.RAMBytes < 4*(1<<30) && concurrency > 4 {
		concurrency = 4
	}

	return BatchSettings{
		Concurrency: concurrency,
		MaxBatch:    32,
		JobTimeout:  "5m",
	}
}

func outputRecommendation(rec ConfigRecommendation, format string) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rec)

	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		return encoder.Encode(rec)

	default: // text
		fmt.Println("Hardware Configuration:")
		fmt.Printf("  CPU: %s (%d threads)\n", rec.Hardware.CPUModel, rec.Hardware.CPUThreads)
		fmt.Printf("  RAM: %s\n", rec.Hardware.RAMGB)
		fmt.Printf("  OS: %s/%s\n", rec.Hardware.OS, rec.Hardware.Architecture)
		fmt.Println()

		fmt.Println("Recommended Batch Settings:")
		fmt.Printf("  --concurrency %d\n", rec.Recommendations.Concurrency)
		fmt.Printf("  --max-batch %d\n", rec.Recommendations.MaxBatch)
		fmt.Printf("  --job-timeout %s\n", rec.Recommendations.JobTimeout)
		fmt.Println()

		fmt.Println("Rationale:")
		fmt.Printf("  %s\n", rec.Rationale)
		return nil
	}
}
