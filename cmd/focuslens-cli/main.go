package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"focuslens/internal/config"
	"focuslens/internal/ipc"
)

var (
	configPath string
	dbPath     string
	socketPath string
	streamAddr string

	loadOnce sync.Once
	cfg      *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "focuslens-cli",
	Short: "CLI tool to interact with the FocusLens daemon",
	Long:  `A command-line interface to control the running FocusLens daemon via its Unix socket, watch live activity and report on recorded segments.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.SetFlags(0)
	},
}

// settings loads the daemon configuration once; explicit flags win over it.
func settings() *config.Config {
	loadOnce.Do(func() {
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			log.Fatalf("Error: failed to load configuration: %v", err)
		}
		if dbPath != "" {
			cfg.DatabasePath = dbPath
		}
		if socketPath != "" {
			cfg.SocketPath = socketPath
		}
		if streamAddr != "" {
			cfg.StreamAddr = streamAddr
		}
	})
	return cfg
}

func sendCommand(cmd ipc.Command) {
	resp, err := ipc.Send(settings().SocketPath, cmd)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	if !resp.Success {
		fmt.Fprintf(os.Stderr, "Error: %s\n", resp.Message)
		os.Exit(1)
	}
	if resp.Message != "" {
		fmt.Println(resp.Message)
	}
	if resp.Data != nil {
		prettyData, err := json.MarshalIndent(resp.Data, "", "  ")
		if err == nil {
			fmt.Println(string(prettyData))
		} else {
			fmt.Println("Data (raw):", resp.Data)
		}
	}
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the daemon is running",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.Command{Name: ipc.CmdPing})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current activity, detector state and refinement queue",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.Command{Name: ipc.CmdGetStatus})
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause activity tracking",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.Command{Name: ipc.CmdPause})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume activity tracking",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.Command{Name: ipc.CmdResume})
	},
}

var setAFKCmd = &cobra.Command{
	Use:   "set-afk <duration>",
	Short: "Set how long without input counts as away (e.g. 5m); minimum 30s",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.Command{
			Name: ipc.CmdSetAFKThreshold,
			Args: ipc.SetAFKThresholdArgs{Duration: args[0]},
		})
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the FocusLens config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the FocusLens database file (default: loaded from config)")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "Daemon socket path (default: loaded from config)")
	rootCmd.PersistentFlags().StringVar(&streamAddr, "stream", "", "Daemon stream address (default: loaded from config)")

	reportCmd.Flags().IntP("days", "d", 7, "Number of past days to include in the report")
	reportCmd.Flags().StringP("format", "f", "auto", "Output format: auto, table, json or yaml")
	reportCmd.Flags().IntP("top", "n", 10, "Number of applications to list")
	rootCmd.AddCommand(reportCmd)

	classifyCmd.Flags().Bool("explain", false, "Show which rule matched")
	rootCmd.AddCommand(classifyCmd)

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(setAFKCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}
