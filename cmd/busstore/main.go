package main

import (
	"fmt"
	"os"

	// load BUSSTORE_* settings from .env
	_ "github.com/joho/godotenv/autoload"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "busstore",
	Short: "Broadcast named events between processes over a message bus",
	Long: `busstore connects to a Kafka or NATS JetStream bus and exchanges named
events with every other node sharing the same topic partition.

Settings come from an optional YAML file, BUSSTORE_* environment variables
(a .env file is loaded automatically) and finally command line flags.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("busstore version %s\nCommit: %s\n", Version, Commit))

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML config file")
	flags.String("driver", "", "Bus driver: kafka, jetstream or memory")
	flags.String("brokers", "", "Comma separated host:port list of bus servers")
	flags.String("topic", "", "Topic shared by every node")
	flags.Int32("partition", 0, "Topic partition")
	flags.String("node-id", "", "Identity of this node (random when empty)")
	flags.Bool("log-json", false, "Log JSON instead of console output")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.String("metrics-addr", "", "Serve prometheus metrics on this address")

	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(publishCmd)
}
