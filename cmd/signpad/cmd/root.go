package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "signpad",
	Short: "SignPad pairs signature pads and relays signature requests",
	Long: `A service that pairs browser-based signature pads with a server-issued
RSA key, pushes show/hide commands to them over WebSocket and hands captured
signatures back to the operator waiting for them.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "bbolt", "Storage backend: bbolt, memory, postgres or redis")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "Directory for the bbolt database")
	rootCmd.PersistentFlags().StringVar(&postgresDSN, "postgres-dsn", os.Getenv("SIGNPAD_POSTGRES_DSN"), "PostgreSQL connection string")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis-addr", "localhost:6379", "Redis address")
	rootCmd.PersistentFlags().StringVar(&redisPassword, "redis-password", os.Getenv("SIGNPAD_REDIS_PASSWORD"), "Redis password")
	rootCmd.PersistentFlags().IntVar(&redisDB, "redis-db", 0, "Redis database number")
}
