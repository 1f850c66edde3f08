package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/cardsense/card"
	"github.com/hrygo/cardsense/internal/profile"
	"github.com/hrygo/cardsense/internal/version"
	"github.com/hrygo/cardsense/nlq"
	"github.com/hrygo/cardsense/nlq/analytics"
	"github.com/hrygo/cardsense/nlq/cache"
	"github.com/hrygo/cardsense/nlq/decompose"
	"github.com/hrygo/cardsense/nlq/execute"
	"github.com/hrygo/cardsense/nlq/pattern"
	"github.com/hrygo/cardsense/nlq/session"
	"github.com/hrygo/cardsense/store"
	"github.com/hrygo/cardsense/store/db"
)

const replSessionID = "repl"

var rootCmd = &cobra.Command{
	Use:   "cardsense",
	Short: `Ask natural-language questions about the cards in your wallet.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Ignore error if no .env file exists.
		_ = godotenv.Load()
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Data:    viper.GetString("data"),
			Driver:  viper.GetString("driver"),
			DSN:     viper.GetString("dsn"),
			Wallet:  viper.GetString("wallet"),
			Version: version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			slog.Error("invalid configuration", "error", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		cards, err := card.LoadWallet(instanceProfile.Wallet)
		if err != nil {
			slog.Error("failed to load wallet", "error", err)
			os.Exit(1)
		}

		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			slog.Error("failed to create db driver", "error", err)
			os.Exit(1)
		}
		storeInstance := store.New(dbDriver, instanceProfile)
		if err := storeInstance.Migrate(ctx); err != nil {
			slog.Error("failed to migrate", "error", err)
			os.Exit(1)
		}
		defer storeInstance.Close()

		cfg := nlq.NewConfigFromProfile(instanceProfile)

		var learner *pattern.Learner
		if cfg.Enabled {
			embedder, err := nlq.NewEmbeddingService(&cfg.Embedding)
			if err != nil {
				slog.Error("failed to create embedding service", "error", err)
				os.Exit(1)
			}
			cached := cache.NewEmbeddingCache(embedder, cfg.Embedding.CacheSize, cfg.Embedding.CacheTTL)
			learner = pattern.NewLearner(storeInstance, cached, pattern.DefaultConfig())
		} else {
			slog.Warn("no embedding api key configured, pattern learning disabled")
		}

		metrics := analytics.NewMetrics(nil)
		var sink analytics.FeedbackSink
		if learner != nil {
			sink = learner
		}
		tracker := analytics.NewTracker(storeInstance, sink, metrics, analytics.DefaultConfig())
		defer tracker.Close()

		sessions := session.NewManager(slog.Default(), 30*time.Minute)
		defer sessions.Close()

		service := nlq.NewService(decompose.DefaultConfig(), learner, tracker, sessions)

		if port := viper.GetInt("metrics-port"); port > 0 {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				addr := fmt.Sprintf(":%d", port)
				if err := http.ListenAndServe(addr, mux); err != nil {
					slog.Error("metrics server stopped", "error", err)
				}
			}()
		}

		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-c
			cancel()
		}()

		fmt.Printf("cardsense %s: loaded %d cards. Ask a question, or type help.\n", instanceProfile.Version, len(cards))
		runREPL(ctx, service, tracker, cards)
	},
}

func runREPL(ctx context.Context, service *nlq.Service, tracker *analytics.Tracker, cards []*card.Card) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return
		case "help":
			fmt.Println("Ask about your cards in plain English, e.g. \"what are the different issuers\".")
			fmt.Println("Commands: good | bad (rate the last answer), reset, stats, exit")
			continue
		case "reset":
			service.Reset(replSessionID)
			fmt.Println("Context cleared.")
			continue
		case "good", "bad":
			service.Feedback(ctx, replSessionID, line == "good")
			fmt.Println("Thanks for the feedback.")
			continue
		case "stats":
			printStats(ctx, tracker)
			continue
		}

		answer, err := service.Ask(ctx, replSessionID, line, cards)
		if err != nil {
			if decompose.FallbackRequired(err) {
				fmt.Printf("I couldn't work that one out: %v\n", err)
			} else {
				fmt.Printf("Error: %v\n", err)
			}
			continue
		}
		printResult(answer.Result)
	}
}

func printStats(ctx context.Context, tracker *analytics.Tracker) {
	stats, err := tracker.Snapshot(ctx, "", 24*time.Hour)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Last 24h: %d queries, %.0f%% answered", stats.TotalQueries, stats.SuccessRate*100)
	for path, count := range stats.ByPath {
		fmt.Printf(", %s=%d", path, count)
	}
	fmt.Println()
}

func printResult(result *execute.Result) {
	switch result.Kind {
	case decompose.KindDistinct:
		for _, v := range result.Values {
			if v.Count > 0 {
				fmt.Printf("  %s (%d)\n", v.Value, v.Count)
			} else {
				fmt.Printf("  %s\n", v.Value)
			}
		}
	case decompose.KindAggregate:
		fmt.Printf("  %s of %s: %s (over %d cards)\n",
			result.Scalar.Verb, result.Scalar.Field,
			result.Scalar.Value.StringFixed(2), result.Scalar.ConsideredCount)
	case decompose.KindGroupedAggregate:
		for _, row := range result.Groups {
			fmt.Printf("  %-24s %s\n", row.Group, row.Value.StringFixed(2))
		}
	case decompose.KindFilter:
		if len(result.Records) == 0 {
			fmt.Println("  No cards match.")
			return
		}
		for _, c := range result.Records {
			line := fmt.Sprintf("  %s (%s)", c.Name, c.Issuer)
			if c.CurrentBalance != nil {
				line += fmt.Sprintf(" balance %s", c.CurrentBalance.StringFixed(2))
			}
			fmt.Println(line)
		}
	}
	if result.Metadata.ExcludedCount > 0 {
		fmt.Printf("  (%d cards lacked the needed data)\n", result.Metadata.ExcludedCount)
	}
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "memory")
	viper.SetDefault("wallet", "wallet.json")

	rootCmd.PersistentFlags().String("mode", "dev", `mode of service, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "memory", "database driver (postgres, memory)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")
	rootCmd.PersistentFlags().String("wallet", "wallet.json", "path to the wallet JSON file")
	rootCmd.PersistentFlags().Int("metrics-port", 0, "port for the Prometheus metrics endpoint, 0 disables it")

	for _, flag := range []string{"mode", "data", "driver", "dsn", "wallet", "metrics-port"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("cardsense")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
