package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"imageforge/internal/adapter/repo"
	"imageforge/internal/infra"
	"imageforge/internal/queue"
)

// dlq inspects and replays dead-lettered generation jobs.
//
//	dlq list [-limit N]
//	dlq resubmit -id <message-id>
func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		exitWithError(errors.New("usage: dlq <list|resubmit> [flags]"))
	}
	command := os.Args[1]

	cfg, err := infra.LoadConfig()
	if err != nil {
		exitWithError(err)
	}
	logger := infra.NewLogger("cli", "dlq")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect redis: %w", err))
	}
	defer rdb.Close()

	gateway := queue.NewRedisGateway(rdb, cfg.QueueName, logger)

	switch command {
	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		limit := fs.Int("limit", 50, "maximum entries to show")
		_ = fs.Parse(os.Args[2:])
		if err := runList(ctx, gateway, *limit); err != nil {
			exitWithError(err)
		}
	case "resubmit":
		fs := flag.NewFlagSet("resubmit", flag.ExitOnError)
		id := fs.String("id", "", "dead-lettered message ID to resubmit")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*id) == "" {
			exitWithError(errors.New("-id is required"))
		}
		if err := runResubmit(ctx, cfg, gateway, *id); err != nil {
			exitWithError(err)
		}
	default:
		exitWithError(fmt.Errorf("unknown command %q", command))
	}
}

func runList(ctx context.Context, gateway queue.Gateway, limit int) error {
	entries, err := gateway.PeekDeadLetters(ctx, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("dead-letter queue is empty")
		return nil
	}
	for _, e := range entries {
		out, _ := json.Marshal(map[string]any{
			"message_id":     e.MessageID,
			"generation_id":  e.GenerationID,
			"user_id":        e.UserID,
			"reason":         e.Reason,
			"detail":         e.Detail,
			"delivery_count": e.DeliveryCount,
			"dead_at":        e.DeadAt.Format(time.RFC3339),
		})
		fmt.Println(string(out))
	}
	fmt.Printf("%d entries\n", len(entries))
	return nil
}

// runResubmit resets the generation record back to pending before the
// message re-enters the queue, so the replayed delivery is accepted.
// Resubmission never re-deducts credits.
func runResubmit(ctx context.Context, cfg *infra.Config, gateway queue.Gateway, messageID string) error {
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}
	defer pool.Close()
	generations := repo.NewGenerationRepository(pool)

	entries, err := gateway.PeekDeadLetters(ctx, 1000)
	if err != nil {
		return err
	}
	var genID string
	for _, e := range entries {
		if e.MessageID == messageID {
			genID = e.GenerationID
			break
		}
	}
	if genID == "" {
		return fmt.Errorf("message %s not found in dead-letter queue", messageID)
	}

	if err := generations.ResetForResubmit(ctx, genID); err != nil {
		return fmt.Errorf("reset generation %s: %w", genID, err)
	}
	msg, err := gateway.ResubmitDeadLetter(ctx, messageID)
	if err != nil {
		return err
	}
	fmt.Printf("resubmitted generation %s as message %s (attempt %d)\n", msg.GenerationID, msg.MessageID, msg.Attempt)
	return nil
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
