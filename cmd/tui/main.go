package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ZE-BOSS/telegram-bot/internal/api"
	"github.com/ZE-BOSS/telegram-bot/internal/config"
)

const defaultConfigPath = "internal/config/config.yaml"

func main() {
	reader := bufio.NewReader(os.Stdin)

	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	client := api.NewClient(cfg.Backend.BaseURL, cfg.Backend.Token)

	for {
		fmt.Println("\n=== Signal Deck Control ===")
		fmt.Println("1) Show backend status")
		fmt.Println("2) List recent signals")
		fmt.Println("3) List recent executions")
		fmt.Println("4) Confirm execution")
		fmt.Println("5) Cancel execution")
		fmt.Println("6) Modify stop loss / take profit")
		fmt.Println("7) Close position")
		fmt.Println("8) Edit sync settings and save")
		fmt.Println("9) Launch deck engine")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		input, _ := reader.ReadString('\n')
		choice := strings.TrimSpace(input)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		switch choice {
		case "1":
			showStatus(ctx, client)
		case "2":
			listSignals(ctx, client)
		case "3":
			listExecutions(ctx, client)
		case "4":
			confirmExecution(ctx, reader, client)
		case "5":
			cancelExecution(ctx, reader, client)
		case "6":
			modifyExecution(ctx, reader, client)
		case "7":
			closeExecution(ctx, reader, client)
		case "8":
			editSync(reader, cfg)
			if err := config.Save(locateConfig(), cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved")
			}
		case "9":
			launchDeck(reader)
		case "0":
			cancel()
			return
		default:
			fmt.Println("unknown option")
		}
		cancel()
	}
}

func showStatus(ctx context.Context, client *api.Client) {
	status, err := client.FetchStatus(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status failed: %v\n", err)
		return
	}
	fmt.Printf("\nBackend: %s", status.Status)
	if status.PID != nil {
		fmt.Printf(" (pid %d)", *status.PID)
	}
	if status.Message != "" {
		fmt.Printf(" | %s", status.Message)
	}
	fmt.Println()
}

func listSignals(ctx context.Context, client *api.Client) {
	signals, err := client.FetchSignals(ctx, 10, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch signals failed: %v\n", err)
		return
	}
	fmt.Println("\n--- Recent Signals ---")
	for _, s := range signals {
		entry := "-"
		if s.EntryPrice != nil {
			entry = fmt.Sprintf("%.5f", *s.EntryPrice)
		}
		fmt.Printf("%s  %-8s %-4s entry %s [%s]\n", s.ID, s.Symbol, strings.ToUpper(s.SignalType), entry, s.Status)
	}
	if len(signals) == 0 {
		fmt.Println("(none)")
	}
}

func listExecutions(ctx context.Context, client *api.Client) {
	execs, err := client.FetchExecutions(ctx, 10, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch executions failed: %v\n", err)
		return
	}
	fmt.Println("\n--- Recent Executions ---")
	for _, ex := range execs {
		line := fmt.Sprintf("%s  %-8s %-4s %s", ex.ID, ex.Symbol, strings.ToUpper(ex.Side), ex.Status)
		if ex.Ticket != nil {
			line += fmt.Sprintf(" ticket %d", *ex.Ticket)
		}
		if ex.ProfitLoss != nil {
			line += fmt.Sprintf(" P/L %.2f", *ex.ProfitLoss)
		}
		fmt.Println(line)
	}
	if len(execs) == 0 {
		fmt.Println("(none)")
	}
}

func confirmExecution(ctx context.Context, reader *bufio.Reader, client *api.Client) {
	id := promptString(reader, "Execution id")
	if id == "" {
		return
	}
	overrides := promptOverrides(reader)
	if err := client.ConfirmExecution(ctx, id, overrides); err != nil {
		fmt.Fprintf(os.Stderr, "confirm failed: %v\n", err)
		return
	}
	fmt.Println("confirmed")
}

func cancelExecution(ctx context.Context, reader *bufio.Reader, client *api.Client) {
	id := promptString(reader, "Execution id")
	if id == "" {
		return
	}
	if err := client.RejectExecution(ctx, id); err != nil {
		fmt.Fprintf(os.Stderr, "cancel failed: %v\n", err)
		return
	}
	fmt.Println("cancelled")
}

func modifyExecution(ctx context.Context, reader *bufio.Reader, client *api.Client) {
	id := promptString(reader, "Execution id")
	if id == "" {
		return
	}
	overrides := promptOverrides(reader)
	if overrides.StopLoss == nil && overrides.TakeProfit == nil {
		fmt.Println("nothing to change")
		return
	}
	if err := client.ModifyExecution(ctx, id, overrides); err != nil {
		fmt.Fprintf(os.Stderr, "modify failed: %v\n", err)
		return
	}
	fmt.Println("modified")
}

func closeExecution(ctx context.Context, reader *bufio.Reader, client *api.Client) {
	id := promptString(reader, "Execution id")
	if id == "" {
		return
	}
	if err := client.CloseExecution(ctx, id); err != nil {
		fmt.Fprintf(os.Stderr, "close failed: %v\n", err)
		return
	}
	fmt.Println("closed")
}

func editSync(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Sync Settings ---")
	cfg.Sync.PageLimit = promptInt(reader, "Snapshot page limit", cfg.Sync.PageLimit)
	cfg.Sync.StatusPollMs = promptInt(reader, "Status poll interval (ms)", cfg.Sync.StatusPollMs)
	cfg.Sync.ReconnectDelayMs = promptInt(reader, "Reconnect delay (ms)", cfg.Sync.ReconnectDelayMs)
	cfg.Sync.JournalCapacity = promptInt(reader, "Journal capacity", cfg.Sync.JournalCapacity)
}

func launchDeck(reader *bufio.Reader) {
	fmt.Println("Launching deck engine (Ctrl+C to stop)...")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "run", "./cmd/deck")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start deck: %v\n", err)
		return
	}

	go func() {
		_ = cmd.Wait()
		cancel()
	}()

	fmt.Print("\nPress ENTER to stop the deck and return to menu...")
	_, _ = reader.ReadString('\n')
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func promptOverrides(reader *bufio.Reader) api.Overrides {
	var o api.Overrides
	if v, ok := promptOptionalFloat(reader, "Stop loss (blank to keep)"); ok {
		o.StopLoss = &v
	}
	if v, ok := promptOptionalFloat(reader, "Take profit (blank to keep)"); ok {
		o.TakeProfit = &v
	}
	return o
}

func promptString(reader *bufio.Reader, label string) string {
	fmt.Printf("%s: ", label)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func promptOptionalFloat(reader *bufio.Reader, label string) (float64, bool) {
	fmt.Printf("%s: ", label)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, false
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Println("invalid number, skipping")
		return 0, false
	}
	return val, true
}

func promptInt(reader *bufio.Reader, label string, current int) int {
	fmt.Printf("%s [%d]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.Atoi(line)
	if err != nil {
		fmt.Printf("invalid number, keeping %d\n", current)
		return current
	}
	return val
}

func loadConfig() (*config.Config, error) {
	return config.Load(locateConfig())
}

func locateConfig() string {
	if filepath.IsAbs(defaultConfigPath) {
		return defaultConfigPath
	}
	return filepath.Clean(defaultConfigPath)
}
