package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"aethernet/internal/agent"
	"aethernet/internal/config"
	"aethernet/internal/store"
	"aethernet/internal/wallet"
)

var (
	initName string

	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Create the agent home directory and wallet",
		RunE:  runInit,
	}

	runIntervalMs int

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the autonomy daemon until interrupted",
		RunE:  runDaemon,
	}

	tickDryRun bool
	tickPrompt string

	tickCmd = &cobra.Command{
		Use:   "tick",
		Short: "Run exactly one turn",
		RunE:  runTick,
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Print the agent's current state",
		RunE:  runStatus,
	}
)

func init() {
	initCmd.Flags().StringVar(&initName, "name", "aethernet", "agent name")
	runCmd.Flags().IntVar(&runIntervalMs, "interval-ms", 0, "tick interval override")
	tickCmd.Flags().BoolVar(&tickDryRun, "dry-run", false, "record the turn without calling the brain")
	tickCmd.Flags().StringVar(&tickPrompt, "prompt", "", "operator prompt for this turn")
}

const defaultConstitution = `# Constitution

1. Preserve your operator's trust: never act outside your configured
   capabilities.
2. Conserve funds; treat the survival tiers as hard boundaries.
3. Record what you do; the incident log is the source of truth.
`

const defaultLaws = `# Laws

1. Mutating actions require an unlocked wallet session.
2. Self-modification is bounded, backed up, and reversible.
3. The emergency stop overrides every other directive.
`

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(filepath.Join(homeDir, "config.json")); err == nil {
		return fmt.Errorf("home %s already initialized", homeDir)
	}

	if err := os.MkdirAll(homeDir, 0o700); err != nil {
		return fmt.Errorf("create home: %w", err)
	}

	cfg := &config.Config{
		Name:       initName,
		HomeDir:    homeDir,
		ConfigPath: filepath.Join(homeDir, "config.json"),
	}
	cfg.ApplyDefaults()
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.SkillsDir(), 0o700); err != nil {
		return err
	}

	for _, f := range []struct{ path, content string }{
		{cfg.ConstitutionPolicy.ConstitutionPath, defaultConstitution},
		{cfg.ConstitutionPolicy.LawsPath, defaultLaws},
	} {
		if err := os.WriteFile(f.path, []byte(f.content), 0o444); err != nil {
			return fmt.Errorf("write %s: %w", f.path, err)
		}
	}

	pass, err := readPassphrase("Wallet passphrase: ")
	if err != nil {
		return err
	}
	if err := wallet.CheckPassphraseStrength(pass); err != nil {
		return err
	}
	addr, err := wallet.Generate(cfg.WalletPath(), pass)
	if err != nil {
		return fmt.Errorf("generate wallet: %w", err)
	}

	if err := cfg.Save(); err != nil {
		return err
	}

	fmt.Println("Initialized agent home:", homeDir)
	fmt.Println("Wallet address:", addr)
	fmt.Println("Next: aethernet wallet unlock && aethernet run")
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	r, logger, err := openRuntime()
	if err != nil {
		return err
	}
	defer r.Close()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("Daemon running; Ctrl-C to stop.")
	if err := r.RunDaemon(ctx, runIntervalMs); err != nil {
		return err
	}

	state, _, _ := r.Store().GetKV(store.KVAgentState)
	fmt.Println("Daemon stopped; agent state:", state)
	return nil
}

func runTick(cmd *cobra.Command, args []string) error {
	r, logger, err := openRuntime()
	if err != nil {
		return err
	}
	defer r.Close()
	defer logger.Sync()

	if err := r.Tick(cmd.Context(), agent.TickOptions{
		DryRun:         tickDryRun,
		OperatorPrompt: tickPrompt,
	}); err != nil {
		return err
	}

	turns, err := r.Store().RecentTurns(1)
	if err != nil {
		return err
	}
	if len(turns) > 0 {
		out, _ := json.MarshalIndent(turns[0], "", "  ")
		fmt.Println(string(out))
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	r, logger, err := openRuntime()
	if err != nil {
		return err
	}
	defer r.Close()
	defer logger.Sync()
	st := r.Store()

	state, _, _ := st.GetKV(store.KVAgentState)
	if state == "" {
		state = "never started"
	}
	fmt.Println("Agent:   ", r.Config().Name)
	fmt.Println("Address: ", r.Wallet().Address())
	fmt.Println("State:   ", state)
	fmt.Println("Unlocked:", r.Wallet().IsUnlocked())

	if snap, err := st.LatestSurvivalSnapshot(); err == nil && snap != nil {
		fmt.Printf("Survival: %s (%d USD)\n", snap.Tier, snap.EstimatedUsd)
	}
	if es, err := st.GetEmergencyState(); err == nil && es != nil && es.Enabled {
		fmt.Println("EMERGENCY STOP ENABLED:", es.Reason)
	}
	if n, err := st.CountTurns(); err == nil {
		fmt.Println("Turns:   ", n)
	}
	if n, err := st.CountMessages(); err == nil {
		fmt.Println("Queue:   ", n)
	}
	return nil
}

// readPassphrase reads a secret from the env override or stdin.
func readPassphrase(prompt string) (string, error) {
	if env := os.Getenv("AETHERNET_WALLET_PASSPHRASE"); env != "" {
		return env, nil
	}
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return strings.TrimSpace(line), nil
}
