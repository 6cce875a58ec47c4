package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"aethernet/internal/store"
)

var (
	emergencyReason string

	emergencyCmd = &cobra.Command{
		Use:   "emergency on|off",
		Short: "Set or clear the emergency stop",
		Args:  cobra.ExactArgs(1),
		RunE:  runEmergency,
	}

	rollbackCmd = &cobra.Command{
		Use:   "rollback <path>",
		Short: "Undo the most recent self-modification of a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runRollback,
	}

	incidentsLimit int

	incidentsCmd = &cobra.Command{
		Use:   "incidents",
		Short: "List recent incidents",
		RunE:  runIncidents,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	configValidateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and print findings",
		RunE:  runConfigValidate,
	}

	injectFrom   string
	injectThread string

	injectCmd = &cobra.Command{
		Use:   "inject <content>",
		Short: "Inject an inbound message for the next turn",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runInject,
	}
)

func init() {
	emergencyCmd.Flags().StringVar(&emergencyReason, "reason", "", "why the stop was set")
	incidentsCmd.Flags().IntVar(&incidentsLimit, "limit", 20, "number of incidents to show")
	injectCmd.Flags().StringVar(&injectFrom, "from", "operator", "sender identity")
	injectCmd.Flags().StringVar(&injectThread, "thread", "", "thread id")
	configCmd.AddCommand(configValidateCmd)
}

func runEmergency(cmd *cobra.Command, args []string) error {
	var enabled bool
	switch args[0] {
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		return fmt.Errorf("expected on or off, got %q", args[0])
	}

	r, logger, err := openRuntime()
	if err != nil {
		return err
	}
	defer r.Close()
	defer logger.Sync()

	if err := r.Store().SetEmergencyStop(enabled, emergencyReason); err != nil {
		return err
	}
	if enabled {
		fmt.Println("Emergency stop ENABLED; all mutating actions will refuse.")
	} else {
		fmt.Println("Emergency stop cleared.")
	}
	return nil
}

func runRollback(cmd *cobra.Command, args []string) error {
	r, logger, err := openRuntime()
	if err != nil {
		return err
	}
	defer r.Close()
	defer logger.Sync()

	point, err := r.SelfMod().Rollback(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Rolled back %s to mutation %s (hash %s)\n",
		point.Path, point.MutationID, point.RollbackHash)
	return nil
}

func runIncidents(cmd *cobra.Command, args []string) error {
	r, logger, err := openRuntime()
	if err != nil {
		return err
	}
	defer r.Close()
	defer logger.Sync()

	incidents, err := r.Store().RecentIncidents(incidentsLimit)
	if err != nil {
		return err
	}
	if len(incidents) == 0 {
		fmt.Println("No incidents recorded.")
		return nil
	}
	for _, in := range incidents {
		fmt.Printf("%s  %-9s %-26s %s\n",
			in.Timestamp.Format("2006-01-02 15:04:05"), in.Severity, in.Code, in.Message)
	}
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	issues := cfg.Validate()
	if len(issues) == 0 {
		fmt.Println("Configuration valid.")
		return nil
	}
	hasErrors := false
	for _, issue := range issues {
		fmt.Printf("%-7s %-24s %s\n", issue.Severity, issue.Field, issue.Message)
		if issue.Severity == "error" {
			hasErrors = true
		}
	}
	if hasErrors {
		return fmt.Errorf("configuration has errors")
	}
	return nil
}

func runInject(cmd *cobra.Command, args []string) error {
	r, logger, err := openRuntime()
	if err != nil {
		return err
	}
	defer r.Close()
	defer logger.Sync()

	// persist directly: the loopback queue is per-process, the store
	// survives until the next turn claims the message
	msg := store.Message{
		ID:         uuid.NewString(),
		From:       injectFrom,
		To:         r.Wallet().Address(),
		ThreadID:   injectThread,
		Content:    strings.Join(args, " "),
		ReceivedAt: time.Now().UTC(),
	}
	if err := r.Store().UpsertMessage(&msg); err != nil {
		return err
	}
	fmt.Println("Message", msg.ID, "queued for the next turn.")
	return nil
}
