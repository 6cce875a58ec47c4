package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	walletCmd = &cobra.Command{
		Use:   "wallet",
		Short: "Manage the wallet session",
	}

	walletUnlockCmd = &cobra.Command{
		Use:   "unlock",
		Short: "Unlock the signer for the configured session TTL",
		RunE:  runWalletUnlock,
	}

	walletLockCmd = &cobra.Command{
		Use:   "lock",
		Short: "Lock the signer and revoke active sessions",
		RunE:  runWalletLock,
	}

	walletRotateCmd = &cobra.Command{
		Use:   "rotate",
		Short: "Re-encrypt the keystore under a new passphrase",
		RunE:  runWalletRotate,
	}
)

func init() {
	walletCmd.AddCommand(walletUnlockCmd)
	walletCmd.AddCommand(walletLockCmd)
	walletCmd.AddCommand(walletRotateCmd)
}

func runWalletUnlock(cmd *cobra.Command, args []string) error {
	r, logger, err := openRuntime()
	if err != nil {
		return err
	}
	defer r.Close()
	defer logger.Sync()

	pass, err := readPassphrase("Passphrase: ")
	if err != nil {
		return err
	}
	ttl := r.WalletSessionTTL()
	if err := r.Wallet().Unlock(pass, ttl); err != nil {
		return err
	}
	fmt.Printf("Unlocked %s for %s\n", r.Wallet().Address(), ttl)
	return nil
}

func runWalletLock(cmd *cobra.Command, args []string) error {
	r, logger, err := openRuntime()
	if err != nil {
		return err
	}
	defer r.Close()
	defer logger.Sync()

	if err := r.Wallet().Lock(); err != nil {
		return err
	}
	fmt.Println("Wallet locked.")
	return nil
}

func runWalletRotate(cmd *cobra.Command, args []string) error {
	r, logger, err := openRuntime()
	if err != nil {
		return err
	}
	defer r.Close()
	defer logger.Sync()

	oldPass, err := readPassphrase("Current passphrase: ")
	if err != nil {
		return err
	}
	newPass, err := readPassphrase("New passphrase: ")
	if err != nil {
		return err
	}
	if err := r.Wallet().Rotate(oldPass, newPass); err != nil {
		return err
	}
	fmt.Println("Keystore rotated; wallet is locked.")
	return nil
}
