package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/probekit/mailprobe/config"
)

// newCheckConfigCmd validates a config file and prints the effective
// per-account settings with credentials redacted.
func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config [config file]",
		Short: "Validate the configuration and print the effective account settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.yml"
			if len(args) > 0 {
				path = args[0]
			}

			accounts, err := config.LoadFile(path, nil)
			if err != nil {
				return err
			}

			fmt.Printf("%s: %d account(s)\n", path, len(accounts))
			for _, acct := range accounts {
				fmt.Printf("- %s\n", acct.Name)
				fmt.Printf("  smtp: %s:%d security=%s from=%s to=%s user=%s\n",
					acct.SMTP.Host, acct.SMTP.Port, acct.SMTP.Security,
					acct.SMTP.From, acct.SMTP.To, acct.SMTP.Username)
				fmt.Printf("  imap: %s:%d security=%s mailbox=%s user=%s\n",
					acct.IMAP.Host, acct.IMAP.Port, acct.IMAP.Security,
					acct.IMAP.Mailbox, acct.IMAP.Username)
				fmt.Printf("  poll: timeout=%s interval=%s delete_on_success=%t\n",
					acct.Poll.Timeout, acct.Poll.Interval, acct.DeleteOnSuccess)
				if acct.PushURL != "" {
					fmt.Println("  push: configured")
				}
			}
			return nil
		},
	}
}
