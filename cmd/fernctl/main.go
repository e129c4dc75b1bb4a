package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fernbooks/ledgercore/pkg/client"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
	token     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fernctl",
	Short: "Fern Books ledger core CLI",
	Long: `fernctl is the operator command-line interface for the Fern Books
ledger core service.

It posts and voids transactions, manages period locks, inspects the
release audit chain, and drives the admission control plane.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.fernctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if token == "" {
			token = viper.GetString("operator_token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.fernctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "ledger core base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "operator token (or OPERATOR_TOKEN)")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(postCmd)
	rootCmd.AddCommand(voidCmd)
	rootCmd.AddCommand(periodCmd)
	rootCmd.AddCommand(chainCmd)
	rootCmd.AddCommand(admissionCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(retentionCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() *client.Client {
	opts := []client.Option{}
	if token != "" {
		opts = append(opts, client.WithOperatorToken(token))
	}
	return client.New(serverURL, opts...)
}

func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// ── login ────────────────────────────────────────────────────────────────────

var loginActor string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Exchange the operator secret for a short-lived token",
	Long: `Login exchanges the shared operator secret for a short-lived operator
token and prints it. The secret is read from the OPERATOR_SECRET
environment variable, never from a flag, so it stays out of shell history:

  OPERATOR_SECRET=... fernctl login --actor alice@fernbooks.io`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := os.Getenv("OPERATOR_SECRET")
		if secret == "" {
			return fmt.Errorf("OPERATOR_SECRET environment variable not set")
		}

		ctx, cancel := cmdContext()
		defer cancel()

		tok, err := newClient().FetchOperatorToken(ctx, secret, loginActor)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginActor, "actor", "", "Actor recorded in the audit chain for operator actions")
	loginCmd.MarkFlagRequired("actor") //nolint:errcheck
}

// ── status ───────────────────────────────────────────────────────────────────

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the service's admission control state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		status, err := newClient().Admission(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "LEVEL\t%s\n", status.Level)
		fmt.Fprintf(w, "KILL SWITCH\t%v\n", status.KillSwitch)
		fmt.Fprintf(w, "MAX IN-FLIGHT\t%d\n", status.MaxInFlight)
		fmt.Fprintf(w, "MAX ERROR RATE\t%.2f\n", status.MaxErrorRate)
		return w.Flush()
	},
}

// ── post ─────────────────────────────────────────────────────────────────────

var (
	postTenant string
	postPeriod string
	postLines  []string
)

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Post a balanced transaction",
	Long: `Post submits a double-entry transaction. Each --line is
account-id:amount:side, and debits must equal credits:

  fernctl post --tenant acme --period 2025-01 \
    --line 6b9f...:100.00:debit \
    --line a3c2...:100.00:credit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		lines := make([]client.Line, 0, len(postLines))
		for _, raw := range postLines {
			parts := strings.SplitN(raw, ":", 3)
			if len(parts) != 3 {
				return fmt.Errorf("invalid --line %q: want account-id:amount:side", raw)
			}
			lines = append(lines, client.Line{AccountID: parts[0], Amount: parts[1], Side: parts[2]})
		}

		ctx, cancel := cmdContext()
		defer cancel()

		txn, err := newClient().PostTransaction(ctx, postTenant, postPeriod, lines)
		if err != nil {
			return err
		}
		fmt.Printf("posted %s\n", txn.ID)
		return nil
	},
}

func init() {
	postCmd.Flags().StringVar(&postTenant, "tenant", "", "Tenant ID")
	postCmd.Flags().StringVar(&postPeriod, "period", "", "Accounting period (YYYY-MM)")
	postCmd.Flags().StringArrayVar(&postLines, "line", nil, "Transaction line as account-id:amount:side (repeatable)")
	postCmd.MarkFlagRequired("tenant") //nolint:errcheck
	postCmd.MarkFlagRequired("period") //nolint:errcheck
	postCmd.MarkFlagRequired("line")   //nolint:errcheck
}

// ── void ─────────────────────────────────────────────────────────────────────

var voidTenant string

var voidCmd = &cobra.Command{
	Use:   "void <transaction-id>",
	Short: "Void a transaction by posting its reversal",
	Long: `Void marks a transaction void and posts a compensating reversal into
the current open period. The original is never mutated or deleted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		reversal, err := newClient().VoidTransaction(ctx, voidTenant, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("voided %s — reversal %s\n", args[0], reversal.ID)
		return nil
	},
}

func init() {
	voidCmd.Flags().StringVar(&voidTenant, "tenant", "", "Tenant ID")
	voidCmd.MarkFlagRequired("tenant") //nolint:errcheck
}

// ── period ───────────────────────────────────────────────────────────────────

var periodCmd = &cobra.Command{
	Use:   "period",
	Short: "Manage accounting period locks (operator)",
}

var periodLockCmd = &cobra.Command{
	Use:   "lock <tenant> <period>",
	Short: "Lock a period against further posting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		if err := newClient().LockPeriod(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("locked %s %s\n", args[0], args[1])
		return nil
	},
}

var periodUnlockCmd = &cobra.Command{
	Use:   "unlock <tenant> <period>",
	Short: "Reopen a locked period",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		if err := newClient().UnlockPeriod(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("unlocked %s %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	periodCmd.AddCommand(periodLockCmd)
	periodCmd.AddCommand(periodUnlockCmd)
}

// ── chain ────────────────────────────────────────────────────────────────────

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Inspect the release audit chain",
}

var (
	chainOffset int
	chainLimit  int
	chainFormat string
)

var chainShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List audit chain entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		entries, root, err := newClient().ChainList(ctx, chainOffset, chainLimit)
		if err != nil {
			return err
		}

		if chainFormat == "json" {
			return json.NewEncoder(os.Stdout).Encode(entries)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "IDX\tTIMESTAMP\tACTION\tACTOR\tHASH")
		for _, e := range entries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.12s\n",
				e.Index, e.Timestamp.Format(time.RFC3339), e.Action, e.Actor, e.Hash)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("root %s\n", root)
		return nil
	},
}

var chainVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit chain end to end",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		intact, reason, err := newClient().ChainVerify(ctx)
		if err != nil {
			return err
		}
		if !intact {
			return fmt.Errorf("chain COMPROMISED: %s", reason)
		}
		fmt.Println("chain intact")
		return nil
	},
}

var chainAppendContent string

var chainAppendCmd = &cobra.Command{
	Use:   "append <action>",
	Short: "Record an operational action (deploy, rollback, config-change)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var content map[string]any
		if chainAppendContent != "" {
			if err := json.Unmarshal([]byte(chainAppendContent), &content); err != nil {
				return fmt.Errorf("parse --content: %w", err)
			}
		}

		ctx, cancel := cmdContext()
		defer cancel()

		entry, err := newClient().ChainAppend(ctx, args[0], content)
		if err != nil {
			return err
		}
		fmt.Printf("appended entry %d hash %s\n", entry.Index, entry.Hash)
		return nil
	},
}

func init() {
	chainShowCmd.Flags().IntVar(&chainOffset, "offset", 0, "First entry index to show")
	chainShowCmd.Flags().IntVar(&chainLimit, "limit", 50, "Maximum entries to show")
	chainShowCmd.Flags().StringVar(&chainFormat, "format", "text", "Output format: text or json")
	chainAppendCmd.Flags().StringVar(&chainAppendContent, "content", "", "Entry content as a JSON object")

	chainCmd.AddCommand(chainShowCmd)
	chainCmd.AddCommand(chainVerifyCmd)
	chainCmd.AddCommand(chainAppendCmd)
}

// ── admission ────────────────────────────────────────────────────────────────

var admissionCmd = &cobra.Command{
	Use:   "admission",
	Short: "Drive the admission control plane (operator)",
}

var admissionReason string

var admissionLevelCmd = &cobra.Command{
	Use:   "level <normal|degraded|critical|halted>",
	Short: "Transition the degradation level",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if admissionReason == "" {
			return fmt.Errorf("--reason is required")
		}

		ctx, cancel := cmdContext()
		defer cancel()

		if err := newClient().SetLevel(ctx, args[0], admissionReason); err != nil {
			return err
		}
		fmt.Printf("level set to %s\n", args[0])
		return nil
	},
}

var admissionKillCmd = &cobra.Command{
	Use:   "killswitch <on|off>",
	Short: "Engage or clear the kill switch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var on bool
		switch args[0] {
		case "on":
			on = true
		case "off":
			on = false
		default:
			return fmt.Errorf("argument must be on or off, got %q", args[0])
		}
		if admissionReason == "" {
			return fmt.Errorf("--reason is required")
		}

		ctx, cancel := cmdContext()
		defer cancel()

		if err := newClient().SetKillSwitch(ctx, on, admissionReason); err != nil {
			return err
		}
		fmt.Printf("kill switch %s\n", args[0])
		return nil
	},
}

func init() {
	admissionCmd.PersistentFlags().StringVar(&admissionReason, "reason", "", "Reason recorded in the audit chain")

	admissionCmd.AddCommand(admissionLevelCmd)
	admissionCmd.AddCommand(admissionKillCmd)
}

// ── snapshot ─────────────────────────────────────────────────────────────────

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Fetch the current compliance snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		raw, err := newClient().Snapshot(ctx)
		if err != nil {
			return err
		}
		os.Stdout.Write(raw)
		fmt.Println()
		return nil
	},
}

// ── retention ────────────────────────────────────────────────────────────────

var retentionCreatedAt string

var retentionCmd = &cobra.Command{
	Use:   "retention <record-id>",
	Short: "Evaluate a record's purge eligibility",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		createdAt, err := time.Parse(time.RFC3339, retentionCreatedAt)
		if err != nil {
			return fmt.Errorf("parse --created-at: %w", err)
		}

		ctx, cancel := cmdContext()
		defer cancel()

		decision, err := newClient().EvaluateRetention(ctx, args[0], createdAt)
		if err != nil {
			return err
		}
		if decision.EligibleForPurge {
			fmt.Printf("eligible for purge (%s)\n", decision.Reason)
		} else {
			fmt.Printf("retain (%s)\n", decision.Reason)
		}
		return nil
	},
}

func init() {
	retentionCmd.Flags().StringVar(&retentionCreatedAt, "created-at", "", "Record creation time (RFC3339)")
	retentionCmd.MarkFlagRequired("created-at") //nolint:errcheck
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the fernctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("fernctl", version)
	},
}
