package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// SecurityMode selects how the transport connection is secured.
type SecurityMode string

const (
	SecuritySSL      SecurityMode = "ssl"      // implicit TLS from connection start
	SecurityStartTLS SecurityMode = "starttls" // plaintext handshake upgraded via STARTTLS
	SecurityNone     SecurityMode = "none"     // plaintext
)

const redactedPlaceholder = "***REDACTED***"

// Secret is a credential that redacts itself in logs and formatted output.
// Use string(s) where the raw value is required.
type Secret string

func (Secret) String() string { return redactedPlaceholder }

func (Secret) LogValue() slog.Value { return slog.StringValue(redactedPlaceholder) }

type SMTPSettings struct {
	Host               string
	Port               int
	Security           SecurityMode
	Username           string
	Password           Secret
	From               string
	To                 string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

type IMAPSettings struct {
	Host               string
	Port               int
	Security           SecurityMode
	Username           string
	Password           Secret
	Mailbox            string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

type PollSettings struct {
	Timeout  time.Duration
	Interval time.Duration
}

// Account is the fully-resolved, validated configuration for one monitored
// account. The probe pipeline treats it as immutable input.
type Account struct {
	Name            string
	SMTP            SMTPSettings
	IMAP            IMAPSettings
	Poll            PollSettings
	DeleteOnSuccess bool
	SubjectPrefix   string
	PushURL         string
}

// Config captures all options required for one run.
type Config struct {
	Path     string
	LogLevel string
	LogDir   string
	Accounts []Account
}

// The file is parsed into overlay structs whose optional fields are
// pointers. Merging is an explicit field-by-field override of the built-in
// defaults, then the file's defaults block, then the account block.

type fileConfig struct {
	Defaults accountOverlay   `yaml:"defaults"`
	Accounts []accountOverlay `yaml:"accounts"`
}

type accountOverlay struct {
	Name            string      `yaml:"name"`
	SMTP            smtpOverlay `yaml:"smtp"`
	IMAP            imapOverlay `yaml:"imap"`
	Poll            pollOverlay `yaml:"poll"`
	DeleteOnSuccess *bool       `yaml:"delete_on_success"`
	SubjectPrefix   *string     `yaml:"subject_prefix"`
	PushURL         *string     `yaml:"push_url"`
	Kuma            kumaOverlay `yaml:"kuma"`
}

// kumaOverlay keeps the nested push-URL form accepted by earlier configs.
type kumaOverlay struct {
	PushURL *string `yaml:"push_url"`
}

type smtpOverlay struct {
	Host     *string `yaml:"host"`
	Port     *int    `yaml:"port"`
	Security *string `yaml:"security"`
	Username *string `yaml:"username"`
	Password *string `yaml:"password"`
	From     *string `yaml:"from"`
	To       *string `yaml:"to"`
	Timeout  *int    `yaml:"timeout"`
}

type imapOverlay struct {
	Host     *string `yaml:"host"`
	Port     *int    `yaml:"port"`
	Security *string `yaml:"security"`
	Username *string `yaml:"username"`
	Password *string `yaml:"password"`
	Mailbox  *string `yaml:"mailbox"`
	Timeout  *int    `yaml:"timeout"`
}

type pollOverlay struct {
	Timeout  *int `yaml:"timeout_seconds"`
	Interval *int `yaml:"interval_seconds"`
}

func defaultAccount() Account {
	return Account{
		SMTP: SMTPSettings{
			Port:     465,
			Security: SecuritySSL,
			Timeout:  30 * time.Second,
		},
		IMAP: IMAPSettings{
			Port:     993,
			Security: SecuritySSL,
			Mailbox:  "INBOX",
			Timeout:  30 * time.Second,
		},
		Poll: PollSettings{
			Timeout:  120 * time.Second,
			Interval: 5 * time.Second,
		},
		DeleteOnSuccess: true,
	}
}

func applySMTP(base SMTPSettings, o smtpOverlay) SMTPSettings {
	if o.Host != nil {
		base.Host = *o.Host
	}
	if o.Port != nil {
		base.Port = *o.Port
	}
	if o.Security != nil {
		base.Security = SecurityMode(strings.ToLower(*o.Security))
	}
	if o.Username != nil {
		base.Username = *o.Username
	}
	if o.Password != nil {
		base.Password = Secret(*o.Password)
	}
	if o.From != nil {
		base.From = *o.From
	}
	if o.To != nil {
		base.To = *o.To
	}
	if o.Timeout != nil {
		base.Timeout = time.Duration(*o.Timeout) * time.Second
	}
	return base
}

func applyIMAP(base IMAPSettings, o imapOverlay) IMAPSettings {
	if o.Host != nil {
		base.Host = *o.Host
	}
	if o.Port != nil {
		base.Port = *o.Port
	}
	if o.Security != nil {
		base.Security = SecurityMode(strings.ToLower(*o.Security))
	}
	if o.Username != nil {
		base.Username = *o.Username
	}
	if o.Password != nil {
		base.Password = Secret(*o.Password)
	}
	if o.Mailbox != nil {
		base.Mailbox = *o.Mailbox
	}
	if o.Timeout != nil {
		base.Timeout = time.Duration(*o.Timeout) * time.Second
	}
	return base
}

func applyPoll(base PollSettings, o pollOverlay) PollSettings {
	if o.Timeout != nil {
		base.Timeout = time.Duration(*o.Timeout) * time.Second
	}
	if o.Interval != nil {
		base.Interval = time.Duration(*o.Interval) * time.Second
	}
	return base
}

func applyAccount(base Account, o accountOverlay) Account {
	base.SMTP = applySMTP(base.SMTP, o.SMTP)
	base.IMAP = applyIMAP(base.IMAP, o.IMAP)
	base.Poll = applyPoll(base.Poll, o.Poll)
	if o.DeleteOnSuccess != nil {
		base.DeleteOnSuccess = *o.DeleteOnSuccess
	}
	if o.SubjectPrefix != nil {
		base.SubjectPrefix = *o.SubjectPrefix
	}
	if o.Kuma.PushURL != nil {
		base.PushURL = *o.Kuma.PushURL
	}
	if o.PushURL != nil {
		base.PushURL = *o.PushURL
	}
	return base
}

// Parse decodes YAML config data and resolves each account against the
// defaults overlay. When selected is non-empty only the named accounts are
// returned; an empty result after filtering is an error.
func Parse(data []byte, selected []string) ([]Account, error) {
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(file.Accounts) == 0 {
		return nil, fmt.Errorf("no accounts configured under 'accounts'")
	}

	base := applyAccount(defaultAccount(), file.Defaults)

	wanted := make(map[string]bool, len(selected))
	for _, name := range selected {
		wanted[name] = true
	}

	var accounts []Account
	for i, raw := range file.Accounts {
		if raw.Name == "" {
			return nil, fmt.Errorf("accounts[%d]: name is required", i)
		}
		if len(wanted) > 0 && !wanted[raw.Name] {
			continue
		}
		acct := applyAccount(base, raw)
		acct.Name = raw.Name
		if err := validateAccount(acct); err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}

	if len(accounts) == 0 {
		return nil, fmt.Errorf("no accounts match the --account filter")
	}
	return accounts, nil
}

// LoadFile reads and parses the YAML config at path.
func LoadFile(path string, selected []string) ([]Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, selected)
}

func validateAccount(acct Account) error {
	required := []struct {
		value string
		label string
	}{
		{acct.SMTP.Host, "smtp.host"},
		{acct.SMTP.From, "smtp.from"},
		{acct.SMTP.To, "smtp.to"},
		{acct.IMAP.Host, "imap.host"},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("account %q: %s is required", acct.Name, r.label)
		}
	}

	if acct.SMTP.Port <= 0 || acct.SMTP.Port > 65535 {
		return fmt.Errorf("account %q: smtp.port must be between 1 and 65535", acct.Name)
	}
	if acct.IMAP.Port <= 0 || acct.IMAP.Port > 65535 {
		return fmt.Errorf("account %q: imap.port must be between 1 and 65535", acct.Name)
	}
	if err := validateSecurity(acct.SMTP.Security); err != nil {
		return fmt.Errorf("account %q: smtp.security: %w", acct.Name, err)
	}
	if err := validateSecurity(acct.IMAP.Security); err != nil {
		return fmt.Errorf("account %q: imap.security: %w", acct.Name, err)
	}
	if acct.Poll.Timeout <= 0 {
		return fmt.Errorf("account %q: poll.timeout_seconds must be positive", acct.Name)
	}
	if acct.Poll.Interval <= 0 {
		return fmt.Errorf("account %q: poll.interval_seconds must be positive", acct.Name)
	}
	return nil
}

func validateSecurity(mode SecurityMode) error {
	switch mode {
	case SecuritySSL, SecurityStartTLS, SecurityNone:
		return nil
	default:
		return fmt.Errorf("invalid security mode %q (want ssl, starttls or none)", mode)
	}
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.StringP("config", "c", "config.yml", "Path to the YAML config file")
	flags.StringArrayP("account", "a", nil, "Run only the named account (repeatable)")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (in addition to stdout)")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	return nil
}

// LoadConfig converts the parsed Cobra flags into a Config struct with the
// accounts resolved and validated.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	path, err := flags.GetString("config")
	if err != nil {
		return Config{}, err
	}
	selected, err := flags.GetStringArray("account")
	if err != nil {
		return Config{}, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Config{}, err
	}
	logDir, err := flags.GetString("log-dir")
	if err != nil {
		return Config{}, err
	}
	insecureSkipVerify, err := flags.GetBool("insecure-skip-verify")
	if err != nil {
		return Config{}, err
	}

	logLevel = strings.ToLower(logLevel)
	if logLevel == "warning" {
		logLevel = "warn"
	}
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("invalid --log-level: %s", logLevel)
	}

	accounts, err := LoadFile(path, selected)
	if err != nil {
		return Config{}, err
	}

	if insecureSkipVerify {
		for i := range accounts {
			accounts[i].SMTP.InsecureSkipVerify = true
			accounts[i].IMAP.InsecureSkipVerify = true
		}
	}

	return Config{
		Path:     path,
		LogLevel: logLevel,
		LogDir:   logDir,
		Accounts: accounts,
	}, nil
}
