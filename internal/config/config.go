// Package config binds command-line flags, environment variables and an
// optional .env file into one Config. Flags win over the environment.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Environment variables read in place of the matching flags.
const (
	EnvAPIKey     = "BRAZE_REST_API_KEY"
	EnvEndpoint   = "BRAZE_REST_ENDPOINT"
	EnvExternalID = "BRAZE_EXTERNAL_ID"
	EnvLogLevel   = "LOG_LEVEL"
)

// Flag names.
const (
	FlagAPIKey           = "api-key"
	FlagEndpoint         = "endpoint"
	FlagExternalID       = "external-id"
	FlagDryRun           = "dry-run"
	FlagStrictTimestamps = "strict-timestamps"
	FlagRequestTimeout   = "request-timeout"
	FlagLedger           = "ledger"
	FlagLedgerDir        = "ledger-dir"
	FlagRedisAddr        = "redis-addr"
	FlagJournal          = "journal"
	FlagJournalDir       = "journal-dir"
	FlagKafkaBootstrap   = "kafka-bootstrap"
	FlagJournalTopic     = "journal-topic"
	FlagSQLitePath       = "sqlite-path"
	FlagMetricsAddr      = "metrics-addr"
	FlagMetricsTextfile  = "metrics-textfile"
	FlagLogLevel         = "log-level"
)

type Config struct {
	APIKey     string
	Endpoint   string
	ExternalID string

	DryRun           bool
	StrictTimestamps bool
	RequestTimeout   time.Duration

	Ledger    string
	LedgerDir string
	RedisAddr string

	Journal        []string
	JournalDir     string
	KafkaBootstrap string
	JournalTopic   string
	SQLitePath     string

	MetricsAddr     string
	MetricsTextfile string
	LogLevel        string
}

// RegisterImportFlags defines the import flags on fs.
func RegisterImportFlags(fs *pflag.FlagSet) {
	fs.String(FlagAPIKey, "", "Braze REST API key (env "+EnvAPIKey+")")
	fs.String(FlagEndpoint, "", "Braze REST endpoint, e.g. https://rest.fra-02.braze.eu (env "+EnvEndpoint+")")
	fs.String(FlagExternalID, "", "Braze user id to import into, e.g. the UUID after a merge (env "+EnvExternalID+")")
	fs.Bool(FlagDryRun, false, "transform and print counts without calling Braze")
	fs.Bool(FlagStrictTimestamps, false, "fail on orders without createdAt instead of using the run start time")
	fs.Duration(FlagRequestTimeout, 0, "per-request timeout, 0 disables")
	RegisterLedgerFlags(fs)
	RegisterJournalFlags(fs)
	fs.String(FlagMetricsAddr, "", "serve /metrics and /healthz on this address")
	fs.String(FlagMetricsTextfile, "", "write metrics in text format to this file on exit")
	fs.String(FlagLogLevel, "info", "debug|info|warn|error (env "+EnvLogLevel+")")
}

// RegisterLedgerFlags defines the ledger backend flags on fs.
func RegisterLedgerFlags(fs *pflag.FlagSet) {
	fs.String(FlagLedger, "", "record ledger backend: memory|pebble|badger|redis (default none)")
	fs.String(FlagLedgerDir, "./ledger", "ledger directory for pebble/badger")
	fs.String(FlagRedisAddr, "localhost:6379", "redis address for the redis ledger")
}

// RegisterJournalFlags defines the delivery journal flags on fs.
func RegisterJournalFlags(fs *pflag.FlagSet) {
	fs.String(FlagJournal, "", "comma-separated journal sinks: file,kafka,confluent,sqlite")
	fs.String(FlagJournalDir, "./journal", "directory for the file journal")
	fs.String(FlagKafkaBootstrap, "localhost:9092", "kafka bootstrap servers")
	fs.String(FlagJournalTopic, "brazekit.deliveries", "kafka journal topic")
	fs.String(FlagSQLitePath, "./journal/deliveries.db", "sqlite journal database")
}

// LoadDotEnv loads path into the process environment when it exists.
// Variables already set are not overridden.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "stat %s", path)
	}
	if err := godotenv.Load(path); err != nil {
		return errors.Wrapf(err, "load %s", path)
	}
	return nil
}

// New binds fs and the environment into a viper instance.
// Flag keys are also readable as BRAZEKIT_<FLAG_NAME>.
func New(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("brazekit")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, errors.Wrap(err, "bind flags")
	}
	for key, env := range map[string]string{
		FlagAPIKey:     EnvAPIKey,
		FlagEndpoint:   EnvEndpoint,
		FlagExternalID: EnvExternalID,
		FlagLogLevel:   EnvLogLevel,
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, errors.Wrapf(err, "bind env %s", env)
		}
	}
	return v, nil
}

// Load reads a Config out of v.
func Load(v *viper.Viper) Config {
	return Config{
		APIKey:           strings.TrimSpace(v.GetString(FlagAPIKey)),
		Endpoint:         strings.TrimSpace(v.GetString(FlagEndpoint)),
		ExternalID:       strings.TrimSpace(v.GetString(FlagExternalID)),
		DryRun:           v.GetBool(FlagDryRun),
		StrictTimestamps: v.GetBool(FlagStrictTimestamps),
		RequestTimeout:   v.GetDuration(FlagRequestTimeout),
		Ledger:           v.GetString(FlagLedger),
		LedgerDir:        v.GetString(FlagLedgerDir),
		RedisAddr:        v.GetString(FlagRedisAddr),
		Journal:          SplitList(v.GetString(FlagJournal)),
		JournalDir:       v.GetString(FlagJournalDir),
		KafkaBootstrap:   v.GetString(FlagKafkaBootstrap),
		JournalTopic:     v.GetString(FlagJournalTopic),
		SQLitePath:       v.GetString(FlagSQLitePath),
		MetricsAddr:      v.GetString(FlagMetricsAddr),
		MetricsTextfile:  v.GetString(FlagMetricsTextfile),
		LogLevel:         v.GetString(FlagLogLevel),
	}
}

// SplitList splits a comma-separated value, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
