package tablerest

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/edgeflare/tablerest/pkg/config"
)

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
	v        = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "tablerest",
	Short: "tablerest serves a relational schema as a read-only REST API",
	Long: `tablerest discovers the tables of a PostgreSQL, MySQL, ClickHouse or DuckDB
database and exposes each one as a filtered, paginated JSON endpoint with
response caching and per-client rate limiting`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			fmt.Println(config.Version)
			return
		}

		cmd.Help()
	},
}

func Main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/tablerest.yaml)")
	pf.StringVarP(&logLevel, "log-level", "L", "info", "log at this level (debug, info, warn, error, none)")
	pf.StringP("driver", "d", "", "database driver: postgres, mysql, clickhouse or duckdb")
	pf.StringP("conn-string", "c", "", "database connection string")
	pf.StringSlice("schemas", nil, "schemas to expose (postgres only)")
	rootCmd.Flags().BoolP("version", "v", false, "Print the version number")

	for key, flag := range map[string]string{
		"rest.db.driver":     "driver",
		"rest.db.connString": "conn-string",
		"rest.db.schemas":    "schemas",
	} {
		v.BindPFlag(key, pf.Lookup(flag))
	}

	rootCmd.AddCommand(serveCmd, tablesCmd)
}

func initConfig() {
	var err error
	cfg, err = config.Load(v, cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}
}

// newLogger builds a production logger at --log-level and installs it as the
// global zap logger.
func newLogger() (*zap.Logger, error) {
	if logLevel == "none" {
		return zap.NewNop(), nil
	}
	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}
