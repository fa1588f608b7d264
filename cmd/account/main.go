package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmoiron/sqlx"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/account"
	accountrepo "github.com/ovaphlow/pitchfork/service-account-go/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/mailer"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/setting"
	settingrepo "github.com/ovaphlow/pitchfork/service-account-go/internal/setting/repo"
	"github.com/ovaphlow/pitchfork/service-account-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-account-go/pkg/utilities"
)

// app holds what every subcommand needs; it is filled in by the root PersistentPreRunE.
type app struct {
	logger   *zap.Logger
	sugar    *zap.SugaredLogger
	db       *sqlx.DB
	dbCfg    database.Config
	service  *account.Service
	settings *setting.Service
}

func (a *app) setup() error {
	// load .env file if present so os.Getenv picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a.logger = lg
	a.sugar = lg.Sugar()

	a.dbCfg = database.ConfigFromEnv()
	db, err := database.Open(a.dbCfg)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	a.db = db

	runner := database.NewRunner(db, a.sugar.Named("runner"))
	a.settings = setting.NewService(settingrepo.NewRepo(runner), setting.DefaultsFromEnv(), a.sugar.Named("setting"))
	mail := mailer.NewLogMailer(mailer.ConfigFromEnv(), a.sugar.Named("mailer"))
	a.service = account.NewService(accountrepo.NewAccountRepo(runner), nil, mail, a.settings, a.sugar.Named("account"))
	return nil
}

func (a *app) close() {
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	defer a.close()

	root := &cobra.Command{
		Use:           "account",
		Short:         "Account registration, activation and password reset",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.AddCommand(
		migrateCmd(a),
		registerCmd(a),
		activateCmd(a),
		resendActivationCmd(a),
		requestResetCmd(a),
		completeResetCmd(a),
		expireResetsCmd(a),
		lookupCmd(a),
		settingsCmd(a),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		if a.sugar != nil {
			a.sugar.Errorw("command failed", "err", err)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		a.close()
		os.Exit(1)
	}
}
