package commands

import (
	"context"
	"fmt"

	"github.com/goliatone/go-entity-provider/config"
	"github.com/goliatone/go-entity-provider/internal/demo"
	"github.com/goliatone/go-entity-provider/logging"
	"github.com/goliatone/go-entity-provider/pkg/di"
	"github.com/spf13/cobra"
)

type app struct {
	configPath string
	logLevel   string
	seed       bool
	seeded     bool

	container *di.Container
}

// NewRootCommand builds the entityctl command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "entityctl",
		Short: "Browse entities through a caching entity provider",
		Long: `entityctl lists, counts and shows the demo customers and orders through
an entity container backed by a caching entity provider.

Without --config an in-memory sqlite database is used; pass --seed to
create and fill the demo schema before the command runs.`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "YAML configuration file")
	flags.StringVar(&a.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	flags.BoolVar(&a.seed, "seed", false, "create and seed the demo schema before running")

	root.AddCommand(
		newSeedCommand(a),
		newListCommand(a),
		newGetCommand(a),
		newCountCommand(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}

	logger := logging.New(cfg.Log, cmd.ErrOrStderr())
	container, err := di.NewContainer(cfg, di.WithLogger(logger))
	if err != nil {
		return err
	}
	a.container = container

	if a.seed {
		customers, orders, err := a.seedDatabase(cmd.Context())
		if err != nil {
			return err
		}
		logger.Info("database seeded", "customers", customers, "orders", orders)
	}
	return nil
}

func (a *app) teardown(*cobra.Command, []string) error {
	if a.container == nil {
		return nil
	}
	return a.container.Close()
}

func (a *app) seedDatabase(ctx context.Context) (int, int, error) {
	db, err := a.container.DB()
	if err != nil {
		return 0, 0, err
	}
	if err := demo.CreateSchema(ctx, db); err != nil {
		return 0, 0, err
	}
	customers, orders, err := demo.Seed(ctx, db)
	if err != nil {
		return 0, 0, err
	}
	a.seeded = true
	return customers, orders, nil
}

func newSeedCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the demo schema and insert the demo customers and orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.seeded {
				fmt.Fprintln(cmd.OutOrStdout(), "already seeded")
				return nil
			}
			customers, orders, err := a.seedDatabase(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d customers and %d orders\n", customers, orders)
			return nil
		},
	}
}
