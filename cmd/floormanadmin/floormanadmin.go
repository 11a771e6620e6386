package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"maze.io/x/duration"

	"github.com/ts4z/floorman/builtins"
	"github.com/ts4z/floorman/config"
	"github.com/ts4z/floorman/dbcache"
	"github.com/ts4z/floorman/dbnotify"
	"github.com/ts4z/floorman/dbutil"
	"github.com/ts4z/floorman/logging"
	"github.com/ts4z/floorman/permission"
	"github.com/ts4z/floorman/prizepool"
	"github.com/ts4z/floorman/state"
	"github.com/ts4z/floorman/tournament"
	"github.com/ts4z/floorman/ts"
)

var (
	clock = ts.NewRealClock()

	templateSet string
	olderThan   string

	tokenUser  string
	tokenRole  string
	tokenClubs []string
	tokenTTL   string
)

// parseDuration takes anything maze.io/x/duration does, so "1d" and "2w"
// work as well as "36h".
func parseDuration(s string) (time.Duration, error) {
	d, err := duration.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("can't parse duration %q: %w", s, err)
	}
	return time.Duration(d), nil
}

func openDB(ctx context.Context) (*state.DBStorage, error) {
	db, err := dbutil.Connect(ctx)
	if errors.Is(err, dbutil.ErrNoDatabase) {
		return nil, errors.New("floormanadmin needs a database; set FLOORMAN_DB_URL")
	} else if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return state.NewDBStorage(db), nil
}

// newManager builds a Manager whose events reach running floormand
// processes through Postgres notifications.
func newManager(storage *state.DBStorage) *tournament.Manager {
	return tournament.NewManager(&tournament.Config{
		Storage:    storage,
		Structures: dbcache.NewStructureStorage(16, storage),
		Aggregator: prizepool.NewAggregator(storage, clock),
		Publisher:  dbnotify.NewNotifier(storage.DB(), uuid.New()),
		Clock:      clock,
	})
}

func migrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	storage, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer storage.Close()
	if err := storage.Migrate(ctx); err != nil {
		return err
	}
	fmt.Println("schema is up to date")
	return nil
}

func seedTemplates(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	storage, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer storage.Close()
	n, err := state.SeedPayoutTemplates(ctx, storage, templateSet)
	if err != nil {
		return err
	}
	fmt.Printf("seeded %d templates from %q\n", n, templateSet)
	return nil
}

func listTemplates(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	storage, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer storage.Close()
	templates, err := storage.FetchPayoutTemplates(ctx)
	if err != nil {
		return err
	}
	printTemplates(os.Stdout, templates)
	return nil
}

func finishStale(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	threshold, err := parseDuration(olderThan)
	if err != nil {
		return err
	}
	storage, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer storage.Close()
	n, err := newManager(storage).FinishStale(ctx, threshold)
	if err != nil {
		return err
	}
	fmt.Printf("finished %d tournaments in progress for more than %v\n", n, threshold)
	return nil
}

func tournamentArg(args []string) (uuid.UUID, error) {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, fmt.Errorf("can't parse tournament id %q: %w", args[0], err)
	}
	return id, nil
}

func recalcPayout(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id, err := tournamentArg(args)
	if err != nil {
		return err
	}
	storage, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer storage.Close()
	res, err := newManager(storage).RecalculatePayout(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case res.NoTemplate:
		fmt.Println("no payout template covers this field; payout left alone")
	case res.Changed:
		fmt.Println("payout updated")
	default:
		fmt.Println("payout unchanged")
	}
	if res.Payout != nil {
		printPayout(os.Stdout, res.Payout)
	}
	return nil
}

func showPayout(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id, err := tournamentArg(args)
	if err != nil {
		return err
	}
	storage, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer storage.Close()
	p, err := storage.FetchPayout(ctx, id)
	if errors.Is(err, state.ErrNotFound) {
		fmt.Println("no payout yet")
		return nil
	} else if err != nil {
		return err
	}
	printPayout(os.Stdout, p)
	return nil
}

func listStructures(cmd *cobra.Command, args []string) error {
	for _, name := range builtins.StructureNames() {
		s, err := builtins.Structure(name)
		if err != nil {
			return err
		}
		printStructure(os.Stdout, name, s)
	}
	return nil
}

// jwtSecret is FLOORMAN_JWT_SECRET, or asked for at the terminal.
func jwtSecret() ([]byte, error) {
	if secret := config.JWTSecret(); len(secret) > 0 {
		return secret, nil
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return nil, errors.New("FLOORMAN_JWT_SECRET is not set")
	}
	fmt.Fprint(os.Stderr, "Enter signing secret: ")
	secret, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading secret: %w", err)
	}
	return secret, nil
}

func mintToken(cmd *cobra.Command, args []string) error {
	user, err := uuid.Parse(tokenUser)
	if err != nil {
		return fmt.Errorf("can't parse --user: %w", err)
	}
	role, err := permission.ParseRole(tokenRole)
	if err != nil {
		return err
	}
	var clubs []uuid.UUID
	for _, c := range tokenClubs {
		id, err := uuid.Parse(strings.TrimSpace(c))
		if err != nil {
			return fmt.Errorf("can't parse --club %q: %w", c, err)
		}
		clubs = append(clubs, id)
	}
	ttl, err := parseDuration(tokenTTL)
	if err != nil {
		return err
	}
	secret, err := jwtSecret()
	if err != nil {
		return err
	}
	tokens, err := permission.NewTokens(secret, clock)
	if err != nil {
		return err
	}
	raw, err := tokens.Mint(user, role, clubs, ttl)
	if err != nil {
		return err
	}
	fmt.Println(raw)
	return nil
}

func main() {
	var dbURL string
	rootCmd := &cobra.Command{
		Short: "floorman administration tool",
		Use:   "floormanadmin",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.Init()
			if dbURL != "" {
				config.Set("db_url", dbURL)
			}
			logging.Init(config.LogLevel(), config.LogPretty())
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "Database connection URL (overrides FLOORMAN_DB_URL)")

	dbCmd := &cobra.Command{Use: "db", Short: "Manage the database"}
	dbCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the schema",
		RunE:  migrate,
	})

	templatesCmd := &cobra.Command{Use: "templates", Short: "Manage payout templates"}
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Store a built-in template set",
		RunE:  seedTemplates,
	}
	seedCmd.Flags().StringVar(&templateSet, "set", "standard",
		fmt.Sprintf("Built-in set to seed (one of %s)", strings.Join(builtins.PayoutTemplateSets(), ", ")))
	templatesCmd.AddCommand(seedCmd, &cobra.Command{
		Use:   "list",
		Short: "List payout templates",
		RunE:  listTemplates,
	})

	staleCmd := &cobra.Command{Use: "stale", Short: "Deal with abandoned tournaments"}
	finishCmd := &cobra.Command{
		Use:   "finish",
		Short: "Finish tournaments that have been in progress too long",
		RunE:  finishStale,
	}
	finishCmd.Flags().StringVar(&olderThan, "older-than", "24h", "How long in progress counts as abandoned (e.g. 36h, 2d)")
	staleCmd.AddCommand(finishCmd)

	payoutCmd := &cobra.Command{Use: "payout", Short: "Inspect and repair payouts"}
	payoutCmd.AddCommand(&cobra.Command{
		Use:   "recalc TOURNAMENT_ID",
		Short: "Recompute a tournament's payout from its entries",
		Args:  cobra.ExactArgs(1),
		RunE:  recalcPayout,
	}, &cobra.Command{
		Use:   "show TOURNAMENT_ID",
		Short: "Print a tournament's payout",
		Args:  cobra.ExactArgs(1),
		RunE:  showPayout,
	})

	structuresCmd := &cobra.Command{Use: "structures", Short: "Built-in blind structures"}
	structuresCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the built-in blind structures",
		RunE:  listStructures,
	})

	tokenCmd := &cobra.Command{Use: "token", Short: "Bearer tokens"}
	mintCmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint a bearer token signed with FLOORMAN_JWT_SECRET (asks if unset)",
		RunE:  mintToken,
	}
	mintCmd.Flags().StringVar(&tokenUser, "user", "", "User id")
	mintCmd.Flags().StringVar(&tokenRole, "role", "player", "player, manager or admin")
	mintCmd.Flags().StringSliceVar(&tokenClubs, "club", nil, "Club id a manager manages (repeatable)")
	mintCmd.Flags().StringVar(&tokenTTL, "ttl", "12h", "How long the token is good for (e.g. 12h, 7d)")
	mintCmd.MarkFlagRequired("user")
	tokenCmd.AddCommand(mintCmd)

	rootCmd.AddCommand(dbCmd, templatesCmd, staleCmd, payoutCmd, structuresCmd, tokenCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
