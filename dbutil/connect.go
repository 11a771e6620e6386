package dbutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"

	"cloud.google.com/go/cloudsqlconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"

	"github.com/ts4z/floorman/config"
)

// ErrNoDatabase is returned by Connect when sql_connector is "memory".
var ErrNoDatabase = errors.New("sql_connector is memory; there is no database")

type cloudEnvSettings struct {
	dbUser,
	dbPwd,
	dbName,
	instanceConnectionName,
	usePrivate string
}

func (s *cloudEnvSettings) getenv() error {
	unset := []string{}
	getenv := func(k string) string {
		v := os.Getenv(k)
		if v == "" {
			unset = append(unset, k)
		}
		return v
	}

	s.dbUser = getenv("DB_USER")
	s.dbPwd = getenv("DB_PASS")
	s.dbName = getenv("DB_NAME")
	s.instanceConnectionName = getenv("INSTANCE_CONNECTION_NAME") // project:region:instance
	s.usePrivate = os.Getenv("PRIVATE_IP")

	if len(unset) != 0 {
		return fmt.Errorf("cloudsqlconn: unset variables: %v", unset)
	}
	return nil
}

func connectWithConnector(ctx context.Context) (*sql.DB, error) {
	env := &cloudEnvSettings{}
	if err := env.getenv(); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("user=%s password=%s database=%s", env.dbUser, env.dbPwd, env.dbName)
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	var opts []cloudsqlconn.Option
	if env.usePrivate != "" {
		opts = append(opts, cloudsqlconn.WithDefaultDialOptions(cloudsqlconn.WithPrivateIP()))
	}
	// Refresh on demand rather than in the background.
	opts = append(opts, cloudsqlconn.WithLazyRefresh())
	d, err := cloudsqlconn.NewDialer(ctx, opts...)
	if err != nil {
		return nil, err
	}
	cfg.DialFunc = func(ctx context.Context, network, instance string) (net.Conn, error) {
		return d.Dial(ctx, env.instanceConnectionName)
	}
	log.Info().Str("instance", env.instanceConnectionName).Str("database", env.dbName).Msg("connecting via Cloud SQL connector")
	db, err := sql.Open("pgx", stdlib.RegisterConnConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	return db, nil
}

func connectWithPgx(ctx context.Context) (*sql.DB, error) {
	url := config.DBURL()
	if url == "" {
		return nil, errors.New("database URL is empty; set FLOORMAN_DB_URL")
	}
	cfg, err := pgx.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	log.Info().Str("host", cfg.Host).Str("database", cfg.Database).Msg("connecting to database")
	db, err := sql.Open("pgx", stdlib.RegisterConnConfig(cfg))
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

// Connect opens the database named by the configuration.
func Connect(ctx context.Context) (*sql.DB, error) {
	switch c := config.SQLConnector(); c {
	case "connector":
		return connectWithConnector(ctx)
	case "pgx":
		return connectWithPgx(ctx)
	case "memory":
		return nil, ErrNoDatabase
	default:
		return nil, fmt.Errorf("unknown sql_connector %q", c)
	}
}
