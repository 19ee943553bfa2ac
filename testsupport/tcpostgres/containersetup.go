package tcpostgres

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	defaultImage = "postgres:16-alpine"
	pgPort       = "5432/tcp"
)

type (
	// PostgresContainer is a started postgres container with known credentials.
	PostgresContainer struct {
		testcontainers.Container
		user     string
		password string
		dbName   string
	}
	PostgresContainerOption func(c *containerConfig)

	containerConfig struct {
		req      testcontainers.ContainerRequest
		user     string
		password string
		dbName   string
	}
)

func WithImage(image string) PostgresContainerOption {
	return func(c *containerConfig) {
		c.req.Image = image
	}
}

func WithName(containerName string) PostgresContainerOption {
	return func(c *containerConfig) {
		c.req.Name = containerName
	}
}

func WithCredentials(user, password, dbName string) PostgresContainerOption {
	return func(c *containerConfig) {
		c.user, c.password, c.dbName = user, password, dbName
	}
}

// WithStartupTimeout limits the time to wait for postgres to accept connections.
func WithStartupTimeout(d time.Duration) PostgresContainerOption {
	return func(c *containerConfig) {
		c.req.WaitingFor = readyStrategy(d)
	}
}

// postgres logs the ready message twice: once for the init run, once for the server
func readyStrategy(d time.Duration) wait.Strategy {
	return wait.ForLog("database system is ready to accept connections").
		WithOccurrence(2).
		WithStartupTimeout(d)
}

// SetupPostgres starts a postgres container or reuses the one with the same name.
func SetupPostgres(ctx context.Context, opts ...PostgresContainerOption) (
	*PostgresContainer, error,
) {
	cfg := &containerConfig{
		req: testcontainers.ContainerRequest{
			Image:        defaultImage,
			ExposedPorts: []string{pgPort},
			Cmd:          []string{"postgres", "-c", "fsync=off"},
			WaitingFor:   readyStrategy(30 * time.Second),
		},
		user:     "postgres",
		password: "password",
		dbName:   "racestart",
	}
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.req.Env = map[string]string{
		"POSTGRES_USER":     cfg.user,
		"POSTGRES_PASSWORD": cfg.password,
		"POSTGRES_DB":       cfg.dbName,
	}

	container, err := testcontainers.GenericContainer(ctx,
		testcontainers.GenericContainerRequest{
			ContainerRequest: cfg.req,
			Started:          true,
			Reuse:            cfg.req.Name != "",
		})
	if err != nil {
		return nil, err
	}
	return &PostgresContainer{
		Container: container,
		user:      cfg.user,
		password:  cfg.password,
		dbName:    cfg.dbName,
	}, nil
}

// ConnectionString returns the url of the database as reachable from the host.
func (c *PostgresContainer) ConnectionString(ctx context.Context) (string, error) {
	host, err := c.Host(ctx)
	if err != nil {
		return "", err
	}
	port, err := c.MappedPort(ctx, nat.Port(pgPort))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("postgresql://%s:%s@%s:%s/%s",
		c.user, c.password, host, port.Port(), c.dbName), nil
}
