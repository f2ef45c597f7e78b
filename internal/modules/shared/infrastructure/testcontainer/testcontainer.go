package testcontainer

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
	rediscontainer "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"evimai-api/internal/config"
)

// RedisContainer Redisコンテナのラッパー
type RedisContainer struct {
	Container *rediscontainer.RedisContainer
	Host      string
	Port      string
}

// MySQLContainer MySQLコンテナのラッパー
type MySQLContainer struct {
	Container *mysql.MySQLContainer
	Host      string
	Port      string
	Database  string
	User      string
	Password  string
}

var (
	redisOnce sync.Once
	redisInst *RedisContainer
	redisErr  error

	mysqlOnce sync.Once
	mysqlInst *MySQLContainer
	mysqlErr  error
)

// StartRedis Redisコンテナを起動（パッケージ内で1つを共有）
func StartRedis(ctx context.Context) (*RedisContainer, error) {
	redisOnce.Do(func() {
		redisInst, redisErr = startRedis(ctx)
	})
	return redisInst, redisErr
}

// StartMySQL MySQLコンテナを起動（パッケージ内で1つを共有）
func StartMySQL(ctx context.Context) (*MySQLContainer, error) {
	mysqlOnce.Do(func() {
		mysqlInst, mysqlErr = startMySQL(ctx)
	})
	return mysqlInst, mysqlErr
}

// RequireRedis Redisコンテナを取得（Dockerが使えない場合はテストをスキップ）
func RequireRedis(t *testing.T) *RedisContainer {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping redis container test in short mode")
	}
	c, err := StartRedis(context.Background())
	if err != nil {
		t.Skipf("Skipping test: %v", err)
	}
	return c
}

// RequireMySQL MySQLコンテナを取得（Dockerが使えない場合はテストをスキップ）
func RequireMySQL(t *testing.T) *MySQLContainer {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping mysql container test in short mode")
	}
	c, err := StartMySQL(context.Background())
	if err != nil {
		t.Skipf("Skipping test: %v", err)
	}
	return c
}

func startRedis(ctx context.Context) (*RedisContainer, error) {
	container, err := rediscontainer.Run(ctx,
		"redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get redis host: %w", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		return nil, fmt.Errorf("failed to get redis port: %w", err)
	}

	return &RedisContainer{
		Container: container,
		Host:      host,
		Port:      port.Port(),
	}, nil
}

func startMySQL(ctx context.Context) (*MySQLContainer, error) {
	const (
		database = "testdb"
		user     = "testuser"
		password = "testpass"
	)

	container, err := mysql.Run(ctx,
		"mysql:8.0",
		mysql.WithDatabase(database),
		mysql.WithUsername(user),
		mysql.WithPassword(password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("port: 3306  MySQL Community Server").WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start mysql container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get mysql host: %w", err)
	}

	port, err := container.MappedPort(ctx, "3306")
	if err != nil {
		return nil, fmt.Errorf("failed to get mysql port: %w", err)
	}

	return &MySQLContainer{
		Container: container,
		Host:      host,
		Port:      port.Port(),
		Database:  database,
		User:      user,
		Password:  password,
	}, nil
}

// RedisConfig アプリケーション設定形式の接続情報
func (r *RedisContainer) RedisConfig() *config.RedisConfig {
	port, _ := strconv.Atoi(r.Port)
	return &config.RedisConfig{
		Enabled: true,
		Host:    r.Host,
		Port:    port,
	}
}

// MySQLConfig アプリケーション設定形式の接続情報
func (m *MySQLContainer) MySQLConfig() *config.MySQLConfig {
	port, _ := strconv.Atoi(m.Port)
	return &config.MySQLConfig{
		Host:        m.Host,
		Port:        port,
		User:        m.User,
		Password:    m.Password,
		Database:    m.Database,
		AutoMigrate: true,
	}
}

// Close Redisコンテナを停止
func (r *RedisContainer) Close(ctx context.Context) error {
	if r.Container != nil {
		return r.Container.Terminate(ctx)
	}
	return nil
}

// Close MySQLコンテナを停止
func (m *MySQLContainer) Close(ctx context.Context) error {
	if m.Container != nil {
		return m.Container.Terminate(ctx)
	}
	return nil
}
