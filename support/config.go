package support

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/caarlos0/env/v11"
)

func AWSConfig(ctx context.Context) (aws.Config, error) {
	return config.LoadDefaultConfig(ctx)
}

type DynamoConfig struct {
	Table string `env:"EVENTS_TABLE_NAME,required"`
}

func LoadDynamoConfig() (DynamoConfig, error) {
	return env.ParseAs[DynamoConfig]()
}

type SQLiteConfig struct {
	DSN string `env:"EVENTS_SQLITE_DSN" envDefault:"file:events.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"`
}

func LoadSQLiteConfig() (SQLiteConfig, error) {
	return env.ParseAs[SQLiteConfig]()
}
