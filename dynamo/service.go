package dynamo

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/wire"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	es "github.com/harborview/eventsource-go"
	"github.com/harborview/eventsource-go/support"
)

var Live = wire.NewSet(
	support.AWSConfig,
	Client,
	LiveTableName,
	NewStore,
	wire.Bind(new(es.Store), new(*Store)),
)

var Local = wire.NewSet(
	LocalStore,
	wire.Bind(new(es.Store), new(*Store)),
)

func LiveTableName() (TableName, error) {
	cfg, err := support.LoadDynamoConfig()
	if err != nil {
		return "", err
	}

	return TableName(cfg.Table), nil
}

func Client(cfg aws.Config) *dynamodb.Client {
	otelaws.AppendMiddlewares(&cfg.APIOptions)
	return dynamodb.NewFromConfig(cfg)
}
