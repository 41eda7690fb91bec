package main

import (
	"context"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dspace-submission-composer/internal/config"
	"github.com/sells-group/dspace-submission-composer/internal/fetcher"
	"github.com/sells-group/dspace-submission-composer/internal/report"
	"github.com/sells-group/dspace-submission-composer/internal/resilience"
	"github.com/sells-group/dspace-submission-composer/internal/store"
	"github.com/sells-group/dspace-submission-composer/internal/workflow"
	"github.com/sells-group/dspace-submission-composer/pkg/s3"
	"github.com/sells-group/dspace-submission-composer/pkg/ses"
	"github.com/sells-group/dspace-submission-composer/pkg/sqs"
)

// app bundles the clients a command needs.
type app struct {
	cfg      *config.Config
	s3       s3.Client
	queue    sqs.Client
	email    ses.Client
	store    store.Store
	registry *workflow.Registry
}

func newApp(ctx context.Context) (*app, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}
	retry := resilience.FromRetryConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs)

	st, err := initStore(ctx, awsCfg)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}

	a := &app{
		cfg: cfg,
		s3: s3.New(awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
			o.UsePathStyle = cfg.AWS.Endpoint != ""
		}), s3.WithRetry(retry.WithLogger("s3", "request"))),
		queue: sqs.New(awssqs.NewFromConfig(awsCfg),
			sqs.WithRetry(retry.WithLogger("sqs", "request")),
			sqs.WithWaitTime(5),
			sqs.WithVisibilityTimeout(300),
		),
		email: ses.New(sesv2.NewFromConfig(awsCfg)),
		store: st,
	}

	metadata, content := initFetchers(retry)
	a.registry, err = workflow.NewRegistry(workflow.Env{
		Config:   cfg,
		S3:       a.s3,
		Store:    st,
		Metadata: metadata,
		Content:  content,
	})
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// loadAWSConfig resolves credentials from the default chain. A configured
// endpoint (localstack) overrides every service endpoint.
func loadAWSConfig(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.Region))
	if err != nil {
		return aws.Config{}, eris.Wrap(err, "load aws config")
	}
	if c.Endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(c.Endpoint)
	}
	return awsCfg, nil
}

func initStore(ctx context.Context, awsCfg aws.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "dynamodb":
		return store.NewDynamo(dynamodb.NewFromConfig(awsCfg), cfg.Store.TableName), nil
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "dsc.db"
		}
		return store.NewSQLite(dsn, cfg.Store.TableName)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.TableName, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initFetchers builds the Crossref metadata and publisher content fetchers.
// Each gets its own breaker so a failing content API does not block metadata.
func initFetchers(retry resilience.RetryConfig) (metadata, content fetcher.Fetcher) {
	breaker := func(name string) *resilience.CircuitBreaker {
		return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			ShouldTrip:       resilience.IsTransient,
			OnStateChange: func(from, to resilience.CircuitState) {
				zap.L().Warn("fetcher: circuit breaker state change",
					zap.String("fetcher", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		})
	}

	var query url.Values
	userAgent := "dsc/1.0"
	if cfg.Wiley.Mailto != "" {
		query = url.Values{"mailto": {cfg.Wiley.Mailto}}
		userAgent += " (mailto:" + cfg.Wiley.Mailto + ")"
	}

	metadata = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: userAgent,
		Retry:     retry.WithLogger("crossref", "fetch"),
		Breaker:   breaker("metadata"),
		Query:     query,
	})
	content = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: fetcher.BrowserUserAgent,
		Timeout:   2 * time.Minute,
		Retry:     retry.WithLogger("wiley", "fetch"),
		Breaker:   breaker("content"),
	})
	return metadata, content
}

// runner resolves the workflow named by --workflow-name and binds it to the
// batch named by --batch-id.
func (a *app) runner() (*workflow.Runner, error) {
	wf, err := a.registry.Get(workflowName)
	if err != nil {
		return nil, err
	}
	b := workflow.NewBatch(wf.Name(), batchID, a.cfg.S3.SubmissionAssetsBucket, time.Now())
	return workflow.NewRunner(wf, b, a.s3, a.queue, a.store, workflow.RunnerOptions{
		InputQueue:     a.cfg.DSS.InputQueue,
		OutputQueue:    a.cfg.OutputQueue(),
		RetryThreshold: a.cfg.Workflow.RetryThreshold,
	}), nil
}

func (a *app) sender() *report.Sender {
	return report.NewSender(a.email, a.cfg.Email)
}
