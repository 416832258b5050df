// Package aurora collects RDS topology and CloudWatch metrics of registered instances.
package aurora

import (
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/cloudwatch/cloudwatchiface"
	"github.com/aws/aws-sdk-go/service/rds"
	"github.com/aws/aws-sdk-go/service/rds/rdsiface"
	arguments "github.com/newrelic/nri-mysql-collector/src/args"
)

// Clients hands out AWS API clients for a region.
type Clients interface {
	RDS(region string) (rdsiface.RDSAPI, error)
	CloudWatch(region string) (cloudwatchiface.CloudWatchAPI, error)
}

func GetAwsSession(args arguments.ArgumentList, region string) (*session.Session, error) {
	var creds *credentials.Credentials

	if args.AwsAccessKeyID != "" {
		creds = credentials.NewStaticCredentials(args.AwsAccessKeyID, args.AwsSecretAccessKey, "")
	}

	return session.NewSession(&aws.Config{
		Credentials:                   creds,
		CredentialsChainVerboseErrors: aws.Bool(true),
		Region:                        aws.String(region),
	})
}

// SessionClients builds one session per region and reuses it.
type SessionClients struct {
	args arguments.ArgumentList

	mu       sync.Mutex
	sessions map[string]*session.Session
}

func NewSessionClients(args arguments.ArgumentList) *SessionClients {
	return &SessionClients{args: args, sessions: make(map[string]*session.Session)}
}

func (c *SessionClients) session(region string) (*session.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sess, ok := c.sessions[region]; ok {
		return sess, nil
	}
	sess, err := GetAwsSession(c.args, region)
	if err != nil {
		return nil, err
	}
	c.sessions[region] = sess
	return sess, nil
}

func (c *SessionClients) RDS(region string) (rdsiface.RDSAPI, error) {
	sess, err := c.session(region)
	if err != nil {
		return nil, err
	}
	return rds.New(sess), nil
}

func (c *SessionClients) CloudWatch(region string) (cloudwatchiface.CloudWatchAPI, error) {
	sess, err := c.session(region)
	if err != nil {
		return nil, err
	}
	return cloudwatch.New(sess), nil
}
