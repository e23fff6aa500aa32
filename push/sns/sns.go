// Package sns delivers reminders through AWS SNS mobile push. A delivery token
// is either an endpoint ARN or a device token of the configured platform
// application.
package sns

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"notepush/logger"
	"notepush/model"
	"notepush/push"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	ProviderName  = "sns"
	defaultRegion = "ap-south-1"
)

type api interface {
	Publish(ctx context.Context, in *awssns.PublishInput, optFns ...func(*awssns.Options)) (*awssns.PublishOutput, error)
	CreatePlatformEndpoint(ctx context.Context, in *awssns.CreatePlatformEndpointInput, optFns ...func(*awssns.Options)) (*awssns.CreatePlatformEndpointOutput, error)
}

type Client struct {
	sns    api
	appArn string
	logger *zap.SugaredLogger

	// device token -> endpoint ARN
	endpoints sync.Map
}

func New(ctx context.Context, cfg push.Config, l *zap.SugaredLogger) (push.Client, error) {
	region := cfg.SNSRegion
	if region == "" {
		region = defaultRegion
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, errors.Wrap(err, "failed loading AWS configuration")
	}
	return newClient(awssns.NewFromConfig(awsCfg), cfg.SNSPlatformApplicationARN, logger.Named(l, ProviderName)), nil
}

func newClient(a api, appArn string, l *zap.SugaredLogger) *Client {
	return &Client{sns: a, appArn: appArn, logger: l}
}

func (c *Client) Send(ctx context.Context, token string, n model.Notification) (string, error) {
	token = strings.TrimSpace(token)
	arn, err := c.endpoint(ctx, token)
	if err != nil {
		return "", err
	}

	raw, err := payload(n)
	if err != nil {
		return "", push.Permanent("failed encoding message", err)
	}

	out, err := c.sns.Publish(ctx, &awssns.PublishInput{
		MessageStructure: aws.String("json"),
		Message:          aws.String(raw),
		TargetArn:        aws.String(arn),
	})
	if err != nil {
		err = classify(err)
		if push.IsPermanent(err) {
			// a later registration of the token gets a fresh endpoint
			c.endpoints.Delete(token)
		}
		return "", err
	}
	return aws.ToString(out.MessageId), nil
}

func (c *Client) endpoint(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", push.Permanent("empty token", nil)
	}
	if strings.HasPrefix(token, "arn:") {
		return token, nil
	}
	if arn, ok := c.endpoints.Load(token); ok {
		return arn.(string), nil
	}
	if c.appArn == "" {
		return "", push.Permanent("token isn't an endpoint ARN and no platform application is configured", nil)
	}

	// creating an endpoint for a known token returns the existing one
	out, err := c.sns.CreatePlatformEndpoint(ctx, &awssns.CreatePlatformEndpointInput{
		PlatformApplicationArn: aws.String(c.appArn),
		Token:                  aws.String(token),
	})
	if err != nil {
		return "", classify(err)
	}
	arn := aws.ToString(out.EndpointArn)
	c.endpoints.Store(token, arn)
	return arn, nil
}

func payload(n model.Notification) (string, error) {
	gcm, err := json.Marshal(map[string]any{
		"notification": map[string]string{
			"title": n.Title,
			"body":  n.Body,
		},
		"data": n.Data,
	})
	if err != nil {
		return "", err
	}
	apns, err := json.Marshal(map[string]any{
		"aps": map[string]any{
			"alert": map[string]string{
				"title": n.Title,
				"body":  n.Body,
			},
		},
		"data": n.Data,
	})
	if err != nil {
		return "", err
	}

	// SNS expects the per-platform messages as JSON strings
	msg, err := json.Marshal(map[string]string{
		"default": n.Body,
		"GCM":     string(gcm),
		"APNS":    string(apns),
	})
	if err != nil {
		return "", err
	}
	return string(msg), nil
}

func classify(err error) error {
	var (
		disabled  *types.EndpointDisabledException
		notFound  *types.NotFoundException
		invalid   *types.InvalidParameterException
		throttled *types.ThrottledException
	)
	switch {
	case errors.As(err, &disabled):
		return push.Permanent("endpoint disabled", err)
	case errors.As(err, &notFound):
		return push.Permanent("endpoint not found", err)
	case errors.As(err, &invalid) && badToken(invalid.ErrorMessage()):
		return push.Permanent("invalid token", err)
	case errors.As(err, &invalid):
		return push.Transient("invalid request", err)
	case errors.As(err, &throttled):
		return push.Throttled("sns throttled", err)
	default:
		return push.Transient("sns request failed", err)
	}
}

// badToken reports whether an InvalidParameter message blames the device token
// or the endpoint itself. Other parameters, such as the message, say nothing
// about the token.
func badToken(msg string) bool {
	if strings.Contains(msg, "already exists") {
		return false
	}
	return strings.Contains(msg, "Invalid parameter: Token") ||
		strings.Contains(msg, "Invalid parameter: TargetArn")
}

func init() {
	push.Register(ProviderName, New)
}
