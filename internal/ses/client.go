// Package ses is the Amazon SES v2 provider: per-recipient raw sends, the
// pre-flight account check and the account quota monitor.
package ses

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	appconfig "github.com/ignite/ses-bulk-sender/internal/config"
	"github.com/ignite/ses-bulk-sender/internal/domain"
	"github.com/ignite/ses-bulk-sender/internal/pkg/logger"
)

var (
	// ErrNotConfigured is returned when the region or source address is missing.
	ErrNotConfigured = errors.New("ses: region and source email must be configured")
	// ErrCredentials is returned when AWS rejects or cannot find credentials.
	ErrCredentials = errors.New("ses: invalid or missing AWS credentials")
	// ErrSendingDisabled is returned when the account has sending paused.
	ErrSendingDisabled = errors.New("ses: sending is disabled for this account")
)

var credentialCodes = map[string]bool{
	"UnrecognizedClientException": true,
	"InvalidClientTokenId":        true,
	"SignatureDoesNotMatch":       true,
	"AccessDeniedException":       true,
	"ExpiredToken":                true,
}

// API is the subset of the SES v2 client used by Client.
type API interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	GetAccount(ctx context.Context, in *sesv2.GetAccountInput, optFns ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error)
}

// Composer encodes the raw MIME message for one recipient.
type Composer interface {
	Compose(ctx context.Context, msg *domain.EmailMessage) ([]byte, error)
}

// SendError is a provider rejection. Error returns the provider's message.
type SendError struct {
	Code    string
	Message string
	Err     error
}

func (e *SendError) Error() string { return e.Message }
func (e *SendError) Unwrap() error { return e.Err }

// Client sends through SES v2. It satisfies the dispatcher's Sender and
// Verifier.
type Client struct {
	api       API
	composer  Composer
	from      string
	configSet string
	region    string
}

// NewClient creates an SES client. Static credentials are used when both
// keys are set, otherwise the default AWS chain.
func NewClient(ctx context.Context, cfg appconfig.SESConfig, from string, composer Composer) (*Client, error) {
	if cfg.Region == "" || cfg.SourceEmail == "" {
		return nil, ErrNotConfigured
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return NewClientWithAPI(sesv2.NewFromConfig(awsCfg), cfg, from, composer), nil
}

// sendOnce disables SDK retries for SendEmail. A retried send after a
// timeout or 5xx can deliver the same message twice; a failed call is the
// recipient's outcome. GetAccount keeps the default retryer.
func sendOnce(o *sesv2.Options) {
	o.Retryer = aws.NopRetryer{}
	o.RetryMaxAttempts = 0
}

// NewClientWithAPI wraps an existing API implementation.
func NewClientWithAPI(api API, cfg appconfig.SESConfig, from string, composer Composer) *Client {
	if from == "" {
		from = cfg.SourceEmail
	}
	return &Client{
		api:       api,
		composer:  composer,
		from:      from,
		configSet: cfg.ConfigurationSet,
		region:    cfg.Region,
	}
}

// Region returns the configured AWS region.
func (c *Client) Region() string { return c.region }

// Send delivers msg to its single recipient and returns the provider
// message ID.
func (c *Client) Send(ctx context.Context, msg *domain.EmailMessage) (string, error) {
	raw, err := c.composer.Compose(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("compose message: %w", err)
	}

	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(c.from),
		Destination:      &types.Destination{ToAddresses: []string{msg.Recipient}},
		Content:          &types.EmailContent{Raw: &types.RawMessage{Data: raw}},
	}
	if c.configSet != "" {
		in.ConfigurationSetName = aws.String(c.configSet)
	}

	out, err := c.api.SendEmail(ctx, in, sendOnce)
	if err != nil {
		return "", wrapAPIError(err)
	}
	return aws.ToString(out.MessageId), nil
}

// Verify checks that credentials are accepted and sending is enabled.
func (c *Client) Verify(ctx context.Context) error {
	out, err := c.api.GetAccount(ctx, &sesv2.GetAccountInput{})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && credentialCodes[apiErr.ErrorCode()] {
			return fmt.Errorf("%w: %s", ErrCredentials, apiErr.ErrorMessage())
		}
		if isCredentialLookupError(err) {
			return fmt.Errorf("%w: %v", ErrCredentials, err)
		}
		return fmt.Errorf("ses account check: %w", wrapAPIError(err))
	}

	if !out.SendingEnabled {
		return ErrSendingDisabled
	}
	if !out.ProductionAccessEnabled {
		logger.Warn("ses: account is in the sandbox, only verified recipients will receive mail", "region", c.region)
	}
	return nil
}

// Quota fetches the account's current sending quota.
func (c *Client) Quota(ctx context.Context) (*Quota, error) {
	out, err := c.api.GetAccount(ctx, &sesv2.GetAccountInput{})
	if err != nil {
		return nil, wrapAPIError(err)
	}
	q := &Quota{
		SendingEnabled: out.SendingEnabled,
		Production:     out.ProductionAccessEnabled,
	}
	if sq := out.SendQuota; sq != nil {
		q.Max24HourSend = sq.Max24HourSend
		q.MaxSendRate = sq.MaxSendRate
		q.SentLast24Hours = sq.SentLast24Hours
	}
	return q, nil
}

// wrapAPIError turns an SES error into a SendError carrying the provider's
// message.
func wrapAPIError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.ErrorMessage()
		if msg == "" {
			msg = apiErr.ErrorCode()
		}
		return &SendError{Code: apiErr.ErrorCode(), Message: msg, Err: err}
	}
	return err
}

// isCredentialLookupError matches the SDK's credential resolution failures,
// which carry no API error code.
func isCredentialLookupError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "retrieve credentials") || strings.Contains(msg, "refresh cached credentials")
}
