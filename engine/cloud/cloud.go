// Package cloud issues signed AWS query-API calls on behalf of task steps.
// The engine treats the cloud surface generically: any "aws_<product>_<Action>"
// step becomes one signed HTTP call, and the raw XML response flows back into
// task variables for the task author to pick apart.
package cloud

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/go-resty/resty/v2"
	"github.com/sethvargo/go-retry"

	"github.com/cloudsidekick/cato/pkg/config"
	"github.com/cloudsidekick/cato/pkg/logger"
)

// apiVersions pins the query-API version sent per product. Unlisted products
// fall through to a recent common default; the service rejects versions it
// does not support with a clear error.
var apiVersions = map[string]string{
	"ec2":                  "2016-11-15",
	"rds":                  "2014-10-31",
	"elasticloadbalancing": "2012-06-01",
	"monitoring":           "2010-08-01",
	"autoscaling":          "2011-01-01",
	"sqs":                  "2012-11-05",
	"sns":                  "2010-03-31",
	"iam":                  "2010-05-08",
	"sts":                  "2011-06-15",
}

const defaultAPIVersion = "2016-11-15"

const callAttempts = 5

// Caller signs and sends AWS query-API requests.
type Caller struct {
	cfg    *config.AWSConfig
	client *resty.Client
	signer *v4.Signer
}

func NewCaller(cfg *config.AWSConfig) *Caller {
	c := &Caller{
		cfg:    cfg,
		client: resty.New().SetTimeout(60 * time.Second),
		signer: v4.NewSigner(),
	}
	// Signing has to see the exact request that goes on the wire, so it rides
	// the hook that runs after resty has fully assembled it.
	c.client.SetPreRequestHook(c.sign)
	return c
}

func (c *Caller) sign(_ *resty.Client, req *http.Request) error {
	product := req.Header.Get("X-Cato-Product")
	req.Header.Del("X-Cato-Product")

	var payload []byte
	if req.Body != nil {
		body, err := req.GetBody()
		if err != nil {
			return fmt.Errorf("reading request body for signing: %w", err)
		}
		if payload, err = io.ReadAll(body); err != nil {
			return fmt.Errorf("reading request body for signing: %w", err)
		}
	}
	sum := sha256.Sum256(payload)
	creds := aws.Credentials{
		AccessKeyID:     c.cfg.AccessKeyID,
		SecretAccessKey: c.cfg.SecretAccessKey,
	}
	return c.signer.SignHTTP(req.Context(), creds, req, hex.EncodeToString(sum[:]),
		product, c.cfg.Region, time.Now().UTC())
}

// endpoint picks the service URL: an explicit endpoint override wins,
// otherwise the standard regional host for the product.
func (c *Caller) endpoint(product string) string {
	if c.cfg.Endpoint != "" {
		return c.cfg.Endpoint
	}
	return fmt.Sprintf("https://%s.%s.amazonaws.com/", product, c.cfg.Region)
}

// retryableAPIError matches the transient responses worth another attempt:
// eventual-consistency misses on just-created instances and throttled or
// briefly unavailable endpoints.
func retryableAPIError(status int, body string) bool {
	if status == http.StatusServiceUnavailable {
		return true
	}
	for _, code := range []string{"InvalidInstanceID.NotFound", "ServiceUnavailable", "Throttling", "RequestLimitExceeded"} {
		if strings.Contains(body, code) {
			return true
		}
	}
	return false
}

// incrementalBackoff waits one second more after each failed attempt.
func incrementalBackoff() retry.Backoff {
	var attempt int
	return retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt) * time.Second, false
	})
}

// Call issues one signed query-API action and returns the raw XML response
// body.
func (c *Caller) Call(ctx context.Context, product, action string, params map[string]string) (string, error) {
	if c.cfg.AccessKeyID == "" || c.cfg.SecretAccessKey == "" {
		return "", fmt.Errorf("no cloud credentials configured")
	}
	version, ok := apiVersions[product]
	if !ok {
		version = defaultAPIVersion
	}
	form := url.Values{}
	form.Set("Action", action)
	form.Set("Version", version)
	for k, v := range params {
		form.Set(k, v)
	}

	log := logger.FromContext(ctx)
	var body string
	err := retry.Do(ctx, retry.WithMaxRetries(callAttempts-1, incrementalBackoff()), func(ctx context.Context) error {
		resp, err := c.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/x-www-form-urlencoded; charset=utf-8").
			SetHeader("X-Cato-Product", product).
			SetBody(form.Encode()).
			Post(c.endpoint(product))
		if err != nil {
			return retry.RetryableError(fmt.Errorf("calling %s %s: %w", product, action, err))
		}
		body = resp.String()
		if resp.IsError() {
			err := fmt.Errorf("%s %s failed (%d): %s", product, action, resp.StatusCode(), apiErrorText(body))
			if retryableAPIError(resp.StatusCode(), body) {
				log.Warn("cloud call failed, retrying", "product", product, "action", action, "status", resp.StatusCode())
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return body, nil
}

// apiErrorText pulls the Code and Message out of an AWS error document, or
// returns a trimmed slice of the raw body when it is not parseable XML.
func apiErrorText(body string) string {
	doc, err := xmlquery.Parse(strings.NewReader(body))
	if err == nil {
		code := xmlquery.FindOne(doc, "//Code")
		msg := xmlquery.FindOne(doc, "//Message")
		if code != nil && msg != nil {
			return code.InnerText() + ": " + msg.InnerText()
		}
	}
	if len(body) > 500 {
		body = body[:500]
	}
	return strings.TrimSpace(body)
}
