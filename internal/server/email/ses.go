package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SESAPI is the slice of the SES v2 client this package uses.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// newSESClientFromConfig is a seam for testing client construction.
var newSESClientFromConfig = func(cfg aws.Config) SESAPI {
	return sesv2.NewFromConfig(cfg)
}

// SESSender sends templated mail through Amazon SES v2.
type SESSender struct {
	client    SESAPI
	from      string
	configSet string
}

// NewSESSender builds a sender from a loaded AWS config.
func NewSESSender(cfg aws.Config, from, configSet string) *SESSender {
	return &SESSender{client: newSESClientFromConfig(cfg), from: from, configSet: configSet}
}

func (s *SESSender) SendTemplated(ctx context.Context, templateKey, recipient string, vars map[string]string) (string, error) {
	if s.from == "" || s.from == "noreply@example.com" {
		return "", fmt.Errorf("%w: sender address not configured", ErrMisconfigured)
	}
	if recipient == "" || !strings.Contains(recipient, "@") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecipient, recipient)
	}

	templateData, err := json.Marshal(vars)
	if err != nil {
		return "", fmt.Errorf("%w: template data: %v", ErrMisconfigured, err)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{recipient},
		},
		Content: &types.EmailContent{
			Template: &types.Template{
				TemplateName: aws.String(templateKey),
				TemplateData: aws.String(string(templateData)),
			},
		},
	}
	if s.configSet != "" {
		input.ConfigurationSetName = aws.String(s.configSet)
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", classifySESError(err)
	}

	return aws.ToString(out.MessageId), nil
}

// classifySESError maps SES failures into the package error kinds, keeping
// the backend code as wrapped detail.
func classifySESError(err error) error {
	var notFound *types.NotFoundException
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", ErrTemplateNotFound, err)
	}

	var rejected *types.MessageRejected
	var unverified *types.MailFromDomainNotVerifiedException
	var paused *types.SendingPausedException
	var suspended *types.AccountSuspendedException
	if errors.As(err, &rejected) || errors.As(err, &unverified) || errors.As(err, &paused) || errors.As(err, &suspended) {
		return fmt.Errorf("%w: %v", ErrDeliveryRejected, err)
	}

	var limit *types.LimitExceededException
	var tooMany *types.TooManyRequestsException
	if errors.As(err, &limit) || errors.As(err, &tooMany) {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}

	var bad *types.BadRequestException
	if errors.As(err, &bad) {
		return fmt.Errorf("%w: %v", ErrMisconfigured, err)
	}

	return fmt.Errorf("%w: %v", ErrDeliveryRejected, err)
}
