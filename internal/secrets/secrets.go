// Package secrets resolves credentials that may be given inline or as the
// name of an SSM SecureString parameter.
package secrets

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/xerrors"
)

// ParameterGetter is the subset of the SSM API used here.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Resolver looks secrets up in SSM on demand. The client is only built the
// first time a parameter name is actually used.
type Resolver struct {
	client ParameterGetter
	newFn  func(ctx context.Context) (ParameterGetter, error)
}

func NewResolver() *Resolver {
	return &Resolver{newFn: defaultClient}
}

// NewResolverWithClient uses client for every lookup.
func NewResolverWithClient(client ParameterGetter) *Resolver {
	return &Resolver{client: client}
}

func defaultClient(ctx context.Context) (ParameterGetter, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, xerrors.Wrap(err, "load AWS config")
	}
	return ssm.NewFromConfig(awsCfg), nil
}

// Resolve returns value when set, otherwise the decrypted contents of the
// SSM parameter named param. Both empty yields "".
func (r *Resolver) Resolve(ctx context.Context, value, param string) (string, error) {
	if value != "" || param == "" {
		return value, nil
	}
	if r.client == nil {
		c, err := r.newFn(ctx)
		if err != nil {
			return "", err
		}
		r.client = c
	}

	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", param)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", param)
	}
	v := strings.TrimSpace(*out.Parameter.Value)
	if v == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", param)
	}
	return v, nil
}
