package settings

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/keithlinneman/linnemanlabs-admin/internal/xerrors"
)

// ssmAPI is the subset of the SSM client used here.
type ssmAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSM reads each setting from the parameter {prefix}/{category}/{key}.
// SecureString parameters are decrypted.
type SSM struct {
	client ssmAPI
	prefix string
}

func NewSSM(client ssmAPI, prefix string) *SSM {
	return &SSM{client: client, prefix: strings.TrimRight(prefix, "/")}
}

func (s *SSM) name(category, key string) string {
	return s.prefix + "/" + category + "/" + key
}

func (s *SSM) GetSetting(ctx context.Context, category, key string) (string, bool, error) {
	name := s.name(category, key)
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var nf *ssmtypes.ParameterNotFound
		if errors.As(err, &nf) {
			return "", false, nil
		}
		return "", false, xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", false, nil
	}
	return *out.Parameter.Value, true, nil
}
