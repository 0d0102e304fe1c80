package aws

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// ProfileEnv selects the shared config profile for originator keys, ahead of AWS_PROFILE
const ProfileEnv = "METATX_AWS_PROFILE"

const serviceAccountTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"

// LoadAWSConfig loads credentials for the KMS key generator.
// Inside a pod the default chain (IRSA) is used; elsewhere a shared config profile.
func LoadAWSConfig(ctx context.Context, regionOverride string) (aws.Config, error) {
	var options []func(*config.LoadOptions) error

	if !isInKubernetes() {
		options = append(options, config.WithSharedConfigProfile(profileFromEnv(os.Getenv)))
	}

	if regionOverride != "" {
		options = append(options, config.WithRegion(regionOverride))
	}

	return config.LoadDefaultConfig(ctx, options...)
}

func isInKubernetes() bool {
	_, err := os.Stat(serviceAccountTokenPath)
	return err == nil
}

func profileFromEnv(getenv func(string) string) string {
	for _, key := range []string{ProfileEnv, "AWS_PROFILE"} {
		if profile := getenv(key); profile != "" {
			return profile
		}
	}
	return "default"
}

// GetCallerIdentity reports which principal the loaded credentials resolve to
func GetCallerIdentity(ctx context.Context, cfg aws.Config) (*sts.GetCallerIdentityOutput, error) {
	stsClient := sts.NewFromConfig(cfg)
	return stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
}
